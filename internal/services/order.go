package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/rigstore/apiserver/types"
)

// totalTolerance is the absolute allowance, in currency units, between
// the client-submitted order total and the server-computed one before the
// skew is worth flagging. Either way the server-computed value is what
// gets persisted.
const totalTolerance = 0.01

// Channels order lifecycle events are published on.
const (
	OrderPlacedChannel        = "orders.placed"
	OrderStatusChangedChannel = "orders.status-changed"
)

// OrderRepository defines persistence operations for orders. The
// implementation must make CreateWithItems atomic: the header and every
// line item commit together or not at all.
type OrderRepository interface {
	CreateWithItems(ctx context.Context, order types.Order, items []types.OrderItem) (types.Order, error)
	Get(ctx context.Context, id int) (types.Order, error)
	ListByUser(ctx context.Context, userID int) ([]types.Order, error)
	UpdateStatus(ctx context.Context, id int, status string) error
	Delete(ctx context.Context, id int) error
}

// CatalogReader resolves listings to their authoritative catalog state.
type CatalogReader interface {
	Get(ctx context.Context, id int) (types.Listing, error)
}

// EventPublisher carries order lifecycle events to interested consumers.
// *mq.MQ satisfies it.
type EventPublisher interface {
	Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error)
}

// PlaceOrderInput is a checkout request as submitted by the client.
// Unit prices and the total are advisory only: the catalog price always
// wins for the persisted record.
type PlaceOrderInput struct {
	RecipientName   string           `json:"recipient_name"`
	DeliveryAddress string           `json:"delivery_address"`
	PhoneNumber     string           `json:"phone_number"`
	TotalAmount     float64          `json:"total_amount"`
	Items           []PlaceOrderItem `json:"items"`
}

// PlaceOrderItem is one requested line of a checkout.
type PlaceOrderItem struct {
	ListingID    int     `json:"listing_id"`
	PricePerUnit float64 `json:"price_per_unit"`
	Quantity     int     `json:"quantity"`
}

// OrderService implements the order placement and price integrity
// workflow.
type OrderService struct {
	repo    OrderRepository
	catalog CatalogReader
	events  EventPublisher
	logger  *log.Logger
}

// NewOrderService constructs the service. events may be nil (no broker
// configured); logger may be nil to use the process default.
func NewOrderService(repo OrderRepository, catalog CatalogReader, events EventPublisher, logger *log.Logger) *OrderService {
	if logger == nil {
		logger = log.Default()
	}
	return &OrderService{
		repo:    repo,
		catalog: catalog,
		events:  events,
		logger:  logger,
	}
}

// Place validates the request against the catalog, computes the
// authoritative total and persists the order header together with its
// snapshotted line items. Nothing is persisted on any failure.
func (s *OrderService) Place(ctx context.Context, identity types.Identity, input PlaceOrderInput) (types.Order, error) {
	if err := validatePlaceOrder(input); err != nil {
		return types.Order{}, err
	}

	items := make([]types.OrderItem, 0, len(input.Items))
	var total float64
	for _, requested := range input.Items {
		listing, err := s.catalog.Get(ctx, requested.ListingID)
		if err != nil {
			return types.Order{}, fmt.Errorf("listing %d: %w", requested.ListingID, err)
		}

		// Client-submitted prices are never trusted for the persisted
		// record; a divergence is corrected and flagged.
		unitPrice := listing.Price
		if requested.PricePerUnit != listing.Price {
			s.logger.Printf(
				"order: price mismatch for listing %d (client %.2f, catalog %.2f), using catalog price",
				listing.ID, requested.PricePerUnit, listing.Price,
			)
		}

		subtotal := unitPrice * float64(requested.Quantity)
		total += subtotal
		items = append(items, types.OrderItem{
			ListingID:       listing.ID,
			ListingName:     listing.Name,
			ListingImageKey: listing.ImageKey,
			PricePerUnit:    unitPrice,
			Quantity:        requested.Quantity,
			Subtotal:        subtotal,
		})
	}

	if math.Abs(total-input.TotalAmount) > totalTolerance {
		s.logger.Printf(
			"order: total mismatch for user %d (client %.2f, computed %.2f), using computed total",
			identity.UserID, input.TotalAmount, total,
		)
	}

	order := types.Order{
		UserID:          identity.UserID,
		RecipientName:   strings.TrimSpace(input.RecipientName),
		DeliveryAddress: strings.TrimSpace(input.DeliveryAddress),
		PhoneNumber:     strings.TrimSpace(input.PhoneNumber),
		TotalAmount:     total,
		Status:          types.OrderStatusPending,
	}

	created, err := s.repo.CreateWithItems(ctx, order, items)
	if err != nil {
		return types.Order{}, err
	}

	s.publish(ctx, OrderPlacedChannel, orderEvent{
		OrderID:     created.ID,
		UserID:      created.UserID,
		Status:      created.Status,
		TotalAmount: created.TotalAmount,
		OccurredAt:  time.Now(),
	})
	return created, nil
}

// List returns every order owned by the acting identity, newest first.
func (s *OrderService) List(ctx context.Context, identity types.Identity) ([]types.Order, error) {
	return s.repo.ListByUser(ctx, identity.UserID)
}

// UpdateStatus sets a new status on an order owned by the acting
// identity. Any non-empty status string is accepted; there is no
// transition state machine.
func (s *OrderService) UpdateStatus(ctx context.Context, identity types.Identity, orderID int, status string) error {
	status = strings.TrimSpace(status)
	if status == "" {
		return fmt.Errorf("%w: status is required", ErrValidation)
	}

	order, err := s.repo.Get(ctx, orderID)
	if err != nil {
		return err
	}
	if order.UserID != identity.UserID {
		return ErrForbidden
	}

	if err := s.repo.UpdateStatus(ctx, orderID, status); err != nil {
		return err
	}

	s.publish(ctx, OrderStatusChangedChannel, orderEvent{
		OrderID:     order.ID,
		UserID:      order.UserID,
		Status:      status,
		TotalAmount: order.TotalAmount,
		OccurredAt:  time.Now(),
	})
	return nil
}

// Delete removes an order owned by the acting identity together with all
// of its line items.
func (s *OrderService) Delete(ctx context.Context, identity types.Identity, orderID int) error {
	order, err := s.repo.Get(ctx, orderID)
	if err != nil {
		return err
	}
	if order.UserID != identity.UserID {
		return ErrForbidden
	}
	return s.repo.Delete(ctx, orderID)
}

func validatePlaceOrder(input PlaceOrderInput) error {
	if strings.TrimSpace(input.RecipientName) == "" {
		return fmt.Errorf("%w: recipient name is required", ErrValidation)
	}
	if strings.TrimSpace(input.DeliveryAddress) == "" {
		return fmt.Errorf("%w: delivery address is required", ErrValidation)
	}
	if strings.TrimSpace(input.PhoneNumber) == "" {
		return fmt.Errorf("%w: phone number is required", ErrValidation)
	}
	if len(input.Items) == 0 {
		return fmt.Errorf("%w: order has no items", ErrValidation)
	}
	for _, item := range input.Items {
		if item.ListingID < 1 {
			return fmt.Errorf("%w: invalid listing reference", ErrValidation)
		}
		if item.Quantity < 1 {
			return fmt.Errorf("%w: quantity must be positive", ErrValidation)
		}
	}
	return nil
}

// orderEvent is the payload published on order lifecycle channels.
type orderEvent struct {
	OrderID     int       `json:"order_id"`
	UserID      int       `json:"user_id"`
	Status      string    `json:"status"`
	TotalAmount float64   `json:"total_amount"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// publish emits an event on a best-effort basis. The order is already
// committed; a broker failure is logged, never surfaced to the caller.
func (s *OrderService) publish(ctx context.Context, channel string, event orderEvent) {
	if s.events == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		s.logger.Printf("order: marshal %s event: %v", channel, err)
		return
	}
	attrs := map[string]string{"order_id": strconv.Itoa(event.OrderID)}
	if _, err := s.events.Publish(ctx, channel, data, attrs); err != nil {
		s.logger.Printf("order: publish %s event: %v", channel, err)
	}
}
