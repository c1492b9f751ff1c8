package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"
	"github.com/rigstore/apiserver/types"
)

// OrderRepository handles persistence for orders and their line items.
type OrderRepository struct {
	db *sql.DB
}

func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// CreateWithItems persists an order header and all of its line items in a
// single READ COMMITTED transaction. The header and the items either all
// commit or none do; a failure on any insert rolls the whole order back.
func (r *OrderRepository) CreateWithItems(ctx context.Context, order types.Order, items []types.OrderItem) (types.Order, error) {
	order.CreatedAt = time.Now()

	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return types.Order{}, err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	const headerQuery = `
		INSERT INTO orders (user_id, recipient_name, delivery_address, phone_number, total_amount, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`
	if err := tx.QueryRowContext(
		ctx,
		headerQuery,
		order.UserID,
		order.RecipientName,
		order.DeliveryAddress,
		order.PhoneNumber,
		order.TotalAmount,
		order.Status,
		order.CreatedAt,
	).Scan(&order.ID); err != nil {
		return types.Order{}, err
	}

	const itemQuery = `
		INSERT INTO order_items (order_id, listing_id, listing_name, listing_image_key, price_per_unit, quantity, subtotal)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`
	for i := range items {
		items[i].OrderID = order.ID
		if err := tx.QueryRowContext(
			ctx,
			itemQuery,
			items[i].OrderID,
			items[i].ListingID,
			items[i].ListingName,
			items[i].ListingImageKey,
			items[i].PricePerUnit,
			items[i].Quantity,
			items[i].Subtotal,
		).Scan(&items[i].ID); err != nil {
			return types.Order{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return types.Order{}, err
	}

	order.Items = items
	return order, nil
}

func (r *OrderRepository) Get(ctx context.Context, id int) (types.Order, error) {
	const query = `
		SELECT id, user_id, recipient_name, delivery_address, phone_number, total_amount, status, created_at
		FROM orders
		WHERE id = $1`
	var order types.Order
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&order.ID,
		&order.UserID,
		&order.RecipientName,
		&order.DeliveryAddress,
		&order.PhoneNumber,
		&order.TotalAmount,
		&order.Status,
		&order.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Order{}, ErrNotFound
		}
		return types.Order{}, err
	}

	itemsByOrder, err := r.itemsForOrders(ctx, []int{order.ID})
	if err != nil {
		return types.Order{}, err
	}
	order.Items = itemsByOrder[order.ID]
	return order, nil
}

// ListByUser returns every order owned by userID, items included, most
// recent first.
func (r *OrderRepository) ListByUser(ctx context.Context, userID int) ([]types.Order, error) {
	const query = `
		SELECT id, user_id, recipient_name, delivery_address, phone_number, total_amount, status, created_at
		FROM orders
		WHERE user_id = $1
		ORDER BY created_at DESC`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders := make([]types.Order, 0)
	ids := make([]int, 0)
	for rows.Next() {
		var order types.Order
		if err := rows.Scan(
			&order.ID,
			&order.UserID,
			&order.RecipientName,
			&order.DeliveryAddress,
			&order.PhoneNumber,
			&order.TotalAmount,
			&order.Status,
			&order.CreatedAt,
		); err != nil {
			return nil, err
		}
		orders = append(orders, order)
		ids = append(ids, order.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return orders, nil
	}

	itemsByOrder, err := r.itemsForOrders(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		orders[i].Items = itemsByOrder[orders[i].ID]
	}
	return orders, nil
}

func (r *OrderRepository) UpdateStatus(ctx context.Context, id int, status string) error {
	const query = `UPDATE orders SET status = $1 WHERE id = $2`
	result, err := r.db.ExecContext(ctx, query, status, id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes an order header. Line items go with it through the
// ON DELETE CASCADE constraint on order_items.order_id.
func (r *OrderRepository) Delete(ctx context.Context, id int) error {
	const query = `DELETE FROM orders WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *OrderRepository) itemsForOrders(ctx context.Context, orderIDs []int) (map[int][]types.OrderItem, error) {
	const query = `
		SELECT id, order_id, listing_id, listing_name, listing_image_key, price_per_unit, quantity, subtotal
		FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY id`
	rows, err := r.db.QueryContext(ctx, query, pq.Array(orderIDs))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	itemsByOrder := make(map[int][]types.OrderItem, len(orderIDs))
	for rows.Next() {
		var item types.OrderItem
		if err := rows.Scan(
			&item.ID,
			&item.OrderID,
			&item.ListingID,
			&item.ListingName,
			&item.ListingImageKey,
			&item.PricePerUnit,
			&item.Quantity,
			&item.Subtotal,
		); err != nil {
			return nil, err
		}
		itemsByOrder[item.OrderID] = append(itemsByOrder[item.OrderID], item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return itemsByOrder, nil
}
