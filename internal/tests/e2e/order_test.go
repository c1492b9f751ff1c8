//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/rigstore/apiserver/config"
	"github.com/rigstore/apiserver/internal/db"
	"github.com/rigstore/apiserver/internal/server"
	_ "github.com/lib/pq"
)

const (
	serverPort = 18080
)

func TestMain(m *testing.M) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	root, err := repoRoot()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to locate repo root: %v\n", err)
		os.Exit(1)
	}

	if err := dockerCompose(ctx, root, "up", "-d"); err != nil {
		fmt.Fprintf(os.Stderr, "failed to start docker compose: %v\n", err)
		os.Exit(1)
	}

	if err := waitForPostgres(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "postgres not ready: %v\n", err)
		_ = dockerCompose(context.Background(), root, "down")
		os.Exit(1)
	}

	if err := runMigrations(root); err != nil {
		fmt.Fprintf(os.Stderr, "failed to run migrations: %v\n", err)
		_ = dockerCompose(context.Background(), root, "down")
		os.Exit(1)
	}

	srv, err := startServer()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start server: %v\n", err)
		_ = dockerCompose(context.Background(), root, "down")
		os.Exit(1)
	}

	baseURL := fmt.Sprintf("http://localhost:%d", serverPort)
	if err := waitForHealth(ctx, baseURL+"/healthz"); err != nil {
		fmt.Fprintf(os.Stderr, "server not healthy: %v\n", err)
		_ = srv.Shutdown()
		_ = dockerCompose(context.Background(), root, "down")
		os.Exit(1)
	}

	code := m.Run()

	_ = srv.Shutdown()
	_ = dockerCompose(context.Background(), root, "down")
	os.Exit(code)
}

func TestOrderLifecycle(t *testing.T) {
	baseURL := fmt.Sprintf("http://localhost:%d", serverPort)
	nonce := time.Now().UnixNano()

	adminEmail := fmt.Sprintf("admin_%d@example.com", nonce)
	adminToken, err := registerUser(t, baseURL, "Shop Admin", adminEmail, "adminpass123!")
	if err != nil {
		t.Fatalf("register admin: %v", err)
	}
	if err := promoteUserToAdmin(adminEmail); err != nil {
		t.Fatalf("promote admin: %v", err)
	}
	// Re-login so the token carries the admin role.
	adminToken, err = loginUser(t, baseURL, adminEmail, "adminpass123!")
	if err != nil {
		t.Fatalf("login admin: %v", err)
	}

	listing, err := createListing(t, baseURL, adminToken, "Entry Level Gaming PC", 899.99)
	if err != nil {
		t.Fatalf("create listing: %v", err)
	}
	if listing.ID == 0 {
		t.Fatal("expected listing ID to be set")
	}

	buyerEmail := fmt.Sprintf("buyer_%d@example.com", nonce)
	buyerToken, err := registerUser(t, baseURL, "Jane Doe", buyerEmail, "buyerpass123!")
	if err != nil {
		t.Fatalf("register buyer: %v", err)
	}

	// Submit a deliberately inflated client price; the catalog price must
	// win end to end.
	order, err := placeOrder(t, baseURL, buyerToken, listing.ID, 999.99, 1, 999.99)
	if err != nil {
		t.Fatalf("place order: %v", err)
	}
	if order.Status != "pending" {
		t.Fatalf("unexpected status %q", order.Status)
	}
	if order.TotalAmount != 899.99 {
		t.Fatalf("expected catalog total 899.99, got %v", order.TotalAmount)
	}
	if len(order.Items) != 1 || order.Items[0].PricePerUnit != 899.99 {
		t.Fatalf("expected catalog unit price 899.99, got %+v", order.Items)
	}
	if order.Items[0].ListingName != "Entry Level Gaming PC" {
		t.Fatalf("expected listing name snapshot, got %q", order.Items[0].ListingName)
	}

	orders, err := listOrders(t, baseURL, buyerToken)
	if err != nil {
		t.Fatalf("list orders: %v", err)
	}
	if len(orders) != 1 || orders[0].ID != order.ID {
		t.Fatalf("expected 1 order owned by buyer, got %+v", orders)
	}

	// Another account must see nothing and must be unable to mutate.
	otherEmail := fmt.Sprintf("other_%d@example.com", nonce)
	otherToken, err := registerUser(t, baseURL, "Someone Else", otherEmail, "otherpass123!")
	if err != nil {
		t.Fatalf("register other: %v", err)
	}
	otherOrders, err := listOrders(t, baseURL, otherToken)
	if err != nil {
		t.Fatalf("list other orders: %v", err)
	}
	if len(otherOrders) != 0 {
		t.Fatalf("expected no orders for other account, got %d", len(otherOrders))
	}
	if status, _ := updateOrderStatus(t, baseURL, otherToken, order.ID, "cancelled"); status != http.StatusForbidden {
		t.Fatalf("expected 403 for non-owner status change, got %d", status)
	}
	if status := deleteOrder(t, baseURL, otherToken, order.ID); status != http.StatusForbidden {
		t.Fatalf("expected 403 for non-owner delete, got %d", status)
	}

	if status, err := updateOrderStatus(t, baseURL, buyerToken, order.ID, "shipped"); err != nil || status != http.StatusOK {
		t.Fatalf("owner status change: status %d, err %v", status, err)
	}
	orders, err = listOrders(t, baseURL, buyerToken)
	if err != nil {
		t.Fatalf("list orders: %v", err)
	}
	if orders[0].Status != "shipped" {
		t.Fatalf("expected shipped, got %q", orders[0].Status)
	}

	if status := deleteOrder(t, baseURL, buyerToken, order.ID); status != http.StatusNoContent {
		t.Fatalf("owner delete: expected 204, got %d", status)
	}
	orders, err = listOrders(t, baseURL, buyerToken)
	if err != nil {
		t.Fatalf("list orders after delete: %v", err)
	}
	if len(orders) != 0 {
		t.Fatalf("expected no orders after delete, got %d", len(orders))
	}
	if err := expectNoOrphanedItems(order.ID); err != nil {
		t.Fatalf("order items not cascaded: %v", err)
	}
}

func TestCatalogAdminGate(t *testing.T) {
	baseURL := fmt.Sprintf("http://localhost:%d", serverPort)
	nonce := time.Now().UnixNano()

	userEmail := fmt.Sprintf("shopper_%d@example.com", nonce)
	userToken, err := registerUser(t, baseURL, "Shopper", userEmail, "shopperpass123!")
	if err != nil {
		t.Fatalf("register shopper: %v", err)
	}

	status, err := tryCreateListing(baseURL, userToken, "Rogue Listing", 1.00)
	if err != nil {
		t.Fatalf("create listing request: %v", err)
	}
	if status != http.StatusForbidden {
		t.Fatalf("expected 403 for non-admin listing create, got %d", status)
	}

	status, err = tryCreateListing(baseURL, "", "Anonymous Listing", 1.00)
	if err != nil {
		t.Fatalf("create listing request: %v", err)
	}
	if status != http.StatusUnauthorized {
		t.Fatalf("expected 401 for anonymous listing create, got %d", status)
	}
}

type listingResponse struct {
	ID    int     `json:"id"`
	Name  string  `json:"name"`
	Price float64 `json:"price"`
}

type orderItemResponse struct {
	ID           int     `json:"id"`
	ListingID    int     `json:"listing_id"`
	ListingName  string  `json:"listing_name"`
	PricePerUnit float64 `json:"price_per_unit"`
	Quantity     int     `json:"quantity"`
	Subtotal     float64 `json:"subtotal"`
}

type orderResponse struct {
	ID          int                 `json:"id"`
	Status      string              `json:"status"`
	TotalAmount float64             `json:"total_amount"`
	Items       []orderItemResponse `json:"items"`
}

type authResponse struct {
	Token string `json:"token"`
}

func registerUser(t *testing.T, baseURL, name, email, password string) (string, error) {
	t.Helper()

	payload := map[string]string{
		"name":     name,
		"email":    email,
		"password": password,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequest(http.MethodPost, baseURL+"/auth/register", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		msg, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("register status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var parsed authResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", err
	}
	if parsed.Token == "" {
		return "", fmt.Errorf("missing token in register response")
	}
	return parsed.Token, nil
}

func loginUser(t *testing.T, baseURL, email, password string) (string, error) {
	t.Helper()

	payload := map[string]string{"email": email, "password": password}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	resp, err := http.Post(baseURL+"/auth/login", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("login status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var parsed authResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", err
	}
	return parsed.Token, nil
}

func promoteUserToAdmin(email string) error {
	cfg := config.LoadConfig()
	conn, err := sql.Open("postgres", db.DSN(cfg))
	if err != nil {
		return err
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err = conn.ExecContext(ctx, "UPDATE users SET role = 'admin', updated_at = NOW() WHERE email = $1", email)
	return err
}

func createListing(t *testing.T, baseURL, token, name string, price float64) (listingResponse, error) {
	t.Helper()

	payload := map[string]any{
		"name":        name,
		"description": "Ryzen 5 build with a midrange GPU.",
		"price":       price,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return listingResponse{}, err
	}

	req, err := http.NewRequest(http.MethodPost, baseURL+"/listings", bytes.NewReader(body))
	if err != nil {
		return listingResponse{}, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return listingResponse{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		msg, _ := io.ReadAll(resp.Body)
		return listingResponse{}, fmt.Errorf("create listing status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var parsed listingResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return listingResponse{}, err
	}
	return parsed, nil
}

func tryCreateListing(baseURL, token, name string, price float64) (int, error) {
	payload := map[string]any{"name": name, "price": price}
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequest(http.MethodPost, baseURL+"/listings", bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

func placeOrder(t *testing.T, baseURL, token string, listingID int, unitPrice float64, quantity int, total float64) (orderResponse, error) {
	t.Helper()

	payload := map[string]any{
		"recipient_name":   "Jane Doe",
		"delivery_address": "123 Main St",
		"phone_number":     "555-1234",
		"total_amount":     total,
		"items": []map[string]any{
			{"listing_id": listingID, "price_per_unit": unitPrice, "quantity": quantity},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return orderResponse{}, err
	}

	req, err := http.NewRequest(http.MethodPost, baseURL+"/orders", bytes.NewReader(body))
	if err != nil {
		return orderResponse{}, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return orderResponse{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		msg, _ := io.ReadAll(resp.Body)
		return orderResponse{}, fmt.Errorf("place order status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var parsed orderResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return orderResponse{}, err
	}
	return parsed, nil
}

func listOrders(t *testing.T, baseURL, token string) ([]orderResponse, error) {
	t.Helper()

	req, err := http.NewRequest(http.MethodGet, baseURL+"/orders", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("list orders status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var parsed []orderResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, err
	}
	return parsed, nil
}

func updateOrderStatus(t *testing.T, baseURL, token string, id int, status string) (int, error) {
	t.Helper()

	body, err := json.Marshal(map[string]string{"status": status})
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequest(http.MethodPatch, fmt.Sprintf("%s/orders/%d", baseURL, id), bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

func deleteOrder(t *testing.T, baseURL, token string, id int) int {
	t.Helper()

	req, err := http.NewRequest(http.MethodDelete, fmt.Sprintf("%s/orders/%d", baseURL, id), nil)
	if err != nil {
		t.Fatalf("build delete request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delete order: %v", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode
}

func expectNoOrphanedItems(orderID int) error {
	cfg := config.LoadConfig()
	conn, err := sql.Open("postgres", db.DSN(cfg))
	if err != nil {
		return err
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var count int
	if err := conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM order_items WHERE order_id = $1", orderID).Scan(&count); err != nil {
		return err
	}
	if count != 0 {
		return fmt.Errorf("found %d items for deleted order %d", count, orderID)
	}
	return nil
}

func waitForPostgres(ctx context.Context) error {
	cfg := config.LoadConfig()
	conn, err := sql.Open("postgres", db.DSN(cfg))
	if err != nil {
		return err
	}
	defer conn.Close()

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := conn.PingContext(pingCtx)
		cancel()
		if err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("postgres ping timeout: %w", err)
		case <-ticker.C:
		}
	}
}

func waitForHealth(ctx context.Context, url string) error {
	client := &http.Client{Timeout: 2 * time.Second}
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			if err != nil {
				return fmt.Errorf("health check failed: %w", err)
			}
			return fmt.Errorf("health check failed with status")
		case <-ticker.C:
		}
	}
}

func runMigrations(root string) error {
	cfg := config.LoadConfig()
	migrationsPath := filepath.Join(root, "internal", "db", "migrations")
	migrationsURL := "file://" + migrationsPath

	migrator, err := migrate.New(migrationsURL, db.DSN(cfg))
	if err != nil {
		return err
	}
	defer func() {
		_, _ = migrator.Close()
	}()

	if err := migrator.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}

func startServer() (*server.Server, error) {
	_ = os.Setenv("JWT_SECRET", "test-secret")
	_ = os.Setenv("SERVER_PORT", fmt.Sprintf("%d", serverPort))
	_ = os.Setenv("DB_HOST", "localhost")
	_ = os.Setenv("DB_PORT", "5432")
	_ = os.Setenv("DB_USER", "rigstore")
	_ = os.Setenv("DB_PASSWORD", "password")
	_ = os.Setenv("DB_NAME", "rigstore_db")
	_ = os.Setenv("DB_USE_SSL", "false")
	_ = os.Setenv("STORAGE_BACKEND", "")
	_ = os.Setenv("MQ_BACKEND", "")

	cfg := config.LoadConfig()
	srv, err := server.New(context.Background(), cfg)
	if err != nil {
		return nil, err
	}

	go func() {
		_ = srv.Start()
	}()

	return srv, nil
}

func dockerCompose(ctx context.Context, root string, args ...string) error {
	composeFile := filepath.Join(root, "development", "docker-compose.yml")
	baseArgs := append([]string{"compose", "-f", composeFile}, args...)
	cmd := exec.CommandContext(ctx, "docker", baseArgs...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

func repoRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("go.mod not found")
		}
		dir = parent
	}
}
