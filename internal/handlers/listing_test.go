package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rigstore/apiserver/internal/services"
	"github.com/rigstore/apiserver/internal/store"
	"github.com/rigstore/apiserver/types"
)

// memListingRepo is an in-memory services.ListingRepository.
type memListingRepo struct {
	nextID   int
	listings map[int]types.Listing
}

func newMemListingRepo() *memListingRepo {
	return &memListingRepo{nextID: 1, listings: make(map[int]types.Listing)}
}

func (m *memListingRepo) List(ctx context.Context, offset, limit int) ([]types.Listing, int, error) {
	all := make([]types.Listing, 0, len(m.listings))
	for _, listing := range m.listings {
		all = append(all, listing)
	}
	total := len(all)
	if offset >= len(all) {
		return nil, total, nil
	}
	all = all[offset:]
	if len(all) > limit {
		all = all[:limit]
	}
	return all, total, nil
}

func (m *memListingRepo) Get(ctx context.Context, id int) (types.Listing, error) {
	listing, ok := m.listings[id]
	if !ok {
		return types.Listing{}, store.ErrNotFound
	}
	return listing, nil
}

func (m *memListingRepo) Create(ctx context.Context, listing types.Listing) (types.Listing, error) {
	listing.ID = m.nextID
	m.nextID++
	m.listings[listing.ID] = listing
	return listing, nil
}

func (m *memListingRepo) Update(ctx context.Context, listing types.Listing, ownerID int) (types.Listing, error) {
	stored, ok := m.listings[listing.ID]
	if !ok || stored.UserID == nil || *stored.UserID != ownerID {
		return types.Listing{}, store.ErrNotFound
	}
	listing.UserID = stored.UserID
	m.listings[listing.ID] = listing
	return listing, nil
}

func (m *memListingRepo) Delete(ctx context.Context, id, ownerID int) error {
	stored, ok := m.listings[id]
	if !ok || stored.UserID == nil || *stored.UserID != ownerID {
		return store.ErrNotFound
	}
	delete(m.listings, id)
	return nil
}

func (m *memListingRepo) SetImageKey(ctx context.Context, id int, key string) error {
	listing, ok := m.listings[id]
	if !ok {
		return store.ErrNotFound
	}
	listing.ImageKey = key
	m.listings[id] = listing
	return nil
}

func newListingTestRouter(repo *memListingRepo) chi.Router {
	catalogService := services.NewCatalogService(repo, nil)
	r := chi.NewRouter()
	r.Route("/listings", func(r chi.Router) {
		ListingRouter(r, catalogService, RequireAuth(testSecret))
	})
	return r
}

func roleToken(t *testing.T, userID int, role string) string {
	t.Helper()
	token, err := issueToken(types.User{ID: userID, Role: role}, []byte(testSecret), time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}

func TestCreateListingAdminGate(t *testing.T) {
	repo := newMemListingRepo()
	router := newListingTestRouter(repo)

	body := `{"name":"Entry Level Gaming PC","description":"Ryzen 5 build","price":899.99,"category":"gaming"}`

	// Anonymous.
	req := httptest.NewRequest(http.MethodPost, "/listings/", jsonBody(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous: expected 401, got %d", rec.Code)
	}

	// Regular shopper.
	req = httptest.NewRequest(http.MethodPost, "/listings/", jsonBody(body))
	req.Header.Set("Authorization", "Bearer "+roleToken(t, 1, types.RoleUser))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("shopper: expected 403, got %d", rec.Code)
	}
	if len(repo.listings) != 0 {
		t.Fatalf("expected nothing persisted, found %d listings", len(repo.listings))
	}

	// Admin.
	req = httptest.NewRequest(http.MethodPost, "/listings/", jsonBody(body))
	req.Header.Set("Authorization", "Bearer "+roleToken(t, 2, types.RoleAdmin))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("admin: expected 201, got %d: %s", rec.Code, rec.Body)
	}
	var created types.Listing
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode listing: %v", err)
	}
	if created.UserID == nil || *created.UserID != 2 {
		t.Fatalf("expected listing owned by creating admin, got %+v", created.UserID)
	}
}

func TestListingsArePublic(t *testing.T) {
	repo := newMemListingRepo()
	owner := 1
	if _, err := repo.Create(context.Background(), types.Listing{Name: "Entry Level Gaming PC", Price: 899.99, UserID: &owner}); err != nil {
		t.Fatalf("seed listing: %v", err)
	}
	router := newListingTestRouter(repo)

	req := httptest.NewRequest(http.MethodGet, "/listings/", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", rec.Code)
	}
	var list ListingListResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if list.Total != 1 || len(list.Items) != 1 {
		t.Fatalf("unexpected list payload: %+v", list)
	}
	if list.Page != 1 || list.Limit != 20 {
		t.Fatalf("unexpected pagination defaults: page %d limit %d", list.Page, list.Limit)
	}

	req = httptest.NewRequest(http.MethodGet, "/listings/1", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/listings/99", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("get missing: expected 404, got %d", rec.Code)
	}
}

func TestUpdateListingNotFoundForWrongOwner(t *testing.T) {
	repo := newMemListingRepo()
	owner := 1
	if _, err := repo.Create(context.Background(), types.Listing{Name: "Entry Level Gaming PC", Price: 899.99, UserID: &owner}); err != nil {
		t.Fatalf("seed listing: %v", err)
	}
	router := newListingTestRouter(repo)

	body := `{"name":"Entry Level Gaming PC","price":849.99}`
	req := httptest.NewRequest(http.MethodPut, "/listings/1", jsonBody(body))
	req.Header.Set("Authorization", "Bearer "+roleToken(t, 2, types.RoleAdmin))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("other admin: expected 404, got %d: %s", rec.Code, rec.Body)
	}

	req = httptest.NewRequest(http.MethodPut, "/listings/1", jsonBody(body))
	req.Header.Set("Authorization", "Bearer "+roleToken(t, 1, types.RoleAdmin))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("owner: expected 200, got %d: %s", rec.Code, rec.Body)
	}
	if repo.listings[1].Price != 849.99 {
		t.Fatalf("expected price updated, got %v", repo.listings[1].Price)
	}
}

func TestListingImageWithoutStorage(t *testing.T) {
	repo := newMemListingRepo()
	owner := 1
	if _, err := repo.Create(context.Background(), types.Listing{Name: "Entry Level Gaming PC", Price: 899.99, UserID: &owner}); err != nil {
		t.Fatalf("seed listing: %v", err)
	}
	router := newListingTestRouter(repo)

	req := httptest.NewRequest(http.MethodGet, "/listings/1/image", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without storage backend, got %d", rec.Code)
	}
}
