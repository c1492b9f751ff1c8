package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/rigstore/apiserver/internal/storage"
	"github.com/rigstore/apiserver/types"
)

// ListingRepository defines persistence operations for catalog listings.
//
// Update and Delete are scoped to the stored owner id: a write attempted
// by a different account behaves like the listing does not exist. This
// mirrors the way catalog writes have always been gated, admin role or
// not; see DESIGN.md for the known limitation.
type ListingRepository interface {
	List(ctx context.Context, offset, limit int) ([]types.Listing, int, error)
	Get(ctx context.Context, id int) (types.Listing, error)
	Create(ctx context.Context, listing types.Listing) (types.Listing, error)
	Update(ctx context.Context, listing types.Listing, ownerID int) (types.Listing, error)
	Delete(ctx context.Context, id, ownerID int) error
	SetImageKey(ctx context.Context, id int, key string) error
}

// ErrNoImage is returned when a listing has no uploaded image.
var ErrNoImage = errors.New("listing has no image")

// ErrStorageDisabled is returned for image operations when no object
// storage backend is configured.
var ErrStorageDisabled = errors.New("image storage is not configured")

// CatalogService encapsulates listing use-cases, including image blobs
// held in object storage.
type CatalogService struct {
	repo    ListingRepository
	storage *storage.Storage
}

// NewCatalogService constructs the service. storage may be nil, in which
// case image upload and download are rejected with ErrStorageDisabled.
func NewCatalogService(repo ListingRepository, storage *storage.Storage) *CatalogService {
	return &CatalogService{repo: repo, storage: storage}
}

func (s *CatalogService) List(ctx context.Context, offset, limit int) ([]types.Listing, int, error) {
	if limit <= 0 {
		limit = 10
	}
	if limit > 100 {
		limit = 100
	}
	return s.repo.List(ctx, offset, limit)
}

func (s *CatalogService) Get(ctx context.Context, id int) (types.Listing, error) {
	return s.repo.Get(ctx, id)
}

func (s *CatalogService) Create(ctx context.Context, listing types.Listing) (types.Listing, error) {
	if err := validateListing(listing); err != nil {
		return types.Listing{}, err
	}
	return s.repo.Create(ctx, listing)
}

func (s *CatalogService) Update(ctx context.Context, listing types.Listing, ownerID int) (types.Listing, error) {
	if err := validateListing(listing); err != nil {
		return types.Listing{}, err
	}
	return s.repo.Update(ctx, listing, ownerID)
}

func (s *CatalogService) Delete(ctx context.Context, id, ownerID int) error {
	return s.repo.Delete(ctx, id, ownerID)
}

// UploadImage stores an image blob for the listing and records its object
// key. A previously uploaded image is removed from storage afterwards.
func (s *CatalogService) UploadImage(ctx context.Context, listingID int, filename, contentType string, data []byte) (string, error) {
	if s.storage == nil {
		return "", ErrStorageDisabled
	}
	if len(data) == 0 {
		return "", fmt.Errorf("%w: empty image upload", ErrValidation)
	}

	listing, err := s.repo.Get(ctx, listingID)
	if err != nil {
		return "", err
	}

	key := imageObjectKey(listingID, filename)
	if err := s.storage.Put(ctx, key, bytes.NewReader(data), int64(len(data)), contentType); err != nil {
		return "", err
	}
	if err := s.repo.SetImageKey(ctx, listingID, key); err != nil {
		_ = s.storage.Delete(ctx, key)
		return "", err
	}

	if listing.ImageKey != "" && listing.ImageKey != key {
		_ = s.storage.Delete(ctx, listing.ImageKey)
	}
	return key, nil
}

// OpenImage opens a reader for the listing's stored image.
func (s *CatalogService) OpenImage(ctx context.Context, listingID int) (io.ReadCloser, error) {
	if s.storage == nil {
		return nil, ErrStorageDisabled
	}

	listing, err := s.repo.Get(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(listing.ImageKey) == "" {
		return nil, ErrNoImage
	}
	return s.storage.Get(ctx, listing.ImageKey)
}

func validateListing(listing types.Listing) error {
	if strings.TrimSpace(listing.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrValidation)
	}
	if listing.Price < 0 {
		return fmt.Errorf("%w: price must not be negative", ErrValidation)
	}
	return nil
}

func imageObjectKey(listingID int, filename string) string {
	ext := strings.ToLower(path.Ext(filename))
	return fmt.Sprintf("listings/%d/%s%s", listingID, uuid.NewString(), ext)
}
