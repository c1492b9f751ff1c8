package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/rigstore/apiserver/types"
)

// ListingRepository handles persistence for catalog listings.
type ListingRepository struct {
	db *sql.DB
}

func NewListingRepository(db *sql.DB) *ListingRepository {
	return &ListingRepository{db: db}
}

func (r *ListingRepository) List(ctx context.Context, offset, limit int) ([]types.Listing, int, error) {
	if offset < 0 {
		offset = 0
	}
	if limit < 1 {
		limit = 20
	}

	const countQuery = `SELECT COUNT(1) FROM listings`
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery).Scan(&total); err != nil {
		return nil, 0, err
	}

	const listQuery = `
		SELECT id, name, description, price, image_key, specs, category, user_id, created_at, updated_at
		FROM listings
		ORDER BY id
		OFFSET $1 LIMIT $2`
	rows, err := r.db.QueryContext(ctx, listQuery, offset, limit)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	listings := make([]types.Listing, 0, limit)
	for rows.Next() {
		var listing types.Listing
		if err := rows.Scan(
			&listing.ID,
			&listing.Name,
			&listing.Description,
			&listing.Price,
			&listing.ImageKey,
			&listing.Specs,
			&listing.Category,
			&listing.UserID,
			&listing.CreatedAt,
			&listing.UpdatedAt,
		); err != nil {
			return nil, 0, err
		}
		listings = append(listings, listing)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	return listings, total, nil
}

func (r *ListingRepository) Get(ctx context.Context, id int) (types.Listing, error) {
	const query = `
		SELECT id, name, description, price, image_key, specs, category, user_id, created_at, updated_at
		FROM listings
		WHERE id = $1`
	var listing types.Listing
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&listing.ID,
		&listing.Name,
		&listing.Description,
		&listing.Price,
		&listing.ImageKey,
		&listing.Specs,
		&listing.Category,
		&listing.UserID,
		&listing.CreatedAt,
		&listing.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Listing{}, ErrNotFound
		}
		return types.Listing{}, err
	}
	return listing, nil
}

func (r *ListingRepository) Create(ctx context.Context, listing types.Listing) (types.Listing, error) {
	now := time.Now()
	listing.CreatedAt = now
	listing.UpdatedAt = now

	const query = `
		INSERT INTO listings (name, description, price, image_key, specs, category, user_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`
	if err := r.db.QueryRowContext(
		ctx,
		query,
		listing.Name,
		listing.Description,
		listing.Price,
		listing.ImageKey,
		listing.Specs,
		listing.Category,
		listing.UserID,
		listing.CreatedAt,
		listing.UpdatedAt,
	).Scan(&listing.ID); err != nil {
		return types.Listing{}, err
	}

	return listing, nil
}

// Update modifies a listing. The write is scoped to ownerID: updating a
// listing created by a different account reports ErrNotFound, matching
// how the shop has always gated catalog writes.
func (r *ListingRepository) Update(ctx context.Context, listing types.Listing, ownerID int) (types.Listing, error) {
	listing.UpdatedAt = time.Now()

	const query = `
		UPDATE listings
		SET name = $1,
			description = $2,
			price = $3,
			image_key = $4,
			specs = $5,
			category = $6,
			updated_at = $7
		WHERE id = $8 AND user_id = $9`
	result, err := r.db.ExecContext(
		ctx,
		query,
		listing.Name,
		listing.Description,
		listing.Price,
		listing.ImageKey,
		listing.Specs,
		listing.Category,
		listing.UpdatedAt,
		listing.ID,
		ownerID,
	)
	if err != nil {
		return types.Listing{}, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return types.Listing{}, err
	}
	if affected == 0 {
		return types.Listing{}, ErrNotFound
	}
	return listing, nil
}

// Delete removes a listing, scoped to ownerID like Update.
func (r *ListingRepository) Delete(ctx context.Context, id, ownerID int) error {
	const query = `DELETE FROM listings WHERE id = $1 AND user_id = $2`
	result, err := r.db.ExecContext(ctx, query, id, ownerID)
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

// SetImageKey records the object-storage key of a listing's uploaded image.
func (r *ListingRepository) SetImageKey(ctx context.Context, id int, key string) error {
	const query = `
		UPDATE listings
		SET image_key = $1,
			updated_at = $2
		WHERE id = $3`
	result, err := r.db.ExecContext(ctx, query, key, time.Now(), id)
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
