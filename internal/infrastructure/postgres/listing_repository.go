package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/homemarket/negotiation-engine/internal/domain/listing"
)

// ListingRepository implements listing.Lookup over the listings table.
type ListingRepository struct {
	pool *pgxpool.Pool
}

func NewListingRepository(pool *pgxpool.Pool) *ListingRepository {
	return &ListingRepository{pool: pool}
}

func (r *ListingRepository) Get(ctx context.Context, propertyID string) (*listing.Listing, error) {
	var l listing.Listing
	err := r.pool.QueryRow(ctx, `
		SELECT property_id, seller_id, list_price FROM listings WHERE property_id=$1
	`, propertyID).Scan(&l.PropertyID, &l.SellerID, &l.ListPrice)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, listing.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// Upsert seeds or refreshes a listing, used to load the configured catalogue.
func (r *ListingRepository) Upsert(ctx context.Context, l listing.Listing) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO listings (property_id, seller_id, list_price)
		VALUES ($1,$2,$3)
		ON CONFLICT (property_id) DO UPDATE SET
			seller_id=EXCLUDED.seller_id,
			list_price=EXCLUDED.list_price
	`, l.PropertyID, l.SellerID, l.ListPrice)
	return err
}
