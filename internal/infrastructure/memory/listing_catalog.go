package memory

import (
	"context"
	"sync"

	"github.com/homemarket/negotiation-engine/internal/domain/listing"
)

// ListingCatalog is a static listing.Lookup, loaded from configuration.
type ListingCatalog struct {
	mu       sync.RWMutex
	listings map[string]listing.Listing
}

func NewListingCatalog(listings []listing.Listing) *ListingCatalog {
	c := &ListingCatalog{listings: make(map[string]listing.Listing, len(listings))}
	for _, l := range listings {
		c.listings[l.PropertyID] = l
	}
	return c
}

func (c *ListingCatalog) Get(_ context.Context, propertyID string) (*listing.Listing, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	l, ok := c.listings[propertyID]
	if !ok {
		return nil, listing.ErrNotFound
	}
	return &l, nil
}

// Put adds or replaces a listing.
func (c *ListingCatalog) Put(l listing.Listing) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listings[l.PropertyID] = l
}
