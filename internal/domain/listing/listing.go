package listing

//go:generate go run go.uber.org/mock/mockgen -destination=mocks/mock_lookup.go -package=mocks . Lookup

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("listing not found")

// Listing is the subset of a property listing the negotiation engine needs.
type Listing struct {
	PropertyID string `json:"property_id" yaml:"property_id"`
	SellerID   string `json:"seller_id" yaml:"seller_id"`
	ListPrice  int64  `json:"list_price" yaml:"list_price"`
}

// Lookup resolves a property to its listing. Implementations return
// ErrNotFound when the property does not exist.
type Lookup interface {
	Get(ctx context.Context, propertyID string) (*Listing, error)
}
