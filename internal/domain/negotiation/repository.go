package negotiation

//go:generate go run go.uber.org/mock/mockgen -destination=mocks/mock_store.go -package=mocks . Store,Publisher

import (
	"context"

	"github.com/google/uuid"
)

// Store persists negotiations and their ledgers.
//
// Commit inserts when next.Version is zero and otherwise performs a
// compare-and-set against the stored version. Both paths fail with
// ErrConflict instead of overwriting: a version mismatch, a ledger sequence
// gap, or a second active negotiation for the same property and buyer.
type Store interface {
	Load(ctx context.Context, negotiationID uuid.UUID) (*Negotiation, error)
	FindActive(ctx context.Context, propertyID, buyerID string) (*Negotiation, error)
	Commit(ctx context.Context, next *Negotiation, tx Transaction) (*Negotiation, error)
	ListByBuyer(ctx context.Context, buyerID string, limit, offset int) ([]*Negotiation, error)
	ListBySeller(ctx context.Context, sellerID string, limit, offset int) ([]*Negotiation, error)
}
