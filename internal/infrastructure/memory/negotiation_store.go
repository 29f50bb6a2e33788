package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/homemarket/negotiation-engine/internal/domain/negotiation"
)

// NegotiationStore is an in-process negotiation.Store. It is also the
// deterministic state behind the raft-replicated store.
type NegotiationStore struct {
	mu           sync.RWMutex
	negotiations map[uuid.UUID]*negotiation.Negotiation
	active       map[string]uuid.UUID
}

func NewNegotiationStore() *NegotiationStore {
	return &NegotiationStore{
		negotiations: make(map[uuid.UUID]*negotiation.Negotiation),
		active:       make(map[string]uuid.UUID),
	}
}

func (s *NegotiationStore) Load(_ context.Context, negotiationID uuid.UUID) (*negotiation.Negotiation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.negotiations[negotiationID]
	if !ok {
		return nil, negotiation.ErrNotFound
	}
	return n.Clone(), nil
}

func (s *NegotiationStore) FindActive(_ context.Context, propertyID, buyerID string) (*negotiation.Negotiation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.active[negotiation.ActiveKey(propertyID, buyerID)]
	if !ok {
		return nil, nil
	}
	return s.negotiations[id].Clone(), nil
}

func (s *NegotiationStore) Commit(_ context.Context, next *negotiation.Negotiation, tx negotiation.Transaction) (*negotiation.Negotiation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commitLocked(next, tx)
}

func (s *NegotiationStore) commitLocked(next *negotiation.Negotiation, tx negotiation.Transaction) (*negotiation.Negotiation, error) {
	key := negotiation.ActiveKey(next.PropertyID, next.BuyerID)
	if next.Version == 0 {
		if _, exists := s.negotiations[next.NegotiationID]; exists {
			return nil, fmt.Errorf("%w: negotiation %s already exists", negotiation.ErrConflict, next.NegotiationID)
		}
		if _, exists := s.active[key]; exists {
			return nil, fmt.Errorf("%w: %v", negotiation.ErrConflict, negotiation.ErrActiveNegotiationExists)
		}
		if tx.Seq != 1 {
			return nil, fmt.Errorf("%w: first ledger entry must have seq 1", negotiation.ErrConflict)
		}
		stored := next.Clone()
		stored.Transactions = []negotiation.Transaction{tx}
		stored.Version = 1
		stored.Recompute()
		s.negotiations[stored.NegotiationID] = stored
		if stored.Status == negotiation.StatusActive {
			s.active[key] = stored.NegotiationID
		}
		return stored.Clone(), nil
	}

	stored, ok := s.negotiations[next.NegotiationID]
	if !ok {
		return nil, negotiation.ErrNotFound
	}
	if stored.Version != next.Version {
		return nil, fmt.Errorf("%w: expected version %d, stored %d", negotiation.ErrConflict, next.Version, stored.Version)
	}
	committed, err := negotiation.Apply(stored, next, tx)
	if err != nil {
		return nil, err
	}
	s.negotiations[committed.NegotiationID] = committed
	if committed.Status != negotiation.StatusActive && s.active[key] == committed.NegotiationID {
		delete(s.active, key)
	}
	return committed.Clone(), nil
}

func (s *NegotiationStore) ListByBuyer(_ context.Context, buyerID string, limit, offset int) ([]*negotiation.Negotiation, error) {
	return s.list(func(n *negotiation.Negotiation) bool { return n.BuyerID == buyerID }, limit, offset), nil
}

func (s *NegotiationStore) ListBySeller(_ context.Context, sellerID string, limit, offset int) ([]*negotiation.Negotiation, error) {
	return s.list(func(n *negotiation.Negotiation) bool { return n.SellerID == sellerID }, limit, offset), nil
}

func (s *NegotiationStore) list(match func(*negotiation.Negotiation) bool, limit, offset int) []*negotiation.Negotiation {
	s.mu.RLock()
	out := make([]*negotiation.Negotiation, 0)
	for _, n := range s.negotiations {
		if match(n) {
			out = append(out, n.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].NegotiationID.String() > out[j].NegotiationID.String()
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if offset >= len(out) {
		return []*negotiation.Negotiation{}
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out
}

type snapshot struct {
	Negotiations []*negotiation.Negotiation `json:"negotiations"`
}

// Marshal serializes the store contents.
func (s *NegotiationStore) Marshal() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := snapshot{Negotiations: make([]*negotiation.Negotiation, 0, len(s.negotiations))}
	for _, n := range s.negotiations {
		snap.Negotiations = append(snap.Negotiations, n)
	}
	sort.Slice(snap.Negotiations, func(i, j int) bool {
		return snap.Negotiations[i].NegotiationID.String() < snap.Negotiations[j].NegotiationID.String()
	})
	return json.Marshal(snap)
}

// Unmarshal replaces the store contents and rebuilds the active index.
func (s *NegotiationStore) Unmarshal(data []byte) error {
	if len(data) == 0 {
		return errors.New("empty snapshot")
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return err
	}
	negotiations := make(map[uuid.UUID]*negotiation.Negotiation, len(snap.Negotiations))
	active := make(map[string]uuid.UUID)
	for _, n := range snap.Negotiations {
		n.Recompute()
		negotiations[n.NegotiationID] = n
		if n.Status == negotiation.StatusActive {
			active[negotiation.ActiveKey(n.PropertyID, n.BuyerID)] = n.NegotiationID
		}
	}
	s.mu.Lock()
	s.negotiations = negotiations
	s.active = active
	s.mu.Unlock()
	return nil
}
