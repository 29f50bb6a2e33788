package negotiation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/homemarket/negotiation-engine/internal/domain/listing"
	domain "github.com/homemarket/negotiation-engine/internal/domain/negotiation"
	"github.com/homemarket/negotiation-engine/internal/metrics"
	"github.com/homemarket/negotiation-engine/internal/policy"
)

// DefaultMaxAttempts bounds load-authorize-commit retries on write conflicts.
const DefaultMaxAttempts = 3

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// Service exposes the negotiation operations.
type Service struct {
	store       domain.Store
	listings    listing.Lookup
	publisher   domain.Publisher
	metrics     *metrics.Metrics
	logger      zerolog.Logger
	maxAttempts int
	policy      *policy.OfferPolicy

	now     func() time.Time
	newID   func() uuid.UUID
	newTxID func() string
}

// NewService creates a negotiation service. publisher and m may be nil.
func NewService(
	store domain.Store,
	listings listing.Lookup,
	publisher domain.Publisher,
	m *metrics.Metrics,
	logger zerolog.Logger,
	maxAttempts int,
) *Service {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Service{
		store:       store,
		listings:    listings,
		publisher:   publisher,
		metrics:     m,
		logger:      logger.With().Str("service", "negotiation").Logger(),
		maxAttempts: maxAttempts,
		now:         func() time.Time { return time.Now().UTC() },
		newID:       uuid.New,
		newTxID:     func() string { return ulid.Make().String() },
	}
}

// WithPolicy sets the expression every offer and counter must satisfy.
func (s *Service) WithPolicy(p *policy.OfferPolicy) *Service {
	s.policy = p
	return s
}

// SubmitOffer opens a negotiation with the buyer's first offer.
func (s *Service) SubmitOffer(ctx context.Context, propertyID, buyerID string, amount int64, meta domain.Metadata) (*domain.Negotiation, error) {
	action := string(domain.ActionOffer)
	if err := domain.ValidateAmount(amount); err != nil {
		s.metrics.ObserveTransition(action, domain.Code(err))
		return nil, err
	}
	l, err := s.listings.Get(ctx, propertyID)
	if err != nil {
		if errors.Is(err, listing.ErrNotFound) {
			err = fmt.Errorf("%w: property %s", domain.ErrNotFound, propertyID)
			s.metrics.ObserveTransition(action, domain.Code(err))
			return nil, err
		}
		return nil, fmt.Errorf("lookup listing: %w", err)
	}
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		active, err := s.store.FindActive(ctx, propertyID, buyerID)
		if err != nil {
			return nil, fmt.Errorf("find active negotiation: %w", err)
		}
		if err := domain.AuthorizeSubmit(active, buyerID, l.SellerID); err != nil {
			s.metrics.ObserveTransition(action, domain.Code(err))
			return nil, err
		}
		if err := s.checkPolicy(policy.Input{
			Action:    action,
			Role:      string(domain.RoleBuyer),
			Amount:    amount,
			ListPrice: l.ListPrice,
		}); err != nil {
			return nil, err
		}
		n, tx, err := domain.Open(domain.OpenCommand{
			NegotiationID: s.newID(),
			TransactionID: s.newTxID(),
			PropertyID:    propertyID,
			BuyerID:       buyerID,
			SellerID:      l.SellerID,
			Amount:        amount,
			Metadata:      meta,
			At:            s.now(),
		})
		if err != nil {
			s.metrics.ObserveTransition(action, domain.Code(err))
			return nil, err
		}
		committed, err := s.store.Commit(ctx, n, tx)
		if errors.Is(err, domain.ErrConflict) {
			s.onConflict(action, n.NegotiationID, attempt, err)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("commit negotiation: %w", err)
		}
		s.committed(ctx, committed, tx)
		return committed, nil
	}
	return nil, s.busy(action)
}

// CounterOffer replaces the amount on the table and hands the turn over.
func (s *Service) CounterOffer(ctx context.Context, negotiationID uuid.UUID, actorID string, amount int64) (*domain.Negotiation, error) {
	if err := domain.ValidateAmount(amount); err != nil {
		s.metrics.ObserveTransition(string(domain.ActionCounter), domain.Code(err))
		return nil, err
	}
	return s.transition(ctx, negotiationID, actorID, domain.ActionCounter, amount)
}

// Accept agrees to the amount on the table.
func (s *Service) Accept(ctx context.Context, negotiationID uuid.UUID, actorID string) (*domain.Negotiation, error) {
	return s.transition(ctx, negotiationID, actorID, domain.ActionAccept, 0)
}

// Reject declines the amount on the table and ends the negotiation.
func (s *Service) Reject(ctx context.Context, negotiationID uuid.UUID, actorID string) (*domain.Negotiation, error) {
	return s.transition(ctx, negotiationID, actorID, domain.ActionReject, 0)
}

// Cancel withdraws the actor's own outstanding offer.
func (s *Service) Cancel(ctx context.Context, negotiationID uuid.UUID, actorID string) (*domain.Negotiation, error) {
	return s.transition(ctx, negotiationID, actorID, domain.ActionCancel, 0)
}

// Apply dispatches one of the mutating actions by name.
func (s *Service) Apply(ctx context.Context, negotiationID uuid.UUID, actorID string, action domain.Action, amount int64) (*domain.Negotiation, error) {
	switch action {
	case domain.ActionCounter:
		return s.CounterOffer(ctx, negotiationID, actorID, amount)
	case domain.ActionAccept:
		return s.Accept(ctx, negotiationID, actorID)
	case domain.ActionReject:
		return s.Reject(ctx, negotiationID, actorID)
	case domain.ActionCancel:
		return s.Cancel(ctx, negotiationID, actorID)
	}
	return nil, fmt.Errorf("%w: %q", domain.ErrUnknownAction, action)
}

func (s *Service) transition(ctx context.Context, negotiationID uuid.UUID, actorID string, action domain.Action, amount int64) (*domain.Negotiation, error) {
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		n, err := s.store.Load(ctx, negotiationID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				s.metrics.ObserveTransition(string(action), domain.Code(err))
				return nil, err
			}
			return nil, fmt.Errorf("load negotiation: %w", err)
		}
		if err := domain.Authorize(n, actorID, action); err != nil {
			s.metrics.ObserveTransition(string(action), domain.Code(err))
			return nil, err
		}
		if action == domain.ActionCounter && s.policy != nil {
			if err := s.checkCounterPolicy(ctx, n, actorID, amount); err != nil {
				return nil, err
			}
		}
		next, tx, err := domain.Transition(n, domain.Command{
			Action:        action,
			ActorID:       actorID,
			Amount:        amount,
			TransactionID: s.newTxID(),
			At:            s.now(),
		})
		if err != nil {
			s.metrics.ObserveTransition(string(action), domain.Code(err))
			return nil, err
		}
		committed, err := s.store.Commit(ctx, next, tx)
		if errors.Is(err, domain.ErrConflict) {
			s.onConflict(string(action), negotiationID, attempt, err)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("commit negotiation: %w", err)
		}
		s.committed(ctx, committed, tx)
		return committed, nil
	}
	return nil, s.busy(string(action))
}

// Get returns one negotiation with its ledger. Only the two parties may read it.
func (s *Service) Get(ctx context.Context, negotiationID uuid.UUID, actorID string) (*domain.Negotiation, error) {
	n, err := s.store.Load(ctx, negotiationID)
	if err != nil {
		return nil, err
	}
	if _, ok := n.RoleOf(actorID); !ok {
		return nil, domain.ErrNotAParty
	}
	return n, nil
}

// ListForBuyer returns the buyer's negotiations, newest first.
func (s *Service) ListForBuyer(ctx context.Context, buyerID string, limit, offset int) ([]*domain.Negotiation, error) {
	limit, offset = clampPage(limit, offset)
	return s.store.ListByBuyer(ctx, buyerID, limit, offset)
}

// ListForSeller returns negotiations on the seller's listings, newest first.
func (s *Service) ListForSeller(ctx context.Context, sellerID string, limit, offset int) ([]*domain.Negotiation, error) {
	limit, offset = clampPage(limit, offset)
	return s.store.ListBySeller(ctx, sellerID, limit, offset)
}

func (s *Service) checkCounterPolicy(ctx context.Context, n *domain.Negotiation, actorID string, amount int64) error {
	var listPrice int64
	l, err := s.listings.Get(ctx, n.PropertyID)
	switch {
	case err == nil:
		listPrice = l.ListPrice
	case !errors.Is(err, listing.ErrNotFound):
		return fmt.Errorf("lookup listing: %w", err)
	}
	role, _ := n.RoleOf(actorID)
	return s.checkPolicy(policy.Input{
		Action:       string(domain.ActionCounter),
		Role:         string(role),
		Amount:       amount,
		ListPrice:    listPrice,
		CurrentOffer: n.CurrentOffer,
	})
}

func (s *Service) checkPolicy(in policy.Input) error {
	err := s.policy.Check(in)
	if errors.Is(err, policy.ErrViolation) {
		s.metrics.ObserveTransition(in.Action, "POLICY_VIOLATION")
	}
	return err
}

func (s *Service) committed(ctx context.Context, n *domain.Negotiation, tx domain.Transaction) {
	s.metrics.ObserveTransition(string(tx.Action), "")
	s.logger.Info().
		Str("negotiation_id", n.NegotiationID.String()).
		Str("action", string(tx.Action)).
		Str("actor", tx.MadeBy).
		Int64("amount", tx.OfferAmount).
		Str("status", string(n.Status)).
		Int64("version", n.Version).
		Msg("negotiation transition committed")

	if s.publisher == nil {
		return
	}
	event := domain.NewEvent(n, tx)
	if err := s.publisher.Publish(context.WithoutCancel(ctx), event); err != nil {
		s.metrics.ObservePublishFailure(string(event.Type))
		s.logger.Warn().Err(err).
			Str("negotiation_id", n.NegotiationID.String()).
			Str("event", string(event.Type)).
			Msg("event publish failed")
	}
}

func (s *Service) onConflict(action string, negotiationID uuid.UUID, attempt int, err error) {
	s.metrics.ObserveConflict(action)
	s.logger.Debug().Err(err).
		Str("negotiation_id", negotiationID.String()).
		Str("action", action).
		Int("attempt", attempt).
		Msg("commit conflict, reloading")
}

func (s *Service) busy(action string) error {
	s.metrics.ObserveBusy(action)
	s.metrics.ObserveTransition(action, domain.Code(domain.ErrBusy))
	return fmt.Errorf("%w: gave up after %d attempts", domain.ErrBusy, s.maxAttempts)
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
