package negotiation

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventType names a domain event emitted after a committed transition.
type EventType string

const (
	EventOfferSubmitted EventType = "OfferSubmitted"
	EventOfferCountered EventType = "OfferCountered"
	EventOfferAccepted  EventType = "OfferAccepted"
	EventOfferRejected  EventType = "OfferRejected"
	EventOfferCancelled EventType = "OfferCancelled"
)

var eventByAction = map[Action]EventType{
	ActionOffer:   EventOfferSubmitted,
	ActionCounter: EventOfferCountered,
	ActionAccept:  EventOfferAccepted,
	ActionReject:  EventOfferRejected,
	ActionCancel:  EventOfferCancelled,
}

// Event describes a committed negotiation transition.
type Event struct {
	EventID       uuid.UUID `json:"event_id"`
	Type          EventType `json:"type"`
	NegotiationID uuid.UUID `json:"negotiation_id"`
	PropertyID    string    `json:"property_id"`
	BuyerID       string    `json:"buyer_id"`
	SellerID      string    `json:"seller_id"`
	Actor         string    `json:"actor"`
	ActorRole     Role      `json:"actor_role"`
	Amount        int64     `json:"amount"`
	Status        Status    `json:"status"`
	Version       int64     `json:"version"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// Recipient returns the party that did not cause the event.
func (e Event) Recipient() string {
	if e.ActorRole == RoleBuyer {
		return e.SellerID
	}
	return e.BuyerID
}

// NewEvent builds the event for a committed negotiation and its last entry.
func NewEvent(n *Negotiation, tx Transaction) Event {
	return Event{
		EventID:       uuid.New(),
		Type:          eventByAction[tx.Action],
		NegotiationID: n.NegotiationID,
		PropertyID:    n.PropertyID,
		BuyerID:       n.BuyerID,
		SellerID:      n.SellerID,
		Actor:         tx.MadeBy,
		ActorRole:     tx.MadeByRole,
		Amount:        tx.OfferAmount,
		Status:        n.Status,
		Version:       n.Version,
		OccurredAt:    tx.CreatedAt,
	}
}

// Publisher delivers domain events to external collaborators.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}
