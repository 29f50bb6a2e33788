package negotiation

import (
	"time"

	"github.com/google/uuid"
)

// Status represents negotiation status.
type Status string

const (
	StatusActive    Status = "active"
	StatusAccepted  Status = "accepted"
	StatusRejected  Status = "rejected"
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether no further transitions are possible.
func (s Status) IsTerminal() bool {
	return s == StatusAccepted || s == StatusRejected || s == StatusCancelled
}

// Role identifies which side of the negotiation a party is on.
type Role string

const (
	RoleBuyer  Role = "buyer"
	RoleSeller Role = "seller"
)

// Other returns the counterparty role.
func (r Role) Other() Role {
	if r == RoleBuyer {
		return RoleSeller
	}
	return RoleBuyer
}

// Action is a state-changing operation recorded in the ledger.
type Action string

const (
	ActionOffer   Action = "offer"
	ActionCounter Action = "counter"
	ActionAccept  Action = "accept"
	ActionReject  Action = "reject"
	ActionCancel  Action = "cancel"
)

// Metadata is buyer-supplied context carried with the negotiation. It is
// never interpreted by the state machine.
type Metadata struct {
	BuyerStatus    string `json:"buyer_status,omitempty" yaml:"buyer_status,omitempty"`
	MoveInDate     string `json:"move_in_date,omitempty" yaml:"move_in_date,omitempty"`
	PaymentMethod  string `json:"payment_method,omitempty" yaml:"payment_method,omitempty"`
	MortgageStatus string `json:"mortgage_status,omitempty" yaml:"mortgage_status,omitempty"`
	Note           string `json:"note,omitempty" yaml:"note,omitempty"`
}

// Negotiation is one buyer/seller price negotiation over one property.
type Negotiation struct {
	NegotiationID        uuid.UUID     `json:"negotiation_id"`
	PropertyID           string        `json:"property_id"`
	BuyerID              string        `json:"buyer_id"`
	SellerID             string        `json:"seller_id"`
	Status               Status        `json:"status"`
	CurrentOffer         int64         `json:"current_offer"`
	LastOfferBy          Role          `json:"last_offer_by"`
	AwaitingResponseFrom *Role         `json:"awaiting_response_from"`
	Metadata             Metadata      `json:"metadata"`
	Version              int64         `json:"version"`
	CreatedAt            time.Time     `json:"created_at"`
	LastUpdated          time.Time     `json:"last_updated"`
	Transactions         []Transaction `json:"transactions"`
}

// Transaction is one append-only ledger entry.
type Transaction struct {
	TransactionID string    `json:"transaction_id"`
	NegotiationID uuid.UUID `json:"negotiation_id"`
	Seq           int       `json:"seq"`
	Action        Action    `json:"action"`
	OfferAmount   int64     `json:"offer_amount"`
	MadeBy        string    `json:"made_by"`
	MadeByRole    Role      `json:"made_by_role"`
	CreatedAt     time.Time `json:"created_at"`
}

// RoleOf returns the role the actor holds in this negotiation.
func (n *Negotiation) RoleOf(actorID string) (Role, bool) {
	switch actorID {
	case "":
		return "", false
	case n.BuyerID:
		return RoleBuyer, true
	case n.SellerID:
		return RoleSeller, true
	}
	return "", false
}

// PartyID returns the actor id holding the given role.
func (n *Negotiation) PartyID(role Role) string {
	if role == RoleBuyer {
		return n.BuyerID
	}
	return n.SellerID
}

// Recompute derives the denormalized fields from the ledger and status.
func (n *Negotiation) Recompute() {
	n.AwaitingResponseFrom = nil
	if len(n.Transactions) == 0 {
		return
	}
	last := n.Transactions[len(n.Transactions)-1]
	n.CurrentOffer = last.OfferAmount
	n.LastUpdated = last.CreatedAt
	for i := len(n.Transactions) - 1; i >= 0; i-- {
		tx := n.Transactions[i]
		if tx.Action == ActionOffer || tx.Action == ActionCounter {
			n.LastOfferBy = tx.MadeByRole
			break
		}
	}
	if n.Status == StatusActive {
		awaiting := n.LastOfferBy.Other()
		n.AwaitingResponseFrom = &awaiting
	}
}

// Clone returns a deep copy.
func (n *Negotiation) Clone() *Negotiation {
	if n == nil {
		return nil
	}
	c := *n
	if n.AwaitingResponseFrom != nil {
		awaiting := *n.AwaitingResponseFrom
		c.AwaitingResponseFrom = &awaiting
	}
	c.Transactions = append([]Transaction(nil), n.Transactions...)
	return &c
}

// ActiveKey identifies a (property, buyer) pair. A pair holds at most one
// active negotiation.
func ActiveKey(propertyID, buyerID string) string {
	return propertyID + "\x00" + buyerID
}
