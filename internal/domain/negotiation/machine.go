package negotiation

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// OpenCommand carries the inputs for a buyer's first offer.
type OpenCommand struct {
	NegotiationID uuid.UUID
	TransactionID string
	PropertyID    string
	BuyerID       string
	SellerID      string
	Amount        int64
	Metadata      Metadata
	At            time.Time
}

// Command carries the inputs for a transition on an existing negotiation.
type Command struct {
	Action        Action
	ActorID       string
	Amount        int64
	TransactionID string
	At            time.Time
}

// Open creates a new active negotiation from the buyer's first offer. The
// caller is responsible for AuthorizeSubmit against the store.
func Open(cmd OpenCommand) (*Negotiation, Transaction, error) {
	if err := ValidateAmount(cmd.Amount); err != nil {
		return nil, Transaction{}, err
	}
	if cmd.PropertyID == "" || cmd.SellerID == "" {
		return nil, Transaction{}, fmt.Errorf("%w: property and seller are required", ErrNotFound)
	}
	if err := AuthorizeSubmit(nil, cmd.BuyerID, cmd.SellerID); err != nil {
		return nil, Transaction{}, err
	}
	at := cmd.At.UTC()
	n := &Negotiation{
		NegotiationID: cmd.NegotiationID,
		PropertyID:    cmd.PropertyID,
		BuyerID:       cmd.BuyerID,
		SellerID:      cmd.SellerID,
		Status:        StatusActive,
		Metadata:      cmd.Metadata,
		CreatedAt:     at,
	}
	tx := Transaction{
		TransactionID: cmd.TransactionID,
		NegotiationID: cmd.NegotiationID,
		Seq:           1,
		Action:        ActionOffer,
		OfferAmount:   cmd.Amount,
		MadeBy:        cmd.BuyerID,
		MadeByRole:    RoleBuyer,
		CreatedAt:     at,
	}
	n.Transactions = []Transaction{tx}
	n.Recompute()
	return n, tx, nil
}

// Transition applies cmd to n and returns the next negotiation and the
// ledger entry that records it. n is not modified.
func Transition(n *Negotiation, cmd Command) (*Negotiation, Transaction, error) {
	if cmd.Action == ActionCounter {
		if err := ValidateAmount(cmd.Amount); err != nil {
			return nil, Transaction{}, err
		}
	}
	if err := Authorize(n, cmd.ActorID, cmd.Action); err != nil {
		return nil, Transaction{}, err
	}
	role, _ := n.RoleOf(cmd.ActorID)

	next := n.Clone()
	amount := n.CurrentOffer
	switch cmd.Action {
	case ActionCounter:
		amount = cmd.Amount
	case ActionAccept:
		next.Status = StatusAccepted
	case ActionReject:
		next.Status = StatusRejected
	case ActionCancel:
		next.Status = StatusCancelled
	default:
		return nil, Transaction{}, fmt.Errorf("%w: %s", ErrUnknownAction, cmd.Action)
	}

	tx := Transaction{
		TransactionID: cmd.TransactionID,
		NegotiationID: n.NegotiationID,
		Seq:           len(n.Transactions) + 1,
		Action:        cmd.Action,
		OfferAmount:   amount,
		MadeBy:        cmd.ActorID,
		MadeByRole:    role,
		CreatedAt:     cmd.At.UTC(),
	}
	next.Transactions = append(next.Transactions, tx)
	next.Recompute()
	return next, tx, nil
}

// Apply appends tx to the stored negotiation. Stores use it to rebuild the
// committed record from the previously stored state so the ledger stays
// append-only regardless of what the writer sent.
func Apply(stored *Negotiation, next *Negotiation, tx Transaction) (*Negotiation, error) {
	if tx.Seq != len(stored.Transactions)+1 {
		return nil, fmt.Errorf("%w: ledger sequence %d does not follow %d", ErrConflict, tx.Seq, len(stored.Transactions))
	}
	out := stored.Clone()
	out.Status = next.Status
	out.Transactions = append(out.Transactions, tx)
	out.Version = stored.Version + 1
	out.Recompute()
	return out, nil
}
