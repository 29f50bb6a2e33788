package negotiation

import "fmt"

// AuthorizeSubmit checks whether buyerID may open a new negotiation with
// sellerID. active is the currently active negotiation for the pair, if any.
func AuthorizeSubmit(active *Negotiation, buyerID, sellerID string) error {
	if buyerID == "" {
		return ErrNotAParty
	}
	if buyerID == sellerID {
		return fmt.Errorf("%w: seller cannot make an offer on their own listing", ErrForbidden)
	}
	if active != nil {
		return fmt.Errorf("%w: %s", ErrActiveNegotiationExists, active.NegotiationID)
	}
	return nil
}

// Authorize checks whether actorID may perform action on n right now.
func Authorize(n *Negotiation, actorID string, action Action) error {
	role, ok := n.RoleOf(actorID)
	if !ok {
		return ErrNotAParty
	}
	if n.Status.IsTerminal() {
		return fmt.Errorf("%w: status is %s", ErrAlreadyFinalized, n.Status)
	}
	switch action {
	case ActionCounter, ActionAccept, ActionReject:
		if n.AwaitingResponseFrom == nil || *n.AwaitingResponseFrom != role {
			return fmt.Errorf("%w: waiting for the %s to respond", ErrForbidden, role.Other())
		}
	case ActionCancel:
		if n.LastOfferBy != role {
			return fmt.Errorf("%w: only the %s can withdraw the outstanding offer", ErrForbidden, n.LastOfferBy)
		}
	case ActionOffer:
		return fmt.Errorf("%w: negotiation already open, counter instead", ErrForbidden)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownAction, action)
	}
	return nil
}
