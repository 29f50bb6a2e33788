package negotiation

import "errors"

var (
	ErrInvalidAmount           = errors.New("offer amount must be a positive whole number")
	ErrNotAParty               = errors.New("actor is not a party to this negotiation")
	ErrForbidden               = errors.New("action not permitted for this actor at this point")
	ErrAlreadyFinalized        = errors.New("negotiation already finalized")
	ErrNotFound                = errors.New("negotiation not found")
	ErrConflict                = errors.New("negotiation was modified concurrently")
	ErrBusy                    = errors.New("negotiation is busy, retry later")
	ErrActiveNegotiationExists = errors.New("an active negotiation already exists for this property")
	ErrUnknownAction           = errors.New("unknown negotiation action")
)

// Code returns the machine-readable code for err, or "" when err is not one
// of the negotiation errors.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidAmount):
		return "INVALID_AMOUNT"
	case errors.Is(err, ErrNotAParty):
		return "NOT_A_PARTY"
	case errors.Is(err, ErrAlreadyFinalized):
		return "ALREADY_FINALIZED"
	case errors.Is(err, ErrActiveNegotiationExists):
		return "ACTIVE_NEGOTIATION_EXISTS"
	case errors.Is(err, ErrForbidden):
		return "FORBIDDEN"
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrBusy):
		return "BUSY"
	case errors.Is(err, ErrConflict):
		return "CONFLICT"
	case errors.Is(err, ErrUnknownAction):
		return "INVALID_PARAM"
	}
	return ""
}

// Retryable reports whether the caller may retry the same request later.
func Retryable(err error) bool {
	return errors.Is(err, ErrConflict) || errors.Is(err, ErrBusy)
}
