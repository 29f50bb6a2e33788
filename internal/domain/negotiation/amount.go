package negotiation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

var maxAmount = decimal.NewFromInt(math.MaxInt64)

// maxExponent bounds the decimal exponent accepted before rounding. Rescaling
// a value such as 1e2000000000 to whole units allocates a number with that
// many digits.
const maxExponent = 18

// ValidateAmount checks an already-normalized amount.
func ValidateAmount(amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

// ParseAmount parses a decimal string and rounds it to the nearest whole
// currency unit.
func ParseAmount(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrInvalidAmount
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a number", ErrInvalidAmount, s)
	}
	return NormalizeAmount(d)
}

func exponentInRange(d decimal.Decimal) bool {
	exp := d.Exponent()
	return exp >= -maxExponent && exp <= maxExponent
}

// NormalizeAmount rounds d half away from zero and validates the result.
func NormalizeAmount(d decimal.Decimal) (int64, error) {
	if !exponentInRange(d) {
		return 0, ErrInvalidAmount
	}
	rounded := d.Round(0)
	if !rounded.IsPositive() || rounded.GreaterThan(maxAmount) {
		return 0, ErrInvalidAmount
	}
	return rounded.IntPart(), nil
}

// ParseAmountJSON accepts a JSON number or a JSON string holding a number.
func ParseAmountJSON(raw json.RawMessage) (int64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, ErrInvalidAmount
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, ErrInvalidAmount
		}
		return ParseAmount(s)
	}
	return ParseAmount(string(raw))
}
