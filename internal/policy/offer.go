package policy

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Knetic/govaluate"
)

// ErrViolation is returned when an offer does not satisfy the configured policy.
var ErrViolation = errors.New("offer rejected by policy")

// Input is the set of parameters an offer policy expression can reference.
type Input struct {
	Action       string
	Role         string
	Amount       int64
	ListPrice    int64
	CurrentOffer int64
}

func (in Input) params() map[string]interface{} {
	return map[string]interface{}{
		"action":        in.Action,
		"role":          in.Role,
		"amount":        float64(in.Amount),
		"list_price":    float64(in.ListPrice),
		"current_offer": float64(in.CurrentOffer),
	}
}

// OfferPolicy is a boolean expression evaluated against every offer and
// counter, for example "amount >= list_price * 0.5". A nil *OfferPolicy
// allows everything.
type OfferPolicy struct {
	source string
	expr   *govaluate.EvaluableExpression
}

// Compile parses expression. An empty expression yields a nil policy.
func Compile(expression string) (*OfferPolicy, error) {
	src := strings.TrimSpace(expression)
	if src == "" {
		return nil, nil
	}
	expr, err := govaluate.NewEvaluableExpression(src)
	if err != nil {
		return nil, fmt.Errorf("compile offer policy: %w", err)
	}
	return &OfferPolicy{source: src, expr: expr}, nil
}

func (p *OfferPolicy) String() string {
	if p == nil {
		return ""
	}
	return p.source
}

// Allow evaluates the policy. Expressions that do not produce a boolean are
// reported as errors.
func (p *OfferPolicy) Allow(in Input) (bool, error) {
	if p == nil {
		return true, nil
	}
	result, err := p.expr.Evaluate(in.params())
	if err != nil {
		return false, err
	}
	allowed, ok := result.(bool)
	if !ok {
		return false, errors.New("offer policy did not evaluate to boolean")
	}
	return allowed, nil
}

// Check returns ErrViolation when in is not allowed.
func (p *OfferPolicy) Check(in Input) error {
	allowed, err := p.Allow(in)
	if err != nil {
		return fmt.Errorf("evaluate offer policy: %w", err)
	}
	if !allowed {
		return fmt.Errorf("%w: %s", ErrViolation, p.source)
	}
	return nil
}
