package httpapi

import (
	"context"

	"github.com/homemarket/negotiation-engine/internal/infrastructure/identity"
)

type authContextKey string

const authPrincipalKey authContextKey = "authPrincipal"

func withPrincipal(ctx context.Context, p *identity.Principal) context.Context {
	if p == nil {
		return ctx
	}
	return context.WithValue(ctx, authPrincipalKey, p)
}

func principalFromContext(ctx context.Context) *identity.Principal {
	val := ctx.Value(authPrincipalKey)
	if v, ok := val.(*identity.Principal); ok {
		return v
	}
	return nil
}

// actorID returns the authenticated caller id, or "" outside requireAuth.
func actorID(ctx context.Context) string {
	if p := principalFromContext(ctx); p != nil {
		return p.UserID
	}
	return ""
}
