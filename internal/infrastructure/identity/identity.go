package identity

import (
	"context"
	"errors"
)

var (
	// ErrNoCredentials means the verifier found nothing it understands in the
	// request. A Chain moves on to the next verifier.
	ErrNoCredentials = errors.New("no credentials presented")
	// ErrUnauthenticated means credentials were presented but rejected, or
	// no verifier accepted the request.
	ErrUnauthenticated = errors.New("unauthenticated")
)

// Credentials are the raw caller credentials lifted off a request.
type Credentials struct {
	BearerToken string
	APIKey      string
	TrustedUser string
}

// Principal is the verified caller.
type Principal struct {
	UserID string
	Method string
}

// Verifier resolves credentials to a principal.
type Verifier interface {
	Verify(ctx context.Context, creds Credentials) (*Principal, error)
}

// Chain tries each verifier in turn. The first verifier that recognises the
// credentials decides the outcome.
type Chain []Verifier

func (c Chain) Verify(ctx context.Context, creds Credentials) (*Principal, error) {
	for _, v := range c {
		if v == nil {
			continue
		}
		p, err := v.Verify(ctx, creds)
		if errors.Is(err, ErrNoCredentials) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return p, nil
	}
	return nil, ErrUnauthenticated
}

// TrustedHeader accepts the user id set by an authenticating gateway in
// front of the service. Only enable it when that gateway strips the header
// from client requests.
type TrustedHeader struct{}

func (TrustedHeader) Verify(_ context.Context, creds Credentials) (*Principal, error) {
	if creds.TrustedUser == "" {
		return nil, ErrNoCredentials
	}
	return &Principal{UserID: creds.TrustedUser, Method: "header"}, nil
}
