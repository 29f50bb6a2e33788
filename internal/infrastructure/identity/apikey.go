package identity

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

type apiKey struct {
	userID string
	hash   []byte
}

// APIKeyVerifier accepts keys of the form "<key id>.<secret>" checked
// against stored bcrypt hashes.
type APIKeyVerifier struct {
	keys map[string]apiKey
}

// ParseAPIKeys reads "keyid:userid:bcrypthash" entries separated by ';'.
func ParseAPIKeys(entries string) (*APIKeyVerifier, error) {
	v := &APIKeyVerifier{keys: make(map[string]apiKey)}
	for _, entry := range strings.Split(entries, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, ":", 3)
		if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
			return nil, fmt.Errorf("invalid api key entry %q", entry)
		}
		if _, err := bcrypt.Cost([]byte(parts[2])); err != nil {
			return nil, fmt.Errorf("api key %s: %w", parts[0], err)
		}
		v.keys[parts[0]] = apiKey{userID: parts[1], hash: []byte(parts[2])}
	}
	return v, nil
}

func (v *APIKeyVerifier) Len() int { return len(v.keys) }

func (v *APIKeyVerifier) Verify(_ context.Context, creds Credentials) (*Principal, error) {
	if creds.APIKey == "" {
		return nil, ErrNoCredentials
	}
	keyID, secret, ok := strings.Cut(creds.APIKey, ".")
	if !ok || secret == "" {
		return nil, fmt.Errorf("%w: malformed api key", ErrUnauthenticated)
	}
	k, found := v.keys[keyID]
	if !found {
		return nil, fmt.Errorf("%w: unknown api key", ErrUnauthenticated)
	}
	if err := bcrypt.CompareHashAndPassword(k.hash, []byte(secret)); err != nil {
		return nil, fmt.Errorf("%w: invalid api key", ErrUnauthenticated)
	}
	return &Principal{UserID: k.userID, Method: "api_key"}, nil
}

// HashAPIKeySecret returns the bcrypt hash to store for a key secret.
func HashAPIKeySecret(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
