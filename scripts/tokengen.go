package main

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/homemarket/negotiation-engine/internal/infrastructure/identity"
)

type options struct {
	op     string
	secret string
	issuer string
	userID string
	ttl    time.Duration
	keyID  string
	apiKey string
}

func main() {
	var opt options
	flag.StringVar(&opt.op, "op", "", "operation: token|api-key")
	flag.StringVar(&opt.secret, "secret", os.Getenv("JWT_SECRET"), "HMAC secret for token; defaults to JWT_SECRET")
	flag.StringVar(&opt.issuer, "issuer", os.Getenv("JWT_ISSUER"), "token issuer; defaults to JWT_ISSUER")
	flag.StringVar(&opt.userID, "user", "", "user id the credential authenticates as")
	flag.DurationVar(&opt.ttl, "ttl", 24*time.Hour, "token lifetime")
	flag.StringVar(&opt.keyID, "key-id", "", "api key id; generated when empty")
	flag.StringVar(&opt.apiKey, "api-secret", "", "api key secret; generated when empty")
	flag.Parse()

	if err := run(opt); err != nil {
		log.Fatal(err)
	}
}

func run(opt options) error {
	if strings.TrimSpace(opt.userID) == "" {
		return errors.New("-user is required")
	}
	switch opt.op {
	case "token":
		if opt.secret == "" {
			return errors.New("-secret or JWT_SECRET is required")
		}
		token, err := identity.SignToken(opt.secret, opt.issuer, opt.userID, opt.ttl)
		if err != nil {
			return err
		}
		fmt.Println(token)
	case "api-key":
		keyID := opt.keyID
		if keyID == "" {
			keyID = randomHex(4)
		}
		secret := opt.apiKey
		if secret == "" {
			secret = randomHex(24)
		}
		hash, err := identity.HashAPIKeySecret(secret)
		if err != nil {
			return err
		}
		fmt.Printf("API_KEYS entry: %s:%s:%s\n", keyID, opt.userID, hash)
		fmt.Printf("X-API-Key:      %s.%s\n", keyID, secret)
	default:
		return fmt.Errorf("unknown -op %q", opt.op)
	}
	return nil
}

func randomHex(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		log.Fatalf("random: %v", err)
	}
	return hex.EncodeToString(b)
}
