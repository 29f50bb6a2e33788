package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/homemarket/negotiation-engine/internal/config"
	"github.com/homemarket/negotiation-engine/internal/infrastructure/identity"
)

const defaultJoinRetries = 30

// joinCluster asks an existing member to add this node as a voter. The
// request is retried while the member is unreachable or not yet leader.
func joinCluster(cfg *config.Config, retries int, delay time.Duration) error {
	endpoint := strings.TrimRight(cfg.Raft.JoinURL, "/") + "/v1/cluster/voters"
	body, err := json.Marshal(map[string]string{
		"node_id":   cfg.Raft.NodeID,
		"raft_addr": cfg.Raft.Addr,
	})
	if err != nil {
		return err
	}

	client := &http.Client{Timeout: 5 * time.Second}
	var lastErr error
	for i := 0; i < retries; i++ {
		req, err := http.NewRequest(http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		if err := authorizeJoin(req, cfg); err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			lastErr = err
			time.Sleep(delay)
			continue
		}
		if resp.Body != nil {
			_ = resp.Body.Close()
		}
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		lastErr = fmt.Errorf("join returned status %d", resp.StatusCode)
		time.Sleep(delay)
	}
	if lastErr == nil {
		lastErr = errors.New("join failed")
	}
	return lastErr
}

// authorizeJoin presents the node's identity with whichever method the
// cluster shares: a token signed with the common JWT secret or the gateway
// header.
func authorizeJoin(req *http.Request, cfg *config.Config) error {
	subject := "node:" + cfg.Raft.NodeID
	switch {
	case cfg.JWTSecret != "":
		token, err := identity.SignToken(cfg.JWTSecret, cfg.JWTIssuer, subject, time.Minute)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	case cfg.TrustHeader != "":
		req.Header.Set(cfg.TrustHeader, subject)
	default:
		return errors.New("joining a cluster needs JWT_SECRET or AUTH_TRUST_HEADER")
	}
	return nil
}
