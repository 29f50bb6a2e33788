package raftstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb/v2"

	"github.com/homemarket/negotiation-engine/internal/domain/negotiation"
	"github.com/homemarket/negotiation-engine/internal/infrastructure/memory"
)

// Config defines one replicated store node.
type Config struct {
	NodeID         string
	RaftAddr       string
	DataDir        string
	Bootstrap      bool
	SnapshotRetain int
	ApplyTimeout   time.Duration
	LogOutput      io.Writer
}

func (c Config) normalized() (Config, error) {
	c.NodeID = strings.TrimSpace(c.NodeID)
	c.RaftAddr = strings.TrimSpace(c.RaftAddr)
	c.DataDir = strings.TrimSpace(c.DataDir)
	if c.NodeID == "" {
		return c, errors.New("node_id is required")
	}
	if c.RaftAddr == "" {
		return c, errors.New("raft_addr is required")
	}
	if c.SnapshotRetain <= 0 {
		c.SnapshotRetain = 2
	}
	if c.ApplyTimeout <= 0 {
		c.ApplyTimeout = 5 * time.Second
	}
	if c.LogOutput == nil {
		c.LogOutput = os.Stderr
	}
	return c, nil
}

// Store is a negotiation.Store whose commits are replicated through raft.
// Every node applies the log to its own in-memory store and serves reads
// from it; commits must be sent to the leader.
type Store struct {
	id           string
	raftAddr     string
	applyTimeout time.Duration

	raft      *raft.Raft
	transport raft.Transport
	local     *memory.NegotiationStore
}

// Open creates a node backed by bolt log/stable stores and a TCP transport.
func Open(cfg Config) (*Store, error) {
	cfg, err := cfg.normalized()
	if err != nil {
		return nil, err
	}
	if cfg.DataDir == "" {
		return nil, errors.New("data_dir is required")
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, err
	}
	logStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "raft-log.bolt"))
	if err != nil {
		return nil, err
	}
	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "raft-stable.bolt"))
	if err != nil {
		return nil, err
	}
	snapshots, err := raft.NewFileSnapshotStore(cfg.DataDir, cfg.SnapshotRetain, cfg.LogOutput)
	if err != nil {
		return nil, err
	}
	transport, err := raft.NewTCPTransport(cfg.RaftAddr, nil, 3, 10*time.Second, cfg.LogOutput)
	if err != nil {
		return nil, err
	}
	return newStore(cfg, raft.DefaultConfig(), logStore, stableStore, snapshots, transport)
}

func newStore(cfg Config, raftCfg *raft.Config, logs raft.LogStore, stable raft.StableStore, snaps raft.SnapshotStore, transport raft.Transport) (*Store, error) {
	cfg, err := cfg.normalized()
	if err != nil {
		return nil, err
	}
	local := memory.NewNegotiationStore()
	raftCfg.LocalID = raft.ServerID(cfg.NodeID)
	raftCfg.LogOutput = cfg.LogOutput
	r, err := raft.NewRaft(raftCfg, &fsm{store: local}, logs, stable, snaps, transport)
	if err != nil {
		return nil, err
	}
	s := &Store{
		id:           cfg.NodeID,
		raftAddr:     cfg.RaftAddr,
		applyTimeout: cfg.ApplyTimeout,
		raft:         r,
		transport:    transport,
		local:        local,
	}
	if cfg.Bootstrap {
		hasState, err := raft.HasExistingState(logs, stable, snaps)
		if err != nil {
			return nil, err
		}
		if !hasState {
			future := r.BootstrapCluster(raft.Configuration{Servers: []raft.Server{{
				ID:      raft.ServerID(cfg.NodeID),
				Address: transport.LocalAddr(),
			}}})
			if err := future.Error(); err != nil && !errors.Is(err, raft.ErrCantBootstrap) {
				return nil, err
			}
		}
	}
	return s, nil
}

func (s *Store) Load(ctx context.Context, negotiationID uuid.UUID) (*negotiation.Negotiation, error) {
	return s.local.Load(ctx, negotiationID)
}

func (s *Store) FindActive(ctx context.Context, propertyID, buyerID string) (*negotiation.Negotiation, error) {
	return s.local.FindActive(ctx, propertyID, buyerID)
}

func (s *Store) ListByBuyer(ctx context.Context, buyerID string, limit, offset int) ([]*negotiation.Negotiation, error) {
	return s.local.ListByBuyer(ctx, buyerID, limit, offset)
}

func (s *Store) ListBySeller(ctx context.Context, sellerID string, limit, offset int) ([]*negotiation.Negotiation, error) {
	return s.local.ListBySeller(ctx, sellerID, limit, offset)
}

// Commit replicates the write and returns the record as applied by the FSM.
func (s *Store) Commit(ctx context.Context, next *negotiation.Negotiation, tx negotiation.Transaction) (*negotiation.Negotiation, error) {
	data, err := json.Marshal(command{Next: next, Tx: tx})
	if err != nil {
		return nil, err
	}
	timeout := s.applyTimeout
	if deadline, ok := ctx.Deadline(); ok {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, context.DeadlineExceeded
		}
		if remaining < timeout {
			timeout = remaining
		}
	}
	future := s.raft.Apply(data, timeout)
	if err := future.Error(); err != nil {
		if errors.Is(err, raft.ErrNotLeader) {
			return nil, fmt.Errorf("replicate commit: %w (leader %s)", err, s.LeaderAddr())
		}
		return nil, fmt.Errorf("replicate commit: %w", err)
	}
	res, ok := future.Response().(applyResult)
	if !ok {
		return nil, fmt.Errorf("replicate commit: unexpected response %T", future.Response())
	}
	if res.err != nil {
		return nil, res.err
	}
	return res.negotiation, nil
}

// AddVoter joins or updates one voter in the cluster configuration.
func (s *Store) AddVoter(ctx context.Context, nodeID, raftAddr string) error {
	nodeID = strings.TrimSpace(nodeID)
	raftAddr = strings.TrimSpace(raftAddr)
	if nodeID == "" || raftAddr == "" {
		return errors.New("node_id and raft_addr are required")
	}
	cfgFuture := s.raft.GetConfiguration()
	if err := cfgFuture.Error(); err != nil {
		return err
	}
	for _, srv := range cfgFuture.Configuration().Servers {
		if srv.ID == raft.ServerID(nodeID) && srv.Address == raft.ServerAddress(raftAddr) {
			return nil
		}
		if srv.ID == raft.ServerID(nodeID) || srv.Address == raft.ServerAddress(raftAddr) {
			if err := s.raft.RemoveServer(srv.ID, 0, raftTimeout(ctx)).Error(); err != nil {
				return err
			}
		}
	}
	return s.raft.AddVoter(raft.ServerID(nodeID), raft.ServerAddress(raftAddr), 0, raftTimeout(ctx)).Error()
}

// RemoveServer removes one server by node ID.
func (s *Store) RemoveServer(ctx context.Context, nodeID string) error {
	nodeID = strings.TrimSpace(nodeID)
	if nodeID == "" {
		return errors.New("node_id is required")
	}
	return s.raft.RemoveServer(raft.ServerID(nodeID), 0, raftTimeout(ctx)).Error()
}

func raftTimeout(ctx context.Context) time.Duration {
	timeout := 10 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		remaining := time.Until(deadline)
		if remaining > 0 && remaining < timeout {
			timeout = remaining
		}
	}
	return timeout
}

// WaitForLeader blocks until a leader is known.
func (s *Store) WaitForLeader(ctx context.Context, pollInterval time.Duration) (string, error) {
	if pollInterval <= 0 {
		pollInterval = 100 * time.Millisecond
	}
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		if leader := s.LeaderAddr(); leader != "" {
			return leader, nil
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Store) ID() string         { return s.id }
func (s *Store) IsLeader() bool     { return s.raft.State() == raft.Leader }
func (s *Store) LeaderAddr() string { return strings.TrimSpace(string(s.raft.Leader())) }

func (s *Store) Stats() map[string]string {
	stats := s.raft.Stats()
	out := make(map[string]string, len(stats)+1)
	for k, v := range stats {
		out[k] = v
	}
	out["node_id"] = s.id
	return out
}

// Shutdown stops raft and closes the transport.
func (s *Store) Shutdown() error {
	var shutdownErr error
	if s.raft != nil {
		if err := s.raft.Shutdown().Error(); err != nil {
			shutdownErr = err
		}
	}
	if closer, ok := s.transport.(io.Closer); ok {
		_ = closer.Close()
	}
	return shutdownErr
}
