package raftstore

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/raft"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homemarket/negotiation-engine/internal/domain/negotiation"
	"github.com/homemarket/negotiation-engine/internal/infrastructure/memory"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	raftCfg := raft.DefaultConfig()
	raftCfg.HeartbeatTimeout = 50 * time.Millisecond
	raftCfg.ElectionTimeout = 50 * time.Millisecond
	raftCfg.LeaderLeaseTimeout = 50 * time.Millisecond
	raftCfg.CommitTimeout = 5 * time.Millisecond

	_, transport := raft.NewInmemTransport("")
	s, err := newStore(
		Config{NodeID: "node-1", RaftAddr: string(transport.LocalAddr()), Bootstrap: true, LogOutput: io.Discard},
		raftCfg,
		raft.NewInmemStore(),
		raft.NewInmemStore(),
		raft.NewInmemSnapshotStore(),
		transport,
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Shutdown() })

	require.Eventually(t, s.IsLeader, 5*time.Second, 20*time.Millisecond)
	return s
}

func open(t *testing.T, property, buyer string) (*negotiation.Negotiation, negotiation.Transaction) {
	t.Helper()
	n, tx, err := negotiation.Open(negotiation.OpenCommand{
		NegotiationID: uuid.New(),
		TransactionID: uuid.NewString(),
		PropertyID:    property,
		BuyerID:       buyer,
		SellerID:      "seller-1",
		Amount:        350000,
		At:            time.Now().UTC(),
	})
	require.NoError(t, err)
	return n, tx
}

func TestConfigValidation(t *testing.T) {
	_, err := Config{RaftAddr: "127.0.0.1:7000"}.normalized()
	assert.Error(t, err)
	_, err = Config{NodeID: "n1"}.normalized()
	assert.Error(t, err)

	cfg, err := Config{NodeID: " n1 ", RaftAddr: "127.0.0.1:7000"}.normalized()
	require.NoError(t, err)
	assert.Equal(t, "n1", cfg.NodeID)
	assert.Equal(t, 2, cfg.SnapshotRetain)
	assert.Equal(t, 5*time.Second, cfg.ApplyTimeout)
}

func TestReplicatedCommit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	n, tx := open(t, "P1", "buyer-1")
	created, err := s.Commit(ctx, n, tx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), created.Version)

	loaded, err := s.Load(ctx, n.NegotiationID)
	require.NoError(t, err)
	assert.Equal(t, int64(350000), loaded.CurrentOffer)

	active, err := s.FindActive(ctx, "P1", "buyer-1")
	require.NoError(t, err)
	require.NotNil(t, active)

	countered, counterTx, err := negotiation.Transition(loaded, negotiation.Command{
		Action:        negotiation.ActionCounter,
		ActorID:       "seller-1",
		Amount:        360000,
		TransactionID: uuid.NewString(),
		At:            time.Now().UTC(),
	})
	require.NoError(t, err)
	committed, err := s.Commit(ctx, countered, counterTx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), committed.Version)
	assert.Equal(t, int64(360000), committed.CurrentOffer)

	// a stale writer replays against version 1
	_, err = s.Commit(ctx, countered, counterTx)
	assert.ErrorIs(t, err, negotiation.ErrConflict)

	dup, dupTx := open(t, "P1", "buyer-1")
	_, err = s.Commit(ctx, dup, dupTx)
	assert.ErrorIs(t, err, negotiation.ErrConflict)

	listed, err := s.ListBySeller(ctx, "seller-1", 10, 0)
	require.NoError(t, err)
	assert.Len(t, listed, 1)

	assert.Equal(t, "node-1", s.Stats()["node_id"])
}

func TestCommitHonoursContextDeadline(t *testing.T) {
	s := newTestStore(t)
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	n, tx := open(t, "P1", "buyer-1")
	_, err := s.Commit(ctx, n, tx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

type bufferSink struct {
	bytes.Buffer
	cancelled bool
}

func (s *bufferSink) ID() string    { return "test" }
func (s *bufferSink) Cancel() error { s.cancelled = true; return nil }
func (s *bufferSink) Close() error  { return nil }

func TestFSMSnapshotRestore(t *testing.T) {
	source := &fsm{store: memory.NewNegotiationStore()}
	n, tx := open(t, "P1", "buyer-1")
	data, err := json.Marshal(command{Next: n, Tx: tx})
	require.NoError(t, err)

	res, ok := source.Apply(&raft.Log{Data: data}).(applyResult)
	require.True(t, ok)
	require.NoError(t, res.err)

	snap, err := source.Snapshot()
	require.NoError(t, err)
	sink := &bufferSink{}
	require.NoError(t, snap.Persist(sink))
	assert.False(t, sink.cancelled)

	target := &fsm{store: memory.NewNegotiationStore()}
	require.NoError(t, target.Restore(io.NopCloser(bytes.NewReader(sink.Bytes()))))

	restored, err := target.store.Load(context.Background(), n.NegotiationID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), restored.Version)
	active, err := target.store.FindActive(context.Background(), "P1", "buyer-1")
	require.NoError(t, err)
	assert.NotNil(t, active)
}

func TestFSMApplyRejectsGarbage(t *testing.T) {
	f := &fsm{store: memory.NewNegotiationStore()}
	res, ok := f.Apply(&raft.Log{Data: []byte("not json")}).(applyResult)
	require.True(t, ok)
	assert.Error(t, res.err)
}
