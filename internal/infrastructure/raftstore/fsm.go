package raftstore

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/hashicorp/raft"

	"github.com/homemarket/negotiation-engine/internal/domain/negotiation"
	"github.com/homemarket/negotiation-engine/internal/infrastructure/memory"
)

// command is one replicated commit.
type command struct {
	Next *negotiation.Negotiation `json:"next"`
	Tx   negotiation.Transaction  `json:"tx"`
}

type applyResult struct {
	negotiation *negotiation.Negotiation
	err         error
}

// fsm applies replicated commits to the node's in-memory store. Commit
// outcomes, including conflicts, depend only on the log so every node
// reaches the same state.
type fsm struct {
	store *memory.NegotiationStore
}

func (f *fsm) Apply(log *raft.Log) interface{} {
	var cmd command
	if err := json.Unmarshal(log.Data, &cmd); err != nil {
		return applyResult{err: fmt.Errorf("decode command: %w", err)}
	}
	if cmd.Next == nil {
		return applyResult{err: fmt.Errorf("decode command: missing negotiation")}
	}
	n, err := f.store.Commit(context.Background(), cmd.Next, cmd.Tx)
	return applyResult{negotiation: n, err: err}
}

func (f *fsm) Snapshot() (raft.FSMSnapshot, error) {
	data, err := f.store.Marshal()
	if err != nil {
		return nil, err
	}
	return &fsmSnapshot{data: data}, nil
}

func (f *fsm) Restore(rc io.ReadCloser) error {
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	return f.store.Unmarshal(data)
}

type fsmSnapshot struct {
	data []byte
}

func (s *fsmSnapshot) Persist(sink raft.SnapshotSink) error {
	if _, err := sink.Write(s.data); err != nil {
		_ = sink.Cancel()
		return err
	}
	return sink.Close()
}

func (s *fsmSnapshot) Release() {}
