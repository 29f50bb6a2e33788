package memory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homemarket/negotiation-engine/internal/domain/negotiation"
)

func openNegotiation(t *testing.T, property, buyer string, at time.Time) (*negotiation.Negotiation, negotiation.Transaction) {
	t.Helper()
	n, tx, err := negotiation.Open(negotiation.OpenCommand{
		NegotiationID: uuid.New(),
		TransactionID: uuid.NewString(),
		PropertyID:    property,
		BuyerID:       buyer,
		SellerID:      "seller-1",
		Amount:        1000,
		At:            at,
	})
	require.NoError(t, err)
	return n, tx
}

func TestCommitCreateAndCAS(t *testing.T) {
	ctx := context.Background()
	store := NewNegotiationStore()
	at := time.Now().UTC()

	n, tx := openNegotiation(t, "P1", "buyer-1", at)
	created, err := store.Commit(ctx, n, tx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), created.Version)

	active, err := store.FindActive(ctx, "P1", "buyer-1")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, created.NegotiationID, active.NegotiationID)

	// two writers against version 1
	first, err := store.Load(ctx, created.NegotiationID)
	require.NoError(t, err)
	second, err := store.Load(ctx, created.NegotiationID)
	require.NoError(t, err)

	accepted, acceptTx, err := negotiation.Transition(first, negotiation.Command{Action: negotiation.ActionAccept, ActorID: "seller-1", At: at})
	require.NoError(t, err)
	cancelled, cancelTx, err := negotiation.Transition(second, negotiation.Command{Action: negotiation.ActionCancel, ActorID: "buyer-1", At: at})
	require.NoError(t, err)

	committed, err := store.Commit(ctx, accepted, acceptTx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), committed.Version)
	assert.Equal(t, negotiation.StatusAccepted, committed.Status)

	_, err = store.Commit(ctx, cancelled, cancelTx)
	assert.ErrorIs(t, err, negotiation.ErrConflict)

	reloaded, err := store.Load(ctx, created.NegotiationID)
	require.NoError(t, err)
	assert.Equal(t, negotiation.StatusAccepted, reloaded.Status)
	assert.Len(t, reloaded.Transactions, 2)

	active, err = store.FindActive(ctx, "P1", "buyer-1")
	require.NoError(t, err)
	assert.Nil(t, active)
}

func TestCommitRejectsSecondActive(t *testing.T) {
	ctx := context.Background()
	store := NewNegotiationStore()

	n1, tx1 := openNegotiation(t, "P1", "buyer-1", time.Now())
	_, err := store.Commit(ctx, n1, tx1)
	require.NoError(t, err)

	n2, tx2 := openNegotiation(t, "P1", "buyer-1", time.Now())
	_, err = store.Commit(ctx, n2, tx2)
	assert.ErrorIs(t, err, negotiation.ErrConflict)

	n3, tx3 := openNegotiation(t, "P1", "buyer-2", time.Now())
	_, err = store.Commit(ctx, n3, tx3)
	assert.NoError(t, err)
}

func TestCommitUnknownNegotiation(t *testing.T) {
	store := NewNegotiationStore()
	n, tx := openNegotiation(t, "P1", "buyer-1", time.Now())
	n.Version = 3
	tx.Seq = 2
	_, err := store.Commit(context.Background(), n, tx)
	assert.ErrorIs(t, err, negotiation.ErrNotFound)

	_, err = store.Load(context.Background(), uuid.New())
	assert.ErrorIs(t, err, negotiation.ErrNotFound)
}

func TestListNewestFirstWithPaging(t *testing.T) {
	ctx := context.Background()
	store := NewNegotiationStore()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		n, tx := openNegotiation(t, "P"+string(rune('1'+i)), "buyer-1", base.Add(time.Duration(i)*time.Hour))
		_, err := store.Commit(ctx, n, tx)
		require.NoError(t, err)
		ids = append(ids, n.NegotiationID)
	}

	all, err := store.ListByBuyer(ctx, "buyer-1", 10, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, ids[2], all[0].NegotiationID)
	assert.Equal(t, ids[0], all[2].NegotiationID)

	page, err := store.ListBySeller(ctx, "seller-1", 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, ids[1], page[0].NegotiationID)

	empty, err := store.ListByBuyer(ctx, "buyer-1", 10, 5)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestSnapshotRoundTripRebuildsActiveIndex(t *testing.T) {
	ctx := context.Background()
	store := NewNegotiationStore()
	n, tx := openNegotiation(t, "P1", "buyer-1", time.Now())
	_, err := store.Commit(ctx, n, tx)
	require.NoError(t, err)

	data, err := store.Marshal()
	require.NoError(t, err)

	restored := NewNegotiationStore()
	require.NoError(t, restored.Unmarshal(data))

	active, err := restored.FindActive(ctx, "P1", "buyer-1")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, n.NegotiationID, active.NegotiationID)
	assert.Equal(t, int64(1), active.Version)
}
