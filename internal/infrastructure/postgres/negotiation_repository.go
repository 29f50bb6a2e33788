package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/homemarket/negotiation-engine/internal/domain/negotiation"
)

const uniqueViolation = "23505"

const negotiationColumns = `negotiation_id, property_id, buyer_id, seller_id, status, current_offer, last_offer_by, awaiting_response_from, metadata, version, created_at, last_updated`

// NegotiationRepository implements negotiation.Store.
type NegotiationRepository struct {
	pool *pgxpool.Pool
}

func NewNegotiationRepository(pool *pgxpool.Pool) *NegotiationRepository {
	return &NegotiationRepository{pool: pool}
}

func (r *NegotiationRepository) Load(ctx context.Context, negotiationID uuid.UUID) (*negotiation.Negotiation, error) {
	n, err := loadNegotiation(ctx, r.pool, negotiationID, false)
	if err != nil {
		return nil, err
	}
	if n == nil {
		return nil, negotiation.ErrNotFound
	}
	return n, nil
}

func (r *NegotiationRepository) FindActive(ctx context.Context, propertyID, buyerID string) (*negotiation.Negotiation, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+negotiationColumns+`
		FROM negotiations WHERE property_id=$1 AND buyer_id=$2 AND status='active'
	`, propertyID, buyerID)
	n, err := scanNegotiation(row)
	if err != nil || n == nil {
		return nil, err
	}
	if err := attachLedgers(ctx, r.pool, []*negotiation.Negotiation{n}); err != nil {
		return nil, err
	}
	return n, nil
}

// Commit writes the negotiation row and the new ledger entry in one
// transaction. Updates are guarded by the version column.
func (r *NegotiationRepository) Commit(ctx context.Context, next *negotiation.Negotiation, tx negotiation.Transaction) (*negotiation.Negotiation, error) {
	dbTx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = dbTx.Rollback(ctx) }()

	var committed *negotiation.Negotiation
	if next.Version == 0 {
		committed, err = insertNegotiation(ctx, dbTx, next, tx)
	} else {
		committed, err = updateNegotiation(ctx, dbTx, next, tx)
	}
	if err != nil {
		return nil, mapWriteError(err)
	}
	if err := insertTransaction(ctx, dbTx, tx); err != nil {
		return nil, mapWriteError(err)
	}
	if err := dbTx.Commit(ctx); err != nil {
		return nil, mapWriteError(err)
	}
	return committed, nil
}

func insertNegotiation(ctx context.Context, q pgx.Tx, next *negotiation.Negotiation, tx negotiation.Transaction) (*negotiation.Negotiation, error) {
	if tx.Seq != 1 {
		return nil, fmt.Errorf("%w: first ledger entry must have seq 1", negotiation.ErrConflict)
	}
	stored := next.Clone()
	stored.Transactions = []negotiation.Transaction{tx}
	stored.Version = 1
	stored.Recompute()

	meta, err := json.Marshal(stored.Metadata)
	if err != nil {
		return nil, err
	}
	_, err = q.Exec(ctx, `
		INSERT INTO negotiations
		(`+negotiationColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, stored.NegotiationID, stored.PropertyID, stored.BuyerID, stored.SellerID, string(stored.Status), stored.CurrentOffer,
		string(stored.LastOfferBy), roleValue(stored.AwaitingResponseFrom), meta, stored.Version, stored.CreatedAt, stored.LastUpdated)
	if err != nil {
		return nil, err
	}
	return stored, nil
}

func updateNegotiation(ctx context.Context, q pgx.Tx, next *negotiation.Negotiation, tx negotiation.Transaction) (*negotiation.Negotiation, error) {
	stored, err := loadNegotiation(ctx, q, next.NegotiationID, true)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, negotiation.ErrNotFound
	}
	if stored.Version != next.Version {
		return nil, fmt.Errorf("%w: expected version %d, stored %d", negotiation.ErrConflict, next.Version, stored.Version)
	}
	committed, err := negotiation.Apply(stored, next, tx)
	if err != nil {
		return nil, err
	}
	tag, err := q.Exec(ctx, `
		UPDATE negotiations
		SET status=$1, current_offer=$2, last_offer_by=$3, awaiting_response_from=$4, version=$5, last_updated=$6
		WHERE negotiation_id=$7 AND version=$8
	`, string(committed.Status), committed.CurrentOffer, string(committed.LastOfferBy), roleValue(committed.AwaitingResponseFrom),
		committed.Version, committed.LastUpdated, committed.NegotiationID, stored.Version)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() != 1 {
		return nil, fmt.Errorf("%w: version %d no longer current", negotiation.ErrConflict, stored.Version)
	}
	return committed, nil
}

func insertTransaction(ctx context.Context, q pgx.Tx, tx negotiation.Transaction) error {
	_, err := q.Exec(ctx, `
		INSERT INTO negotiation_transactions
		(transaction_id, negotiation_id, seq, action, offer_amount, made_by, made_by_role, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, tx.TransactionID, tx.NegotiationID, tx.Seq, string(tx.Action), tx.OfferAmount, tx.MadeBy, string(tx.MadeByRole), tx.CreatedAt)
	return err
}

func (r *NegotiationRepository) ListByBuyer(ctx context.Context, buyerID string, limit, offset int) ([]*negotiation.Negotiation, error) {
	return r.list(ctx, "buyer_id", buyerID, limit, offset)
}

func (r *NegotiationRepository) ListBySeller(ctx context.Context, sellerID string, limit, offset int) ([]*negotiation.Negotiation, error) {
	return r.list(ctx, "seller_id", sellerID, limit, offset)
}

func (r *NegotiationRepository) list(ctx context.Context, column, value string, limit, offset int) ([]*negotiation.Negotiation, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+negotiationColumns+`
		FROM negotiations WHERE `+column+`=$1
		ORDER BY created_at DESC, negotiation_id DESC
		LIMIT $2 OFFSET $3
	`, value, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]*negotiation.Negotiation, 0)
	for rows.Next() {
		n, err := scanNegotiation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := attachLedgers(ctx, r.pool, out); err != nil {
		return nil, err
	}
	return out, nil
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func loadNegotiation(ctx context.Context, q querier, negotiationID uuid.UUID, forUpdate bool) (*negotiation.Negotiation, error) {
	query := `SELECT ` + negotiationColumns + ` FROM negotiations WHERE negotiation_id=$1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	n, err := scanNegotiation(q.QueryRow(ctx, query, negotiationID))
	if err != nil || n == nil {
		return nil, err
	}
	if err := attachLedgers(ctx, q, []*negotiation.Negotiation{n}); err != nil {
		return nil, err
	}
	return n, nil
}

func attachLedgers(ctx context.Context, q querier, negotiations []*negotiation.Negotiation) error {
	if len(negotiations) == 0 {
		return nil
	}
	byID := make(map[uuid.UUID]*negotiation.Negotiation, len(negotiations))
	ids := make([]uuid.UUID, 0, len(negotiations))
	for _, n := range negotiations {
		byID[n.NegotiationID] = n
		ids = append(ids, n.NegotiationID)
	}
	rows, err := q.Query(ctx, `
		SELECT transaction_id, negotiation_id, seq, action, offer_amount, made_by, made_by_role, created_at
		FROM negotiation_transactions WHERE negotiation_id = ANY($1)
		ORDER BY negotiation_id, seq ASC
	`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var tx negotiation.Transaction
		var action, role string
		if err := rows.Scan(&tx.TransactionID, &tx.NegotiationID, &tx.Seq, &action, &tx.OfferAmount, &tx.MadeBy, &role, &tx.CreatedAt); err != nil {
			return err
		}
		tx.Action = negotiation.Action(action)
		tx.MadeByRole = negotiation.Role(role)
		if n, ok := byID[tx.NegotiationID]; ok {
			n.Transactions = append(n.Transactions, tx)
		}
	}
	return rows.Err()
}

func scanNegotiation(row pgx.Row) (*negotiation.Negotiation, error) {
	var n negotiation.Negotiation
	var status, lastOfferBy string
	var awaiting *string
	var meta []byte
	if err := row.Scan(&n.NegotiationID, &n.PropertyID, &n.BuyerID, &n.SellerID, &status, &n.CurrentOffer, &lastOfferBy, &awaiting, &meta, &n.Version, &n.CreatedAt, &n.LastUpdated); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	n.Status = negotiation.Status(status)
	n.LastOfferBy = negotiation.Role(lastOfferBy)
	if awaiting != nil {
		role := negotiation.Role(*awaiting)
		n.AwaitingResponseFrom = &role
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &n.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	n.CreatedAt = n.CreatedAt.UTC()
	n.LastUpdated = n.LastUpdated.UTC()
	return &n, nil
}

func roleValue(r *negotiation.Role) *string {
	if r == nil {
		return nil
	}
	s := string(*r)
	return &s
}

// mapWriteError turns unique-constraint races (the partial active index or a
// duplicate ledger sequence) into ErrConflict so the caller reloads.
func mapWriteError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", negotiation.ErrConflict, pgErr.ConstraintName)
	}
	return err
}
