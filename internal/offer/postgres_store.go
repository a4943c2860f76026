package offer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/homeflowhq/homeflow/internal/escrow"
)

// PostgresStore is a PostgreSQL-backed Store.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a store backed by the given database.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

var _ Store = (*PostgresStore)(nil)

// scanner abstracts *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

const offerColumns = `id, listing_id, buyer_id, amount, status, created_at, updated_at`

func scanOffer(s scanner) (*Offer, error) {
	var o Offer
	err := s.Scan(&o.ID, &o.ListingID, &o.BuyerID, &o.Amount, &o.Status, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (p *PostgresStore) Create(ctx context.Context, o *Offer) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO offers (id, listing_id, buyer_id, amount, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		o.ID, o.ListingID, o.BuyerID, o.Amount, o.Status, o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert offer: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Offer, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+offerColumns+` FROM offers WHERE id = $1`, id)
	o, err := scanOffer(row)
	if err == sql.ErrNoRows {
		return nil, ErrOfferNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get offer: %w", err)
	}
	return o, nil
}

func (p *PostgresStore) ListByListing(ctx context.Context, listingID string) ([]*Offer, error) {
	return p.list(ctx, `SELECT `+offerColumns+` FROM offers WHERE listing_id = $1 ORDER BY created_at ASC, id ASC`, listingID)
}

func (p *PostgresStore) ListByBuyer(ctx context.Context, buyerID string) ([]*Offer, error) {
	return p.list(ctx, `SELECT `+offerColumns+` FROM offers WHERE buyer_id = $1 ORDER BY created_at ASC, id ASC`, buyerID)
}

func (p *PostgresStore) list(ctx context.Context, query, arg string) ([]*Offer, error) {
	rows, err := p.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("list offers: %w", err)
	}
	defer rows.Close()

	var out []*Offer
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan offer: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (p *PostgresStore) History(ctx context.Context, offerID string) ([]*Negotiation, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, offer_id, from_role, message, created_at
		FROM negotiations WHERE offer_id = $1
		ORDER BY created_at ASC, id ASC`, offerID)
	if err != nil {
		return nil, fmt.Errorf("list negotiations: %w", err)
	}
	defer rows.Close()

	var out []*Negotiation
	for rows.Next() {
		var n Negotiation
		if err := rows.Scan(&n.ID, &n.OfferID, &n.FromRole, &n.Message, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan negotiation: %w", err)
		}
		out = append(out, &n)
	}
	return out, rows.Err()
}

// ApplyResponse writes the offer update, the negotiation entry, and the
// optional escrow in one serializable transaction.
func (p *PostgresStore) ApplyResponse(ctx context.Context, o *Offer, n *Negotiation, e *escrow.Escrow) error {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE offers SET status = $1, amount = $2, updated_at = $3 WHERE id = $4`,
		o.Status, o.Amount, o.UpdatedAt, o.ID)
	if err != nil {
		return fmt.Errorf("update offer: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update offer: %w", err)
	}
	if affected == 0 {
		return ErrOfferNotFound
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO negotiations (id, offer_id, from_role, message, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		n.ID, n.OfferID, n.FromRole, n.Message, n.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert negotiation: %w", err)
	}

	if e != nil {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO escrows (id, offer_id, buyer_id, seller_id, status, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			e.ID, e.OfferID, e.BuyerID, e.SellerID, e.Status, e.CreatedAt, e.UpdatedAt)
		if err != nil {
			var pqErr *pq.Error
			if errors.As(err, &pqErr) && pqErr.Code == "23505" {
				return escrow.ErrEscrowExists
			}
			return fmt.Errorf("insert escrow: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit response: %w", err)
	}
	return nil
}
