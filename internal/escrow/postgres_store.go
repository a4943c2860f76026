package escrow

import (
	"context"
	"database/sql"
	"fmt"
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

const escrowColumns = `id, offer_id, buyer_id, seller_id, status, created_at, updated_at`

func scanEscrow(s scanner) (*Escrow, error) {
	var e Escrow
	err := s.Scan(&e.ID, &e.OfferID, &e.BuyerID, &e.SellerID, &e.Status, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (p *PostgresStore) Create(ctx context.Context, e *Escrow) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO escrows (id, offer_id, buyer_id, seller_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.ID, e.OfferID, e.BuyerID, e.SellerID, e.Status, e.CreatedAt, e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert escrow: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Escrow, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+escrowColumns+` FROM escrows WHERE id = $1`, id)
	e, err := scanEscrow(row)
	if err == sql.ErrNoRows {
		return nil, ErrEscrowNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get escrow: %w", err)
	}
	return e, nil
}

func (p *PostgresStore) GetByOffer(ctx context.Context, offerID string) (*Escrow, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+escrowColumns+` FROM escrows WHERE offer_id = $1`, offerID)
	e, err := scanEscrow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get escrow by offer: %w", err)
	}
	return e, nil
}

func (p *PostgresStore) UpdateStatus(ctx context.Context, e *Escrow) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE escrows SET status = $1, updated_at = $2 WHERE id = $3`,
		e.Status, e.UpdatedAt, e.ID)
	if err != nil {
		return fmt.Errorf("update escrow status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update escrow status: %w", err)
	}
	if n == 0 {
		return ErrEscrowNotFound
	}
	return nil
}

func (p *PostgresStore) AddDocument(ctx context.Context, d *Document) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO documents (id, escrow_id, name, s3_key, uploaded_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		d.ID, d.EscrowID, d.Name, d.S3Key, d.UploadedBy, d.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func (p *PostgresStore) ListDocuments(ctx context.Context, escrowID string) ([]*Document, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, escrow_id, name, s3_key, uploaded_by, created_at
		FROM documents WHERE escrow_id = $1
		ORDER BY created_at ASC, id ASC`, escrowID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		var d Document
		if err := rows.Scan(&d.ID, &d.EscrowID, &d.Name, &d.S3Key, &d.UploadedBy, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, &d)
	}
	return docs, rows.Err()
}
