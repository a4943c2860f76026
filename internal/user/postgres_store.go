package user

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/homeflowhq/homeflow/internal/idgen"
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

const userColumns = `id, email, full_name, role, deleted_at, created_at, updated_at`

func scanUser(s scanner) (*User, error) {
	var (
		u       User
		deleted sql.NullTime
	)
	err := s.Scan(&u.ID, &u.Email, &u.FullName, &u.Role, &deleted, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if deleted.Valid {
		t := deleted.Time
		u.DeletedAt = &t
	}
	return &u, nil
}

func (p *PostgresStore) Upsert(ctx context.Context, u *User) (*User, error) {
	row := p.db.QueryRowContext(ctx, `
		INSERT INTO users (id, email, full_name, role, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (email) DO UPDATE
		SET full_name = EXCLUDED.full_name,
		    role = EXCLUDED.role,
		    updated_at = EXCLUDED.updated_at
		RETURNING `+userColumns,
		idgen.WithPrefix("usr"), u.Email, u.FullName, u.Role, u.CreatedAt, u.UpdatedAt)

	out, err := scanUser(row)
	if err != nil {
		return nil, fmt.Errorf("upsert user: %w", err)
	}
	return out, nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*User, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (p *PostgresStore) GetByEmail(ctx context.Context, email string) (*User, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = $1`, email)
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return u, nil
}

// Anonymize detaches the user's offers and listings and scrubs the
// account record in one serializable transaction.
func (p *PostgresStore) Anonymize(ctx context.Context, id string) error {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`UPDATE offers SET buyer_id = 'deleted' WHERE buyer_id = $1`, id)
	if err != nil {
		return fmt.Errorf("detach offers: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE listings SET seller_id = 'deleted' WHERE seller_id = $1`, id)
	if err != nil {
		return fmt.Errorf("detach listings: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE users
		SET email = 'deleted_' || id || '@example.com',
		    full_name = 'Deleted User',
		    deleted_at = NOW(),
		    updated_at = NOW()
		WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("scrub user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("scrub user: %w", err)
	}
	if n == 0 {
		return ErrUserNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit anonymize: %w", err)
	}
	return nil
}
