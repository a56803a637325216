package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/MrJamesThe3rd/mpesa-gateway/internal/payment"
)

const uniqueViolation = "23505"

//go:embed schema.sql
var schema string

// Migrate creates the payments table if it does not exist.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("applying schema: %w", err)
	}

	return nil
}

// Postgres is a payment repository backed by a SQL database.
type Postgres struct {
	db *sql.DB
}

func New(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// scanPayment reads a payment row in selectPaymentColumns order.
func scanPayment(s scanner) (*payment.Payment, error) {
	var p payment.Payment

	var statusStr string

	var providerRef sql.NullString

	if err := s.Scan(
		&p.ID, &p.Amount, &p.Phone, &p.Reference, &statusStr,
		&providerRef, &p.ResultDescription, &p.Receipt,
		&p.CreatedAt, &p.CompletedAt,
	); err != nil {
		return nil, err
	}

	p.Status = payment.Status(statusStr)
	p.ProviderReference = providerRef.String

	return &p, nil
}

const selectPaymentColumns = `
	id, amount, phone, reference, status,
	provider_reference, result_description, receipt,
	created_at, completed_at
`

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (s *Postgres) Create(ctx context.Context, p *payment.Payment) error {
	query := `
		INSERT INTO payments (id, amount, phone, reference, status, provider_reference, result_description, receipt, created_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := s.db.ExecContext(ctx, query,
		p.ID,
		p.Amount,
		p.Phone,
		p.Reference,
		string(p.Status),
		nullable(p.ProviderReference),
		p.ResultDescription,
		p.Receipt,
		p.CreatedAt,
		p.CompletedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			if pgErr.ConstraintName == "payments_pkey" {
				return payment.ErrDuplicateID
			}

			return payment.ErrReferenceTaken
		}

		return fmt.Errorf("creating payment: %w", err)
	}

	return nil
}

func (s *Postgres) Get(ctx context.Context, id string) (*payment.Payment, error) {
	query := `SELECT ` + selectPaymentColumns + ` FROM payments WHERE id = $1`

	p, err := scanPayment(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, payment.ErrNotFound
		}

		return nil, fmt.Errorf("getting payment: %w", err)
	}

	return p, nil
}

func (s *Postgres) GetByProviderReference(ctx context.Context, ref string) (*payment.Payment, error) {
	query := `SELECT ` + selectPaymentColumns + ` FROM payments WHERE provider_reference = $1`

	p, err := scanPayment(s.db.QueryRowContext(ctx, query, ref))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, payment.ErrNotFound
		}

		return nil, fmt.Errorf("getting payment by provider reference: %w", err)
	}

	return p, nil
}

// Update locks the row for the duration of the mutation so concurrent
// updates of the same payment are serialized by the database.
func (s *Postgres) Update(ctx context.Context, id string, mutate func(p *payment.Payment) error) (*payment.Payment, error) {
	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer dbTx.Rollback()

	query := `SELECT ` + selectPaymentColumns + ` FROM payments WHERE id = $1 FOR UPDATE`

	p, err := scanPayment(dbTx.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, payment.ErrNotFound
		}

		return nil, fmt.Errorf("locking payment: %w", err)
	}

	if err := mutate(p); err != nil {
		return nil, err
	}

	update := `
		UPDATE payments
		SET status = $1, provider_reference = $2, result_description = $3, receipt = $4, completed_at = $5
		WHERE id = $6
	`

	if _, err := dbTx.ExecContext(ctx, update,
		string(p.Status),
		nullable(p.ProviderReference),
		p.ResultDescription,
		p.Receipt,
		p.CompletedAt,
		p.ID,
	); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, payment.ErrReferenceTaken
		}

		return nil, fmt.Errorf("updating payment: %w", err)
	}

	if err := dbTx.Commit(); err != nil {
		return nil, fmt.Errorf("committing transaction: %w", err)
	}

	return p, nil
}
