package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/transferval/internal/domain"
	"github.com/punchamoorthee/transferval/internal/models"
)

// Schema creates the audit table. cmd/migrate applies it.
const Schema = `
CREATE TABLE IF NOT EXISTS transfer_validations (
	id             TEXT PRIMARY KEY,
	numero_vale    TEXT NOT NULL,
	cajero_nombre  TEXT NOT NULL,
	cliente_nombre TEXT NOT NULL,
	monto          NUMERIC(14, 2) NOT NULL CHECK (monto > 0),
	cuenta_destino TEXT NOT NULL,
	referencia     TEXT NOT NULL DEFAULT '',
	status         TEXT NOT NULL,
	message        TEXT NOT NULL DEFAULT '',
	admin_usuario  TEXT NOT NULL DEFAULT '',
	created_at     TIMESTAMPTZ NOT NULL,
	resolved_at    TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS transfer_validations_vale_idx ON transfer_validations (numero_vale);
`

type PostgresStore struct {
	Db *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &PostgresStore{Db: pool}, nil
}

func (s *PostgresStore) Close() {
	s.Db.Close()
}

// Record inserts rec. A second record for the same id is ignored, matching
// the single terminal transition of a request.
func (s *PostgresStore) Record(ctx context.Context, rec models.AuditRecord) error {
	_, err := s.Db.Exec(ctx,
		`INSERT INTO transfer_validations
			(id, numero_vale, cajero_nombre, cliente_nombre, monto, cuenta_destino, referencia,
			 status, message, admin_usuario, created_at, resolved_at)
		 VALUES ($1, $2, $3, $4, $5::numeric, $6, $7, $8, $9, $10, $11, $12)
		 ON CONFLICT (id) DO NOTHING`,
		string(rec.ID), rec.NumeroVale, rec.CajeroNombre, rec.ClienteNombre, rec.Monto.String(),
		rec.CuentaDestino, rec.Referencia, string(rec.Status), rec.Message, rec.AdminUsuario,
		time.UnixMilli(rec.CreatedAt), time.UnixMilli(rec.ResolvedAt),
	)
	if err != nil {
		return fmt.Errorf("audit insert failed: %w", err)
	}
	return nil
}

const auditColumns = `id, numero_vale, cajero_nombre, cliente_nombre, monto::text, cuenta_destino, referencia,
	        status, message, admin_usuario, created_at, resolved_at`

// scanRecord reads one row selected with auditColumns.
func scanRecord(row pgx.Row) (models.AuditRecord, error) {
	var (
		rec                   models.AuditRecord
		rawID, status, monto  string
		createdAt, resolvedAt time.Time
	)
	if err := row.Scan(&rawID, &rec.NumeroVale, &rec.CajeroNombre, &rec.ClienteNombre, &monto, &rec.CuentaDestino,
		&rec.Referencia, &status, &rec.Message, &rec.AdminUsuario, &createdAt, &resolvedAt); err != nil {
		return rec, err
	}

	m, err := decimal.NewFromString(monto)
	if err != nil {
		return rec, fmt.Errorf("audit monto %q: %w", monto, err)
	}
	rec.Monto = m
	rec.ID = domain.ServerID(rawID)
	rec.Status = domain.Status(status)
	rec.CreatedAt = createdAt.UnixMilli()
	rec.ResolvedAt = resolvedAt.UnixMilli()
	return rec, nil
}

// Get retrieves the audit record of one validation.
func (s *PostgresStore) Get(ctx context.Context, id domain.ServerID) (*models.AuditRecord, error) {
	rec, err := scanRecord(s.Db.QueryRow(ctx,
		`SELECT `+auditColumns+` FROM transfer_validations WHERE id = $1`, string(id)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("audit query failed: %w", err)
	}
	return &rec, nil
}

// ListByVale returns every validation recorded for a voucher, newest first.
func (s *PostgresStore) ListByVale(ctx context.Context, numeroVale string) ([]models.AuditRecord, error) {
	rows, err := s.Db.Query(ctx,
		`SELECT `+auditColumns+` FROM transfer_validations WHERE numero_vale = $1 ORDER BY resolved_at DESC`,
		numeroVale)
	if err != nil {
		return nil, fmt.Errorf("audit list failed: %w", err)
	}
	defer rows.Close()

	var out []models.AuditRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("audit scan failed: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
