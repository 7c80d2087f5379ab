// Package sqlite provides a SQLite-backed ledger.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/payrouter/internal/ledger"
	"github.com/danmuck/payrouter/internal/ledger/sqlite/migrations"
	"github.com/danmuck/payrouter/internal/txn"
	_ "modernc.org/sqlite"
)

// Store persists ledger records in SQLite.
type Store struct {
	sqlDB *sql.DB
	mu    sync.Mutex
	now   func() time.Time
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens a SQLite ledger at path and applies embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One writer connection keeps appends free of SQLITE_BUSY.
	sqlDB.SetMaxOpenConns(1)
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(context.Background(), sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB, now: time.Now}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.sqlDB == nil {
		return ledger.ErrClosed
	}
	return s.sqlDB.PingContext(ctx)
}

// Append inserts one record inside a transaction.
func (s *Store) Append(ctx context.Context, rec txn.Record) (txn.Record, error) {
	if err := ctx.Err(); err != nil {
		return txn.Record{}, err
	}
	if s == nil || s.sqlDB == nil {
		return txn.Record{}, ledger.ErrClosed
	}
	stamped, err := ledger.Stamp(rec, s.now())
	if err != nil {
		return txn.Record{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return txn.Record{}, fmt.Errorf("begin append: %w", err)
	}
	_, err = tx.ExecContext(
		ctx,
		`INSERT INTO ledger_records (
		   id,
		   protocol,
		   amount,
		   auth_code,
		   transaction_type,
		   status,
		   tx_hash,
		   created_at,
		   channel,
		   network,
		   transaction_id
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		stamped.ID,
		stamped.Protocol,
		stamped.Amount,
		stamped.ApprovalCode,
		stamped.SettlementType,
		stamped.Status,
		nullString(stamped.TxHash),
		toMillis(stamped.Timestamp),
		string(stamped.Channel),
		string(stamped.Network),
		stamped.TransactionID,
	)
	if err != nil {
		_ = tx.Rollback()
		return txn.Record{}, fmt.Errorf("append record: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return txn.Record{}, fmt.Errorf("commit record: %w", err)
	}
	return stamped, nil
}

// History returns records newest first.
func (s *Store) History(ctx context.Context, limit int) ([]txn.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, ledger.ErrClosed
	}
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT id, protocol, amount, auth_code, transaction_type, status, tx_hash,
		        created_at, channel, network, transaction_id
		   FROM ledger_records
		  ORDER BY seq DESC
		  LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []txn.Record
	for rows.Next() {
		var (
			rec       txn.Record
			hash      sql.NullString
			createdAt int64
			channel   string
			network   string
		)
		if err := rows.Scan(
			&rec.ID,
			&rec.Protocol,
			&rec.Amount,
			&rec.ApprovalCode,
			&rec.SettlementType,
			&rec.Status,
			&hash,
			&createdAt,
			&channel,
			&network,
			&rec.TransactionID,
		); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		if hash.Valid {
			rec.TxHash = txn.OptionalString(hash.String)
		}
		rec.Timestamp = fromMillis(createdAt)
		rec.Channel = txn.Channel(channel)
		rec.Network = txn.Network(network)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return out, nil
}

func nullString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}
