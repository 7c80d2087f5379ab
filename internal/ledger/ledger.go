// Package ledger defines the append-only transaction record store and its
// in-memory engine. Durable engines live in the sqlite, badger and postgres
// subpackages.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/payrouter/internal/txn"
	"github.com/google/uuid"
)

var (
	ErrInvalidRecord = errors.New("ledger: invalid record")
	ErrClosed        = errors.New("ledger: closed")
)

// Ledger appends one record per processed request and lists them back.
// Implementations must be safe for concurrent use.
type Ledger interface {
	// Append assigns ID and Timestamp and writes rec atomically.
	Append(ctx context.Context, rec txn.Record) (txn.Record, error)
	// History returns records newest first; limit <= 0 returns all.
	History(ctx context.Context, limit int) ([]txn.Record, error)
}

// Pinger is implemented by engines that can report backend reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Stamp validates rec and fills the fields owned by the ledger.
// Timestamps are UTC with millisecond precision so every engine round-trips
// them identically.
func Stamp(rec txn.Record, now time.Time) (txn.Record, error) {
	if strings.TrimSpace(rec.Protocol) == "" {
		return txn.Record{}, fmt.Errorf("%w: protocol is required", ErrInvalidRecord)
	}
	if rec.SettlementType != txn.SettlementGateway && rec.SettlementType != txn.SettlementPayout {
		return txn.Record{}, fmt.Errorf("%w: settlement type %q", ErrInvalidRecord, rec.SettlementType)
	}
	if strings.TrimSpace(rec.Status) == "" {
		return txn.Record{}, fmt.Errorf("%w: status is required", ErrInvalidRecord)
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	rec.Timestamp = now.UTC().Truncate(time.Millisecond)
	return rec, nil
}

// Window converts a History limit into a slice bound for n stored records.
func Window(limit, n int) int {
	if limit <= 0 || limit > n {
		return n
	}
	return limit
}
