// Package badger provides an embedded BadgerDB ledger.
//
// Records are JSON values under rec/<big-endian sequence>, so a reverse
// prefix scan yields newest first.
package badger

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/payrouter/internal/ledger"
	"github.com/danmuck/payrouter/internal/txn"
	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	recordPrefix = []byte("rec/")
	sequenceKey  = []byte("seq/rec")
)

const sequenceBandwidth = 128

type Store struct {
	db  *badgerdb.DB
	seq *badgerdb.Sequence
	now func() time.Time

	closeOnce sync.Once
	closeErr  error
}

// Open opens (or creates) a ledger directory at path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	return open(badgerdb.DefaultOptions(path))
}

// OpenInMemory opens a ledger that keeps everything in memory.
func OpenInMemory() (*Store, error) {
	return open(badgerdb.DefaultOptions("").WithInMemory(true))
}

func open(opts badgerdb.Options) (*Store, error) {
	opts = opts.WithLogger(badgerLogger{log: log.With().Str("component", "badger").Logger()})
	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger db: %w", err)
	}
	seq, err := db.GetSequence(sequenceKey, sequenceBandwidth)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open record sequence: %w", err)
	}
	return &Store{db: db, seq: seq, now: time.Now}, nil
}

func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		releaseErr := s.seq.Release()
		closeErr := s.db.Close()
		s.closeErr = errors.Join(releaseErr, closeErr)
	})
	return s.closeErr
}

func (s *Store) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.db.IsClosed() {
		return ledger.ErrClosed
	}
	return nil
}

func (s *Store) Append(ctx context.Context, rec txn.Record) (txn.Record, error) {
	if err := ctx.Err(); err != nil {
		return txn.Record{}, err
	}
	if s.db.IsClosed() {
		return txn.Record{}, ledger.ErrClosed
	}
	stamped, err := ledger.Stamp(rec, s.now())
	if err != nil {
		return txn.Record{}, err
	}
	value, err := json.Marshal(stamped)
	if err != nil {
		return txn.Record{}, fmt.Errorf("encode record: %w", err)
	}
	n, err := s.seq.Next()
	if err != nil {
		return txn.Record{}, fmt.Errorf("next record sequence: %w", err)
	}
	if err := s.db.Update(func(tx *badgerdb.Txn) error {
		return tx.Set(recordKey(n), value)
	}); err != nil {
		return txn.Record{}, fmt.Errorf("append record: %w", err)
	}
	return stamped, nil
}

func (s *Store) History(ctx context.Context, limit int) ([]txn.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.db.IsClosed() {
		return nil, ledger.ErrClosed
	}
	var out []txn.Record
	err := s.db.View(func(tx *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = recordPrefix
		it := tx.NewIterator(opts)
		defer it.Close()

		for it.Seek(recordKey(^uint64(0))); it.ValidForPrefix(recordPrefix); it.Next() {
			if limit > 0 && len(out) >= limit {
				break
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			var rec txn.Record
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return fmt.Errorf("decode record %x: %w", it.Item().Key(), err)
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	return out, nil
}

func recordKey(n uint64) []byte {
	key := make([]byte, len(recordPrefix)+8)
	copy(key, recordPrefix)
	binary.BigEndian.PutUint64(key[len(recordPrefix):], n)
	return key
}

// badgerLogger routes badger's internal logging through zerolog.
type badgerLogger struct {
	log zerolog.Logger
}

func (l badgerLogger) Errorf(format string, args ...any) {
	l.log.Error().Msgf(strings.TrimSpace(format), args...)
}

func (l badgerLogger) Warningf(format string, args ...any) {
	l.log.Warn().Msgf(strings.TrimSpace(format), args...)
}

func (l badgerLogger) Infof(format string, args ...any) {
	l.log.Debug().Msgf(strings.TrimSpace(format), args...)
}

func (l badgerLogger) Debugf(format string, args ...any) {
	l.log.Trace().Msgf(strings.TrimSpace(format), args...)
}
