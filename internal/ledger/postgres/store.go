// Package postgres provides a Postgres ledger through GORM.
package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/payrouter/internal/ledger"
	"github.com/danmuck/payrouter/internal/txn"
	"github.com/rs/zerolog/log"
	pgdriver "gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// recordRow is the ledger_records table.
type recordRow struct {
	Seq            uint64    `gorm:"column:seq;primaryKey;autoIncrement"`
	ID             string    `gorm:"column:id;type:varchar(36);uniqueIndex;not null"`
	Protocol       string    `gorm:"column:protocol;type:text;not null"`
	Amount         string    `gorm:"column:amount;type:text;not null"`
	ApprovalCode   string    `gorm:"column:auth_code;type:text;not null"`
	SettlementType string    `gorm:"column:transaction_type;type:varchar(16);not null"`
	Status         string    `gorm:"column:status;type:text;not null"`
	TxHash         *string   `gorm:"column:tx_hash;type:text"`
	CreatedAt      time.Time `gorm:"column:created_at;not null;index"`
	Channel        string    `gorm:"column:channel;type:varchar(16);not null;default:''"`
	Network        string    `gorm:"column:network;type:text;not null;default:''"`
	TransactionID  string    `gorm:"column:transaction_id;type:text;not null;default:''"`
}

func (recordRow) TableName() string {
	return "ledger_records"
}

func toRow(rec txn.Record) recordRow {
	return recordRow{
		ID:             rec.ID,
		Protocol:       rec.Protocol,
		Amount:         rec.Amount,
		ApprovalCode:   rec.ApprovalCode,
		SettlementType: rec.SettlementType,
		Status:         rec.Status,
		TxHash:         rec.TxHash,
		CreatedAt:      rec.Timestamp,
		Channel:        string(rec.Channel),
		Network:        string(rec.Network),
		TransactionID:  rec.TransactionID,
	}
}

func (r recordRow) record() txn.Record {
	return txn.Record{
		ID:             r.ID,
		Protocol:       r.Protocol,
		Amount:         r.Amount,
		ApprovalCode:   r.ApprovalCode,
		SettlementType: r.SettlementType,
		Status:         r.Status,
		TxHash:         r.TxHash,
		Timestamp:      r.CreatedAt.UTC(),
		Channel:        txn.Channel(r.Channel),
		Network:        txn.Network(r.Network),
		TransactionID:  r.TransactionID,
	}
}

type Store struct {
	db  *gorm.DB
	now func() time.Time
}

// Open connects to dsn and migrates the ledger table.
func Open(dsn string) (*Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	db, err := gorm.Open(pgdriver.Open(dsn), &gorm.Config{Logger: newGormLogger()})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return New(db)
}

// New wraps an existing GORM handle and migrates the ledger table.
func New(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("gorm db is required")
	}
	if err := db.AutoMigrate(&recordRow{}); err != nil {
		return nil, fmt.Errorf("migrate ledger_records: %w", err)
	}
	log.Info().Str("table", recordRow{}.TableName()).Msg("ledger_migrated")
	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *Store) Append(ctx context.Context, rec txn.Record) (txn.Record, error) {
	if err := ctx.Err(); err != nil {
		return txn.Record{}, err
	}
	stamped, err := ledger.Stamp(rec, s.now())
	if err != nil {
		return txn.Record{}, err
	}
	row := toRow(stamped)
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return txn.Record{}, fmt.Errorf("append record: %w", err)
	}
	return stamped, nil
}

func (s *Store) History(ctx context.Context, limit int) ([]txn.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = -1
	}
	var rows []recordRow
	if err := s.db.WithContext(ctx).Order("seq desc").Limit(limit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	out := make([]txn.Record, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.record())
	}
	return out, nil
}

type gormWriter struct{}

func (gormWriter) Printf(format string, args ...any) {
	log.Warn().Str("component", "gorm").Msgf(format, args...)
}

func newGormLogger() gormlogger.Interface {
	return gormlogger.New(gormWriter{}, gormlogger.Config{
		SlowThreshold:             200 * time.Millisecond,
		LogLevel:                  gormlogger.Warn,
		IgnoreRecordNotFoundError: true,
		Colorful:                  false,
	})
}
