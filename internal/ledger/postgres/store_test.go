package postgres

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/payrouter/internal/ledger"
	"github.com/danmuck/payrouter/internal/ledger/ledgertest"
	"github.com/danmuck/payrouter/internal/testutil/testlog"
	"github.com/danmuck/payrouter/internal/txn"
)

func TestOpenRequiresDSN(t *testing.T) {
	testlog.Start(t)
	if _, err := Open("  "); err == nil {
		t.Fatal("expected empty dsn error")
	}
	if _, err := New(nil); err == nil {
		t.Fatal("expected nil db error")
	}
}

func TestRowRoundTrip(t *testing.T) {
	testlog.Start(t)
	ts := time.Date(2026, time.April, 1, 12, 0, 0, 0, time.UTC)
	for _, rec := range []txn.Record{
		ledgertest.GatewayRecord("gw"),
		ledgertest.PayoutRecord("ok", "0xabc"),
		ledgertest.PayoutRecord("failed", ""),
	} {
		rec.ID = "id-" + rec.Protocol
		rec.Timestamp = ts
		row := toRow(rec)
		if row.ApprovalCode != rec.ApprovalCode || row.SettlementType != rec.SettlementType {
			t.Fatalf("row lost fields: %+v", row)
		}
		back := row.record()
		if back.ID != rec.ID || back.Hash() != rec.Hash() || (back.TxHash == nil) != (rec.TxHash == nil) {
			t.Fatalf("round trip mismatch: %+v vs %+v", back, rec)
		}
		if !back.Timestamp.Equal(ts) || back.Channel != rec.Channel || back.Network != rec.Network {
			t.Fatalf("round trip mismatch: %+v vs %+v", back, rec)
		}
	}
	if (recordRow{}).TableName() != "ledger_records" {
		t.Fatalf("unexpected table name")
	}
}

// liveDSNEnv names a disposable database; its ledger_records table is truncated.
const liveDSNEnv = "PAYROUTER_TEST_POSTGRES_DSN"

func openLiveStore(t *testing.T) *Store {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv(liveDSNEnv))
	if dsn == "" {
		t.Skipf("%s not set", liveDSNEnv)
	}
	store, err := Open(dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if err := store.db.Exec("TRUNCATE ledger_records RESTART IDENTITY").Error; err != nil {
		t.Fatalf("truncate: %v", err)
	}
	return store
}

func TestLiveStoreConformance(t *testing.T) {
	testlog.Start(t)
	openLiveStore(t)
	ledgertest.Run(t, func(t *testing.T) ledger.Ledger {
		return openLiveStore(t)
	})
}

func TestLiveStoreKeepsLongCallerValues(t *testing.T) {
	testlog.Start(t)
	store := openLiveStore(t)
	rec := ledgertest.PayoutRecord("p", "")
	rec.Network = txn.Network(strings.Repeat("N", 64))
	rec.Status = strings.Repeat("s", 64)
	rec.Amount = "1" + strings.Repeat("0", 100)
	if _, err := store.Append(context.Background(), rec); err != nil {
		t.Fatalf("append long values: %v", err)
	}
	hist, err := store.History(context.Background(), 1)
	if err != nil || len(hist) != 1 {
		t.Fatalf("history: %d records, err %v", len(hist), err)
	}
	if hist[0].Network != rec.Network || hist[0].Status != rec.Status || hist[0].Amount != rec.Amount {
		t.Fatalf("long values not preserved: %+v", hist[0])
	}
}
