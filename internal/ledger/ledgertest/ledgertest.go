// Package ledgertest holds the behaviour every ledger engine must share.
package ledgertest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/danmuck/payrouter/internal/ledger"
	"github.com/danmuck/payrouter/internal/txn"
)

// Factory returns a fresh, empty ledger for one subtest.
type Factory func(t *testing.T) ledger.Ledger

func GatewayRecord(protocol string) txn.Record {
	return txn.Record{
		Protocol:       protocol,
		Amount:         "10.50",
		ApprovalCode:   "1234",
		SettlementType: txn.SettlementGateway,
		Status:         txn.GatewayApproved,
		Channel:        txn.ChannelHTTP,
		TransactionID:  "txn_0123456789abcdef0123456789abcdef",
	}
}

func PayoutRecord(protocol, hash string) txn.Record {
	status := "success"
	if hash == "" {
		status = "error"
	}
	return txn.Record{
		Protocol:       protocol,
		Amount:         "50.00",
		ApprovalCode:   "123456",
		SettlementType: txn.SettlementPayout,
		Status:         status,
		TxHash:         txn.OptionalString(hash),
		Channel:        txn.ChannelTerminal,
		Network:        txn.NetworkTRC20,
	}
}

// Run exercises append, ordering, limits, validation and concurrent appends.
func Run(t *testing.T, newLedger Factory) {
	t.Run("append assigns id and timestamp", func(t *testing.T) {
		l := newLedger(t)
		got, err := l.Append(context.Background(), GatewayRecord("p1"))
		if err != nil {
			t.Fatalf("append: %v", err)
		}
		if got.ID == "" || got.Timestamp.IsZero() {
			t.Fatalf("append must assign id and timestamp: %+v", got)
		}
		hist, err := l.History(context.Background(), 0)
		if err != nil {
			t.Fatalf("history: %v", err)
		}
		if len(hist) != 1 {
			t.Fatalf("expected one record, got %d", len(hist))
		}
		assertSame(t, hist[0], got)
	})

	t.Run("history is newest first and honors limit", func(t *testing.T) {
		l := newLedger(t)
		var appended []txn.Record
		for i := 0; i < 5; i++ {
			rec, err := l.Append(context.Background(), GatewayRecord(fmt.Sprintf("p%d", i)))
			if err != nil {
				t.Fatalf("append %d: %v", i, err)
			}
			appended = append(appended, rec)
		}
		all, err := l.History(context.Background(), -1)
		if err != nil {
			t.Fatalf("history: %v", err)
		}
		if len(all) != 5 {
			t.Fatalf("expected 5 records, got %d", len(all))
		}
		for i := range all {
			assertSame(t, all[i], appended[len(appended)-1-i])
		}
		two, err := l.History(context.Background(), 2)
		if err != nil {
			t.Fatalf("history limit: %v", err)
		}
		if len(two) != 2 || two[0].Protocol != "p4" || two[1].Protocol != "p3" {
			t.Fatalf("unexpected limited history: %+v", two)
		}
		many, err := l.History(context.Background(), 50)
		if err != nil || len(many) != 5 {
			t.Fatalf("limit above size: %d records, err %v", len(many), err)
		}
	})

	t.Run("payout hash is nullable", func(t *testing.T) {
		l := newLedger(t)
		if _, err := l.Append(context.Background(), PayoutRecord("ok", "0xfeed")); err != nil {
			t.Fatalf("append success: %v", err)
		}
		if _, err := l.Append(context.Background(), PayoutRecord("failed", "")); err != nil {
			t.Fatalf("append failure: %v", err)
		}
		hist, err := l.History(context.Background(), 0)
		if err != nil {
			t.Fatalf("history: %v", err)
		}
		if hist[0].TxHash != nil || hist[0].Status != "error" {
			t.Fatalf("failed payout must keep a null hash: %+v", hist[0])
		}
		if hist[1].Hash() != "0xfeed" || hist[1].Network != txn.NetworkTRC20 {
			t.Fatalf("unexpected success record: %+v", hist[1])
		}
	})

	t.Run("invalid record is rejected", func(t *testing.T) {
		l := newLedger(t)
		bad := GatewayRecord("p1")
		bad.SettlementType = "wire"
		if _, err := l.Append(context.Background(), bad); !errors.Is(err, ledger.ErrInvalidRecord) {
			t.Fatalf("expected ErrInvalidRecord, got %v", err)
		}
		hist, err := l.History(context.Background(), 0)
		if err != nil || len(hist) != 0 {
			t.Fatalf("rejected record must not be stored: %d records, err %v", len(hist), err)
		}
	})

	t.Run("concurrent appends are all stored", func(t *testing.T) {
		l := newLedger(t)
		const workers = 8
		const perWorker = 10
		var wg sync.WaitGroup
		errs := make(chan error, workers*perWorker)
		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func(w int) {
				defer wg.Done()
				for i := 0; i < perWorker; i++ {
					if _, err := l.Append(context.Background(), GatewayRecord(fmt.Sprintf("w%d-%d", w, i))); err != nil {
						errs <- err
					}
				}
			}(w)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			t.Fatalf("concurrent append: %v", err)
		}
		hist, err := l.History(context.Background(), 0)
		if err != nil {
			t.Fatalf("history: %v", err)
		}
		if len(hist) != workers*perWorker {
			t.Fatalf("expected %d records, got %d", workers*perWorker, len(hist))
		}
		seen := make(map[string]bool, len(hist))
		for _, rec := range hist {
			if seen[rec.ID] {
				t.Fatalf("duplicate record id %s", rec.ID)
			}
			seen[rec.ID] = true
		}
	})

	t.Run("canceled context is refused", func(t *testing.T) {
		l := newLedger(t)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if _, err := l.Append(ctx, GatewayRecord("p1")); err == nil {
			t.Fatalf("expected canceled append to fail")
		}
	})
}

func assertSame(t *testing.T, got, want txn.Record) {
	t.Helper()
	if got.ID != want.ID ||
		got.Protocol != want.Protocol ||
		got.Amount != want.Amount ||
		got.ApprovalCode != want.ApprovalCode ||
		got.SettlementType != want.SettlementType ||
		got.Status != want.Status ||
		got.Hash() != want.Hash() ||
		got.Channel != want.Channel ||
		got.Network != want.Network ||
		got.TransactionID != want.TransactionID ||
		!got.Timestamp.Equal(want.Timestamp) {
		t.Fatalf("record mismatch:\n got %+v\nwant %+v", got, want)
	}
}
