package sqlite

import (
	"context"
	"testing"

	"mv-hedge-bot/internal/state"
)

func TestJournalRoundTrip(t *testing.T) {
	journal, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to open journal: %v", err)
	}
	defer journal.Close()

	ctx := context.Background()
	record := state.CycleRecord{
		CycleID:     "cycle-1",
		CycleNumber: 1,
		Symbol:      "BTC-USDT",
		State:       "COMPLETED",
		Legs: []state.LegRecord{
			{Venue: "alpha", Side: "LONG", Status: "CLOSED", EntryPrice: 65000, ExitPrice: 66950, FilledSize: 0.01, PnlPercent: 3},
			{Venue: "beta", Side: "SHORT", Status: "CLOSED", EntryPrice: 65010, ExitPrice: 66960, FilledSize: 0.01, PnlPercent: -3},
		},
		TotalCostUSD: 1.25,
		FinishedAtMS: 1000,
	}
	if err := journal.SaveCycle(ctx, record); err != nil {
		t.Fatalf("save cycle: %v", err)
	}

	got, ok, err := journal.LastCycle(ctx)
	if err != nil {
		t.Fatalf("last cycle: %v", err)
	}
	if !ok {
		t.Fatalf("expected a cycle record")
	}
	if got.CycleID != record.CycleID || got.State != record.State || len(got.Legs) != 2 {
		t.Fatalf("unexpected record: %#v", got)
	}
	if got.Legs[1].Venue != "beta" || got.Legs[1].Side != "SHORT" {
		t.Fatalf("unexpected second leg: %#v", got.Legs[1])
	}
}

func TestJournalLastCyclePicksNewest(t *testing.T) {
	journal, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to open journal: %v", err)
	}
	defer journal.Close()

	ctx := context.Background()
	first := state.CycleRecord{CycleID: "cycle-1", CycleNumber: 1, Symbol: "BTC-USDT", State: "COMPLETED", FinishedAtMS: 1000}
	second := state.CycleRecord{CycleID: "cycle-2", CycleNumber: 2, Symbol: "BTC-USDT", State: "FAILED", FinishedAtMS: 2000,
		Legs: []state.LegRecord{{Venue: "alpha", Status: "CLOSE_FAILED"}}}
	if err := journal.SaveCycle(ctx, first); err != nil {
		t.Fatalf("save first: %v", err)
	}
	if err := journal.SaveCycle(ctx, second); err != nil {
		t.Fatalf("save second: %v", err)
	}

	got, ok, err := journal.LastCycle(ctx)
	if err != nil {
		t.Fatalf("last cycle: %v", err)
	}
	if !ok || got.CycleID != "cycle-2" {
		t.Fatalf("expected newest record, got %#v (ok=%v)", got, ok)
	}
	if !got.HasCloseFailure() {
		t.Fatalf("expected close failure to survive round trip")
	}
}

func TestJournalEmpty(t *testing.T) {
	journal, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to open journal: %v", err)
	}
	defer journal.Close()

	_, ok, err := journal.LastCycle(context.Background())
	if err != nil {
		t.Fatalf("last cycle: %v", err)
	}
	if ok {
		t.Fatalf("expected empty journal")
	}
}
