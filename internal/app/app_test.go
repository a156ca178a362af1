package app

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"mv-hedge-bot/internal/config"
	"mv-hedge-bot/internal/hedge"
	"mv-hedge-bot/internal/metrics"
	"mv-hedge-bot/internal/state"
	"mv-hedge-bot/internal/state/sqlite"
	"mv-hedge-bot/internal/venue"

	"go.uber.org/zap"
)

type fakeVenue struct {
	mu          sync.Mutex
	name        string
	quote       venue.Quote
	fill        venue.Fill
	fillErr     error
	closeErr    error
	closeCalls  int
	marketCalls int
	balance     venue.Balance
}

func newFakeVenue(name string) *fakeVenue {
	return &fakeVenue{
		name:    name,
		quote:   venue.Quote{Bid: 99, Ask: 101},
		fill:    venue.Fill{Filled: true, FilledPrice: 100, FilledSize: 0.01, OrderID: name + "-oid"},
		balance: venue.Balance{Available: 1000, Total: 1000},
	}
}

func (f *fakeVenue) Name() string       { return f.name }
func (f *fakeVenue) PriceDecimals() int { return 2 }
func (f *fakeVenue) SizeDecimals() int  { return 4 }

func (f *fakeVenue) Quote(ctx context.Context, symbol string) (venue.Quote, error) {
	return f.quote, nil
}

func (f *fakeVenue) PlaceMarketOrder(ctx context.Context, order venue.MarketOrder) (venue.Fill, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.marketCalls++
	if f.fillErr != nil {
		return venue.Fill{}, f.fillErr
	}
	return f.fill, nil
}

func (f *fakeVenue) PlaceLimitOrder(ctx context.Context, order venue.LimitOrder) (string, error) {
	return f.name + "-limit", nil
}

func (f *fakeVenue) AttachProtectiveOrders(ctx context.Context, req venue.ProtectiveRequest) (venue.ProtectiveRefs, error) {
	return venue.ProtectiveRefs{TargetOrderID: "tp", StopOrderID: "sl"}, nil
}

func (f *fakeVenue) CancelOrder(ctx context.Context, orderID string) (bool, error) {
	return true, nil
}

func (f *fakeVenue) ClosePosition(ctx context.Context, req venue.CloseRequest) (venue.CloseResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeCalls++
	if f.closeErr != nil {
		return venue.CloseResult{}, f.closeErr
	}
	return venue.CloseResult{Closed: true, ClosePrice: 100}, nil
}

func (f *fakeVenue) Positions(ctx context.Context) ([]venue.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return []venue.Position{{Symbol: "BTC-USDT", Side: venue.Long, Size: 0.01, EntryPrice: 100}}, nil
}

func (f *fakeVenue) Balance(ctx context.Context) (venue.Balance, error) {
	return f.balance, nil
}

type fakeAlerter struct {
	mu       sync.Mutex
	messages []string
	urgent   []string
}

func (f *fakeAlerter) Send(ctx context.Context, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, message)
	return nil
}

func (f *fakeAlerter) SendUrgent(ctx context.Context, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.urgent = append(f.urgent, message)
	return nil
}

func newTestApp(t *testing.T, venues []venue.Venue, alerter *fakeAlerter) *App {
	t.Helper()
	journal, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	t.Cleanup(func() { journal.Close() })
	cfg := &config.Config{
		Hedge: config.HedgeConfig{
			Symbols:      []string{"BTC-USDT"},
			NotionalUSD:  100,
			Leverage:     2,
			HoldDuration: 5 * time.Millisecond,
			CloseFirst:   venues[0].Name(),
			SlippagePct:  3,
		},
		Risk: config.RiskConfig{
			Mode:           "percent",
			TargetPercent:  3,
			StopPercent:    3,
			MaxStopPercent: 15,
		},
	}
	m := metrics.NewNoop()
	log := zap.NewNop()
	return &App{
		cfg:     cfg,
		log:     log,
		journal: journal,
		venues:  venues,
		opener:  hedge.NewOpener(venues, hedge.RetryPolicy{}, m, log),
		closer:  hedge.NewCloser(venues, cfg.Hedge.CloseFirst, cfg.Hedge.SlippagePct, alerter, m, log),
		alerts:  alerter,
		metrics: m,
	}
}

func TestRunCycleCompletes(t *testing.T) {
	alpha := newFakeVenue("alpha")
	beta := newFakeVenue("beta")
	alerter := &fakeAlerter{}
	app := newTestApp(t, []venue.Venue{alpha, beta}, alerter)

	if err := app.runCycle(context.Background(), 1, "BTC-USDT"); err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	record, ok, err := app.journal.LastCycle(context.Background())
	if err != nil || !ok {
		t.Fatalf("expected journal record, ok=%v err=%v", ok, err)
	}
	if record.State != "COMPLETED" {
		t.Fatalf("expected COMPLETED, got %s", record.State)
	}
	if len(record.Legs) != 2 {
		t.Fatalf("expected 2 legs, got %d", len(record.Legs))
	}
	if record.Legs[0].Side == record.Legs[1].Side {
		t.Fatalf("expected opposite sides, got %s/%s", record.Legs[0].Side, record.Legs[1].Side)
	}
	if alpha.closeCalls != 1 || beta.closeCalls != 1 {
		t.Fatalf("expected one close per venue, got %d/%d", alpha.closeCalls, beta.closeCalls)
	}
	if len(alerter.messages) == 0 || !strings.Contains(alerter.messages[len(alerter.messages)-1], "COMPLETED") {
		t.Fatalf("expected completion summary alert, got %#v", alerter.messages)
	}
}

func TestRunCycleJournalsCloseFailure(t *testing.T) {
	alpha := newFakeVenue("alpha")
	beta := newFakeVenue("beta")
	alpha.closeErr = errors.New("venue unreachable")
	alerter := &fakeAlerter{}
	app := newTestApp(t, []venue.Venue{alpha, beta}, alerter)

	if err := app.runCycle(context.Background(), 1, "BTC-USDT"); err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	record, ok, err := app.journal.LastCycle(context.Background())
	if err != nil || !ok {
		t.Fatalf("expected journal record, ok=%v err=%v", ok, err)
	}
	if record.State != "FAILED" {
		t.Fatalf("expected FAILED, got %s", record.State)
	}
	if !record.HasCloseFailure() {
		t.Fatalf("expected close failure in record: %#v", record)
	}
	// The second leg must not have been touched after the first failure.
	if beta.closeCalls != 0 {
		t.Fatalf("expected beta untouched, got %d close calls", beta.closeCalls)
	}
	urgent := false
	for _, msg := range alerter.urgent {
		if strings.Contains(msg, "alpha") {
			urgent = true
		}
	}
	if !urgent {
		t.Fatalf("expected urgent alert naming alpha, got %#v", alerter.urgent)
	}
}

func TestReconcileStartupEscalatesOpenLegs(t *testing.T) {
	alerter := &fakeAlerter{}
	app := newTestApp(t, []venue.Venue{newFakeVenue("alpha"), newFakeVenue("beta")}, alerter)

	record := state.CycleRecord{
		CycleNumber: 7,
		Symbol:      "BTC-USDT",
		State:       "FAILED",
		Legs: []state.LegRecord{
			{Venue: "beta", Side: "SHORT", Status: "CLOSE_FAILED", FilledSize: 0.01, EntryPrice: 65000},
		},
	}
	app.reconcileStartup(context.Background(), record)
	if len(alerter.urgent) != 1 {
		t.Fatalf("expected one startup escalation, got %#v", alerter.urgent)
	}
	if !strings.Contains(alerter.urgent[0], "beta") || !strings.Contains(alerter.urgent[0], "manual intervention") {
		t.Fatalf("unexpected escalation: %q", alerter.urgent[0])
	}
}

func TestReconcileStartupQuietOnCleanRecord(t *testing.T) {
	alerter := &fakeAlerter{}
	app := newTestApp(t, []venue.Venue{newFakeVenue("alpha"), newFakeVenue("beta")}, alerter)

	app.reconcileStartup(context.Background(), state.CycleRecord{
		CycleNumber: 3,
		State:       "COMPLETED",
		Legs:        []state.LegRecord{{Venue: "alpha", Status: "CLOSED"}},
	})
	if len(alerter.messages) != 0 || len(alerter.urgent) != 0 {
		t.Fatalf("expected no alert, got %#v %#v", alerter.messages, alerter.urgent)
	}
}
