package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"mv-hedge-bot/internal/alerts"
	"mv-hedge-bot/internal/config"
	"mv-hedge-bot/internal/hedge"
	"mv-hedge-bot/internal/history"
	"mv-hedge-bot/internal/metrics"
	"mv-hedge-bot/internal/state"
	"mv-hedge-bot/internal/state/sqlite"
	"mv-hedge-bot/internal/venue"
	"mv-hedge-bot/internal/venue/rest"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// App wires the venues, hedge core, journal and reporting together and runs
// the cycle loop.
type App struct {
	cfg     *config.Config
	log     *zap.Logger
	journal state.Journal
	venues  []venue.Venue
	opener  *hedge.Opener
	closer  *hedge.Closer
	alerts  hedge.Alerter
	metrics *metrics.Metrics
	promH   http.Handler
	history *history.Writer
}

func New(cfg *config.Config, log *zap.Logger) (*App, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.State.SQLitePath), 0o755); err != nil {
		return nil, err
	}
	journal, err := sqlite.New(cfg.State.SQLitePath)
	if err != nil {
		return nil, err
	}
	venues := make([]venue.Venue, 0, len(cfg.Venues))
	for _, vc := range cfg.Venues {
		client, err := rest.New(vc, log)
		if err != nil {
			_ = journal.Close()
			return nil, err
		}
		venues = append(venues, client)
	}
	m := metrics.NewNoop()
	var promH http.Handler
	if cfg.Metrics.Enabled {
		prom := metrics.NewPrometheus()
		m = prom.Metrics
		promH = prom.Handler()
	}
	alertsClient := alerts.NewTelegram(cfg.Telegram, log)
	historyWriter, err := history.New(cfg.History, log)
	if err != nil {
		_ = journal.Close()
		return nil, err
	}
	policy := hedge.RetryPolicy{Rules: retryRules(cfg.Retry)}
	return &App{
		cfg:     cfg,
		log:     log,
		journal: journal,
		venues:  venues,
		opener:  hedge.NewOpener(venues, policy, m, log),
		closer:  hedge.NewCloser(venues, cfg.Hedge.CloseFirst, cfg.Hedge.SlippagePct, alertsClient, m, log),
		alerts:  alertsClient,
		metrics: m,
		promH:   promH,
		history: historyWriter,
	}, nil
}

func retryRules(rules []config.RetryRule) []hedge.RetryRule {
	out := make([]hedge.RetryRule, 0, len(rules))
	for _, r := range rules {
		out = append(out, hedge.RetryRule{Match: r.Match, StopPercent: r.StopPercent})
	}
	return out
}

func (a *App) Run(ctx context.Context) error {
	defer a.journal.Close()
	defer a.history.Close()
	a.history.Start(ctx)
	if a.promH != nil {
		a.serveMetrics(ctx)
	}

	startNumber := 1
	if record, ok, err := a.journal.LastCycle(ctx); err != nil {
		a.log.Warn("journal read failed on startup", zap.Error(err))
	} else if ok {
		startNumber = record.CycleNumber + 1
		a.reconcileStartup(ctx, record)
	}

	for i := 0; ; i++ {
		if a.cfg.Hedge.Cycles > 0 && i >= a.cfg.Hedge.Cycles {
			a.log.Info("configured cycle count reached", zap.Int("cycles", a.cfg.Hedge.Cycles))
			return nil
		}
		number := startNumber + i
		symbol := a.cfg.Hedge.Symbols[i%len(a.cfg.Hedge.Symbols)]
		if err := a.runCycle(ctx, number, symbol); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			a.log.Warn("cycle aborted", zap.Int("cycle", number), zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(a.cfg.Hedge.WaitBetween):
		}
	}
}

// reconcileStartup checks the last journaled cycle for legs that failed to
// close in a previous run and escalates them before any new cycle starts.
func (a *App) reconcileStartup(ctx context.Context, record state.CycleRecord) {
	open := record.OpenLegs()
	if len(open) == 0 {
		return
	}
	lines := []string{fmt.Sprintf("previous run left %d position(s) possibly open (cycle %d, %s):",
		len(open), record.CycleNumber, record.Symbol)}
	for _, leg := range open {
		lines = append(lines, fmt.Sprintf("%s %s size %.8g entry %.8g, manual intervention required",
			leg.Venue, leg.Side, leg.FilledSize, leg.EntryPrice))
	}
	msg := strings.Join(lines, "\n")
	a.log.Error("unresolved close failure from previous run",
		zap.Int("cycle", record.CycleNumber),
		zap.Int("open_legs", len(open)),
	)
	if err := a.alerts.SendUrgent(ctx, msg); err != nil {
		a.log.Error("startup escalation alert failed", zap.Error(err))
	}
}

func (a *App) runCycle(ctx context.Context, number int, symbol string) error {
	before, err := hedge.SnapshotBalances(ctx, a.venues)
	if err != nil {
		return fmt.Errorf("balance snapshot before cycle %d: %w", number, err)
	}

	cycle := hedge.NewCycle(uuid.NewString(), number, symbol)
	start := time.Now()
	a.log.Info("cycle starting",
		zap.Int("cycle", number),
		zap.String("symbol", symbol),
		zap.Float64("notional_usd", a.cfg.Hedge.NotionalUSD),
	)

	openErr := a.opener.Open(ctx, cycle, hedge.OpenRequest{
		Symbol:         symbol,
		NotionalUSD:    a.cfg.Hedge.NotionalUSD,
		Leverage:       a.cfg.Hedge.Leverage,
		Risk:           riskParams(a.cfg.Risk),
		MaxSlippagePct: a.cfg.Hedge.MaxSlippagePct,
	})
	if openErr != nil {
		a.log.Warn("cycle open failed", zap.Int("cycle", number), zap.Error(openErr))
		a.finishCycle(ctx, cycle, before)
		return nil
	}

	if err := a.hold(ctx, cycle, start); err != nil {
		return err
	}

	if err := a.closer.Close(ctx, cycle); err != nil {
		// Escalation already happened inside the sequencer; the cycle is
		// terminal either way.
		a.log.Error("cycle close failed", zap.Int("cycle", number), zap.Error(err))
	}
	a.finishCycle(ctx, cycle, before)
	return nil
}

// hold keeps the position open for the configured duration. With monitoring
// enabled each leg gets its own watcher that exits early on target, stop or
// the hard deadline; otherwise the hold is a plain wait.
func (a *App) hold(ctx context.Context, cycle *hedge.Cycle, start time.Time) error {
	if !a.cfg.Monitor.Enabled {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(a.cfg.Hedge.HoldDuration):
			return nil
		}
	}
	maxHold := a.cfg.Monitor.MaxHold
	if maxHold <= 0 {
		maxHold = a.cfg.Hedge.HoldDuration
	}
	var wg sync.WaitGroup
	for _, leg := range cycle.Legs {
		if leg.Status != hedge.LegFilled {
			continue
		}
		v := a.venueByName(leg.VenueName)
		if v == nil {
			continue
		}
		monitor := hedge.NewMonitor(v, cycle.Symbol, leg, a.cfg.Monitor.PollInterval, maxHold, start,
			a.cfg.Hedge.SlippagePct, a.metrics, a.log)
		wg.Add(1)
		go func(m *hedge.Monitor, venueName string) {
			defer wg.Done()
			result, err := m.Run(ctx)
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					a.log.Warn("monitor ended with error", zap.String("venue", venueName), zap.Error(err))
				}
				return
			}
			a.log.Info("monitor exit",
				zap.String("venue", venueName),
				zap.String("reason", string(result.Reason)),
				zap.Float64("exit_price", result.ExitPrice),
				zap.Float64("pnl_percent", result.PnlPercent),
			)
		}(monitor, leg.VenueName)
	}
	wg.Wait()
	return ctx.Err()
}

// finishCycle snapshots balances, reports, journals and records history for a
// terminal cycle. Failures here never abort the loop.
func (a *App) finishCycle(ctx context.Context, cycle *hedge.Cycle, before hedge.BalanceSnapshot) {
	after, err := hedge.SnapshotBalances(ctx, a.venues)
	if err != nil {
		a.log.Warn("balance snapshot after cycle failed", zap.Int("cycle", cycle.Number), zap.Error(err))
		before, after = nil, nil
	}
	report := hedge.BuildReport(cycle, before, after)
	a.log.Info("cycle finished",
		zap.Int("cycle", report.CycleNumber),
		zap.String("state", string(report.State)),
		zap.Float64("total_cost_usd", report.TotalCostUSD),
	)
	if err := a.alerts.Send(ctx, report.Summary()); err != nil {
		a.log.Warn("cycle report alert failed", zap.Error(err))
	}
	if err := a.journal.SaveCycle(ctx, recordFromReport(report)); err != nil {
		a.log.Warn("cycle journal save failed", zap.Error(err))
	}
	a.history.EnqueueCycle(rowFromReport(report))
}

func (a *App) venueByName(name string) venue.Venue {
	for _, v := range a.venues {
		if v.Name() == name {
			return v
		}
	}
	return nil
}

func (a *App) serveMetrics(ctx context.Context) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.promH)
	server := &http.Server{Addr: a.cfg.Metrics.Addr, Handler: mux}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Warn("metrics server stopped", zap.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
}

func riskParams(cfg config.RiskConfig) hedge.RiskParams {
	return hedge.RiskParams{
		Mode:          hedge.RiskMode(cfg.Mode),
		TargetPercent: cfg.TargetPercent,
		StopPercent:   cfg.StopPercent,
		RiskReward:    cfg.RiskReward,
		MaxStopPct:    cfg.MaxStopPercent,
	}
}

func recordFromReport(report hedge.CycleReport) state.CycleRecord {
	record := state.CycleRecord{
		CycleID:      report.CycleID,
		CycleNumber:  report.CycleNumber,
		Symbol:       report.Symbol,
		State:        string(report.State),
		TotalCostUSD: report.TotalCostUSD,
		FinishedAtMS: report.FinishedAt.UnixMilli(),
	}
	for _, leg := range report.Legs {
		record.Legs = append(record.Legs, state.LegRecord{
			Venue:      leg.Venue,
			Side:       strings.ToUpper(string(leg.Side)),
			Status:     string(leg.Status),
			EntryPrice: leg.EntryPrice,
			ExitPrice:  leg.ExitPrice,
			FilledSize: leg.FilledSize,
			PnlPercent: leg.PnlPercent,
			SkipReason: leg.SkipReason,
		})
	}
	return record
}

func rowFromReport(report hedge.CycleReport) history.CycleRow {
	row := history.CycleRow{
		Time:         report.FinishedAt,
		CycleID:      report.CycleID,
		CycleNumber:  report.CycleNumber,
		Symbol:       report.Symbol,
		State:        string(report.State),
		TotalCostUSD: report.TotalCostUSD,
		TotalCostPct: report.TotalCostPct,
	}
	for _, leg := range report.Legs {
		row.Legs = append(row.Legs, history.LegRow{
			Venue:      leg.Venue,
			Side:       strings.ToUpper(string(leg.Side)),
			Status:     string(leg.Status),
			EntryPrice: leg.EntryPrice,
			ExitPrice:  leg.ExitPrice,
			FilledSize: leg.FilledSize,
			PnlPercent: leg.PnlPercent,
			SkipReason: leg.SkipReason,
		})
	}
	return row
}
