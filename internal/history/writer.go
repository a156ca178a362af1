package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"mv-hedge-bot/internal/config"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

const writeTimeout = 3 * time.Second

// LegRow is one leg of a finished cycle as stored in hedge_legs.
type LegRow struct {
	Venue      string
	Side       string
	Status     string
	EntryPrice float64
	ExitPrice  float64
	FilledSize float64
	PnlPercent float64
	SkipReason string
}

// CycleRow is a finished cycle as stored in hedge_cycles, with its legs.
type CycleRow struct {
	Time         time.Time
	CycleID      string
	CycleNumber  int
	Symbol       string
	State        string
	TotalCostUSD float64
	TotalCostPct float64
	Legs         []LegRow
}

// Writer records finished cycles to TimescaleDB without blocking the hedge
// loop. Inserts happen on a background goroutine; a full queue drops the row.
type Writer struct {
	db      *sql.DB
	log     *zap.Logger
	schema  string
	cycles  chan CycleRow
	started atomic.Bool
	dropped atomic.Uint64
}

func New(cfg config.HistoryConfig, log *zap.Logger) (*Writer, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("history dsn is required")
	}
	schema := strings.TrimSpace(cfg.Schema)
	if schema == "" {
		schema = "public"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 64
	}
	writer := &Writer{
		db:     db,
		log:    log,
		schema: schema,
		cycles: make(chan CycleRow, queueSize),
	}
	if err := writer.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return writer, nil
}

func (w *Writer) Start(ctx context.Context) {
	if w == nil {
		return
	}
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	go w.run(ctx)
}

func (w *Writer) Close() error {
	if w == nil || w.db == nil {
		return nil
	}
	return w.db.Close()
}

func (w *Writer) EnqueueCycle(row CycleRow) {
	if w == nil {
		return
	}
	select {
	case w.cycles <- row:
		return
	default:
		if w.dropped.Add(1) == 1 && w.log != nil {
			w.log.Warn("history cycle queue full")
		}
	}
}

func (w *Writer) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case row := <-w.cycles:
			w.writeCycle(ctx, row)
		}
	}
}

func (w *Writer) ensureSchema(ctx context.Context) error {
	if w.db == nil {
		return errors.New("history db not initialized")
	}
	if w.schema != "public" {
		if err := w.exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", w.schema)); err != nil {
			return err
		}
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		cycle_id TEXT NOT NULL,
		cycle_number INTEGER NOT NULL,
		symbol TEXT NOT NULL,
		state TEXT NOT NULL,
		total_cost_usd DOUBLE PRECISION NOT NULL,
		total_cost_pct DOUBLE PRECISION NOT NULL,
		PRIMARY KEY (ts, cycle_id)
	)`, w.table("hedge_cycles"))); err != nil {
		return err
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		cycle_id TEXT NOT NULL,
		venue TEXT NOT NULL,
		side TEXT NOT NULL,
		status TEXT NOT NULL,
		entry_price DOUBLE PRECISION NOT NULL,
		exit_price DOUBLE PRECISION NOT NULL,
		filled_size DOUBLE PRECISION NOT NULL,
		pnl_percent DOUBLE PRECISION NOT NULL,
		skip_reason TEXT NOT NULL DEFAULT ''
	)`, w.table("hedge_legs"))); err != nil {
		return err
	}
	if err := w.exec(ctx, "CREATE EXTENSION IF NOT EXISTS timescaledb"); err != nil {
		if w.log != nil {
			w.log.Warn("timescale extension ensure failed", zap.Error(err))
		}
		return nil
	}
	if err := w.exec(ctx, fmt.Sprintf("SELECT create_hypertable('%s', 'ts', if_not_exists => TRUE)", w.table("hedge_cycles"))); err != nil && w.log != nil {
		w.log.Warn("history hedge_cycles hypertable create failed", zap.Error(err))
	}
	if err := w.exec(ctx, fmt.Sprintf("SELECT create_hypertable('%s', 'ts', if_not_exists => TRUE)", w.table("hedge_legs"))); err != nil && w.log != nil {
		w.log.Warn("history hedge_legs hypertable create failed", zap.Error(err))
	}
	return nil
}

func (w *Writer) writeCycle(ctx context.Context, row CycleRow) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	cycleQuery := fmt.Sprintf(`INSERT INTO %s (
		ts, cycle_id, cycle_number, symbol, state, total_cost_usd, total_cost_pct
	) VALUES (
		$1,$2,$3,$4,$5,$6,$7
	)
	ON CONFLICT (ts, cycle_id) DO UPDATE SET
		state = EXCLUDED.state,
		total_cost_usd = EXCLUDED.total_cost_usd,
		total_cost_pct = EXCLUDED.total_cost_pct`, w.table("hedge_cycles"))
	if _, err := w.db.ExecContext(ctx, cycleQuery,
		row.Time,
		row.CycleID,
		row.CycleNumber,
		row.Symbol,
		row.State,
		row.TotalCostUSD,
		row.TotalCostPct,
	); err != nil {
		if w.log != nil {
			w.log.Warn("history cycle insert failed", zap.Error(err))
		}
		return
	}
	legQuery := fmt.Sprintf(`INSERT INTO %s (
		ts, cycle_id, venue, side, status, entry_price, exit_price, filled_size, pnl_percent, skip_reason
	) VALUES (
		$1,$2,$3,$4,$5,$6,$7,$8,$9,$10
	)`, w.table("hedge_legs"))
	for _, leg := range row.Legs {
		if _, err := w.db.ExecContext(ctx, legQuery,
			row.Time,
			row.CycleID,
			leg.Venue,
			leg.Side,
			leg.Status,
			leg.EntryPrice,
			leg.ExitPrice,
			leg.FilledSize,
			leg.PnlPercent,
			leg.SkipReason,
		); err != nil && w.log != nil {
			w.log.Warn("history leg insert failed", zap.Error(err))
		}
	}
}

func (w *Writer) exec(ctx context.Context, query string) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_, err := w.db.ExecContext(ctx, query)
	return err
}

func (w *Writer) table(name string) string {
	return w.schema + "." + name
}
