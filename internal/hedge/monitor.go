package hedge

import (
	"context"
	"fmt"
	"time"

	"mv-hedge-bot/internal/metrics"
	"mv-hedge-bot/internal/venue"

	"go.uber.org/zap"
)

type MonitorState string

const (
	MonitorWatching MonitorState = "WATCHING"
	MonitorTPHit    MonitorState = "TP_HIT"
	MonitorSLHit    MonitorState = "SL_HIT"
	MonitorTimedOut MonitorState = "TIMED_OUT"
	MonitorClosed   MonitorState = "CLOSED"
)

type ExitReason string

const (
	ExitTPHit    ExitReason = "TP_HIT"
	ExitSLHit    ExitReason = "SL_HIT"
	ExitTimedOut ExitReason = "TIMED_OUT"
)

type MonitorResult struct {
	Reason     ExitReason
	ExitPrice  float64
	Pnl        float64
	PnlPercent float64
}

// Monitor watches one held leg against its target, stop and a hard deadline,
// and closes it reduce-only the moment any condition fires. It exists for
// time/price-triggered early exit; the close sequencer still owns the
// cycle's planned end.
type Monitor struct {
	venue       venue.Venue
	symbol      string
	leg         *Leg
	poll        time.Duration
	maxHold     time.Duration
	start       time.Time
	slippagePct float64
	metrics     *metrics.Metrics
	log         *zap.Logger

	state MonitorState
}

func NewMonitor(v venue.Venue, symbol string, leg *Leg, poll, maxHold time.Duration, start time.Time, slippagePct float64, m *metrics.Metrics, log *zap.Logger) *Monitor {
	if slippagePct <= 0 {
		slippagePct = 3
	}
	return &Monitor{
		venue:       v,
		symbol:      symbol,
		leg:         leg,
		poll:        poll,
		maxHold:     maxHold,
		start:       start,
		slippagePct: slippagePct,
		metrics:     m,
		log:         log,
		state:       MonitorWatching,
	}
}

func (m *Monitor) State() MonitorState {
	return m.state
}

// Run polls until a terminal condition fires, then closes the leg. The
// deadline is measured from the cycle start, not from the last price check.
// The price fetch is the only suspension point; no lock is held across the
// sleep.
func (m *Monitor) Run(ctx context.Context) (MonitorResult, error) {
	deadline := time.NewTimer(m.maxHold - time.Since(m.start))
	defer deadline.Stop()
	ticker := time.NewTicker(m.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return MonitorResult{}, ctx.Err()
		case <-deadline.C:
			m.state = MonitorTimedOut
			return m.exit(ctx, ExitTimedOut)
		case <-ticker.C:
		}

		quote, err := m.venue.Quote(ctx, m.symbol)
		if err != nil {
			m.log.Warn("monitor quote failed",
				zap.String("venue", m.venue.Name()),
				zap.Error(err),
			)
			continue
		}
		price := exitSidePrice(quote, m.leg.Side)
		if price <= 0 {
			continue
		}
		pnlPct := SignedPnlPercent(m.leg.EntryPrice, price, m.leg.Side)
		m.log.Debug("monitor poll",
			zap.String("venue", m.venue.Name()),
			zap.Float64("price", price),
			zap.Float64("pnl_percent", pnlPct),
		)
		switch {
		case m.leg.TargetPrice > 0 && targetHit(price, m.leg.TargetPrice, m.leg.Side):
			m.state = MonitorTPHit
			return m.exit(ctx, ExitTPHit)
		case m.leg.StopPrice > 0 && stopHit(price, m.leg.StopPrice, m.leg.Side):
			m.state = MonitorSLHit
			return m.exit(ctx, ExitSLHit)
		}
	}
}

func (m *Monitor) exit(ctx context.Context, reason ExitReason) (MonitorResult, error) {
	quote, err := m.venue.Quote(ctx, m.symbol)
	if err != nil {
		return MonitorResult{Reason: reason}, fmt.Errorf("%w: %v", venue.ErrQuoteUnavailable, err)
	}
	limit := closeLimitPrice(quote, m.leg.Side, m.slippagePct, m.venue.PriceDecimals())
	res, err := m.venue.ClosePosition(ctx, venue.CloseRequest{
		Symbol:       m.symbol,
		Side:         m.leg.Side,
		SizeOverride: m.leg.FilledSize,
		LimitPrice:   limit,
	})
	if err != nil {
		return MonitorResult{Reason: reason}, err
	}
	exitPrice := res.ClosePrice
	if exitPrice == 0 {
		exitPrice = exitSidePrice(quote, m.leg.Side)
	}
	pnlPct := SignedPnlPercent(m.leg.EntryPrice, exitPrice, m.leg.Side)
	pnl := signedPnlUSD(m.leg, exitPrice)
	m.leg.ExitPrice = exitPrice
	m.leg.PnlPercent = pnlPct
	m.leg.Status = LegClosed
	m.state = MonitorClosed
	m.metrics.MonitorExits.Inc()
	m.log.Info("monitor closed leg",
		zap.String("venue", m.venue.Name()),
		zap.String("reason", string(reason)),
		zap.Float64("exit_price", exitPrice),
		zap.Float64("pnl_percent", pnlPct),
	)
	return MonitorResult{
		Reason:     reason,
		ExitPrice:  exitPrice,
		Pnl:        pnl,
		PnlPercent: pnlPct,
	}, nil
}

// exitSidePrice is what the leg could actually exit at right now: a long
// sells into the bid, a short buys from the ask.
func exitSidePrice(quote venue.Quote, side venue.Side) float64 {
	if side == venue.Long {
		return quote.Bid
	}
	return quote.Ask
}

func targetHit(price, target float64, side venue.Side) bool {
	if side == venue.Long {
		return price >= target
	}
	return price <= target
}

func stopHit(price, stop float64, side venue.Side) bool {
	if side == venue.Long {
		return price <= stop
	}
	return price >= stop
}

func signedPnlUSD(leg *Leg, exitPrice float64) float64 {
	diff := exitPrice - leg.EntryPrice
	if leg.Side == venue.Short {
		diff = -diff
	}
	return diff * leg.FilledSize
}
