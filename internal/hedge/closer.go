package hedge

import (
	"context"
	"fmt"

	"mv-hedge-bot/internal/calc"
	"mv-hedge-bot/internal/metrics"
	"mv-hedge-bot/internal/venue"

	"go.uber.org/zap"
)

// Alerter delivers human-facing notifications. Implemented by the Telegram
// client; the closer only depends on this surface. SendUrgent is for
// failures that leave a position open and need a human now.
type Alerter interface {
	Send(ctx context.Context, message string) error
	SendUrgent(ctx context.Context, message string) error
}

// Closer shuts a holding cycle down leg by leg in a fixed venue priority
// order. Strictly sequential: step N+1 only runs if step N succeeded. A
// failed close is never retried here; it escalates to a human instead,
// because a retry loop against a stale quote during a trading failure risks
// compounding the loss.
type Closer struct {
	venues      []venue.Venue
	closeFirst  string
	slippagePct float64
	alerts      Alerter
	metrics     *metrics.Metrics
	log         *zap.Logger
}

func NewCloser(venues []venue.Venue, closeFirst string, slippagePct float64, alerts Alerter, m *metrics.Metrics, log *zap.Logger) *Closer {
	if slippagePct <= 0 {
		slippagePct = 3
	}
	return &Closer{
		venues:      venues,
		closeFirst:  closeFirst,
		slippagePct: slippagePct,
		alerts:      alerts,
		metrics:     m,
		log:         log,
	}
}

// Close walks the cycle's legs in priority order. On the first failure the
// remaining legs are deliberately skipped: closing a single leg alone would
// turn a hedged position into a naked directional one.
func (c *Closer) Close(ctx context.Context, cycle *Cycle) error {
	cycle.Apply(EventCloseStart)
	order := c.legOrder(cycle.Legs)

	var failed *CloseFailedError
	for _, idx := range order {
		leg := cycle.Legs[idx]
		if leg.Status != LegFilled {
			continue
		}
		if failed != nil {
			leg.Status = LegSkipped
			leg.SkipReason = "skipped due to prior leg failure"
			c.log.Warn("leg close skipped",
				zap.Int("cycle", cycle.Number),
				zap.String("venue", leg.VenueName),
				zap.String("reason", leg.SkipReason),
			)
			continue
		}
		if err := c.closeLeg(ctx, c.venueByName(leg.VenueName), leg, cycle); err != nil {
			leg.Status = LegCloseFailed
			leg.Err = err.Error()
			c.metrics.CloseFailures.Inc()
			failed = &CloseFailedError{Venue: leg.VenueName, Cause: err}
			c.escalate(ctx, cycle, leg, err)
			continue
		}
		leg.Status = LegClosed
		c.log.Info("leg closed",
			zap.Int("cycle", cycle.Number),
			zap.String("venue", leg.VenueName),
			zap.Float64("exit_price", leg.ExitPrice),
			zap.Float64("pnl_percent", leg.PnlPercent),
		)
	}

	if failed != nil {
		cycle.Apply(EventCloseFailed)
		c.metrics.CyclesFailed.Inc()
		return failed
	}
	cycle.Apply(EventClosed)
	c.metrics.CyclesCompleted.Inc()
	return nil
}

func (c *Closer) closeLeg(ctx context.Context, v venue.Venue, leg *Leg, cycle *Cycle) error {
	if v == nil {
		return fmt.Errorf("venue %s not configured", leg.VenueName)
	}
	size, side, overridden := c.resolvePosition(ctx, v, leg, cycle)
	quote, err := v.Quote(ctx, cycle.Symbol)
	if err != nil {
		return fmt.Errorf("%w: %v", venue.ErrQuoteUnavailable, err)
	}
	limit := closeLimitPrice(quote, side, c.slippagePct, v.PriceDecimals())
	if limit <= 0 {
		return fmt.Errorf("no usable close price for %s", leg.VenueName)
	}
	req := venue.CloseRequest{
		Symbol:     cycle.Symbol,
		Side:       side,
		LimitPrice: limit,
	}
	if overridden {
		req.SizeOverride = size
	}
	res, err := v.ClosePosition(ctx, req)
	if err != nil {
		return err
	}
	if !res.Closed {
		return fmt.Errorf("venue %s did not confirm close", leg.VenueName)
	}
	leg.ExitPrice = res.ClosePrice
	if leg.ExitPrice == 0 {
		leg.ExitPrice = limit
	}
	leg.PnlPercent = SignedPnlPercent(leg.EntryPrice, leg.ExitPrice, leg.Side)
	return nil
}

// resolvePosition reads the venue's view of the position and decides what
// size and side to close. A known venue defect reports size 0 for a position
// that is still open; when the read path contradicts the locally tracked
// leg, the tracked fill wins and the inconsistency is surfaced as a warning.
func (c *Closer) resolvePosition(ctx context.Context, v venue.Venue, leg *Leg, cycle *Cycle) (float64, venue.Side, bool) {
	positions, err := v.Positions(ctx)
	if err == nil {
		for _, pos := range positions {
			if pos.Symbol != cycle.Symbol {
				continue
			}
			if pos.Size > 0 {
				return pos.Size, pos.Side, false
			}
			break
		}
	}
	c.metrics.ZeroSizeFallbacks.Inc()
	c.log.Warn("falling back to tracked leg size",
		zap.Int("cycle", cycle.Number),
		zap.String("venue", leg.VenueName),
		zap.Float64("tracked_size", leg.FilledSize),
		zap.String("tracked_side", string(leg.Side)),
		zap.Error(ErrInconsistentPosition),
	)
	return leg.FilledSize, leg.Side, true
}

func (c *Closer) escalate(ctx context.Context, cycle *Cycle, leg *Leg, cause error) {
	msg := fmt.Sprintf(
		"cycle %d close failed on %s, an open unhedged %s position of %.8f %s remains and needs manual intervention: %v",
		cycle.Number, leg.VenueName, leg.Side, leg.FilledSize, cycle.Symbol, cause,
	)
	c.log.Error("close failure escalated",
		zap.Int("cycle", cycle.Number),
		zap.String("venue", leg.VenueName),
		zap.Error(cause),
	)
	if c.alerts == nil {
		return
	}
	if err := c.alerts.SendUrgent(ctx, msg); err != nil {
		c.log.Error("urgent alert send failed", zap.Error(err))
	}
}

// legOrder places the configured close-first venue ahead of the rest while
// keeping the remaining legs in their configured order.
func (c *Closer) legOrder(legs []*Leg) []int {
	order := make([]int, 0, len(legs))
	for i, leg := range legs {
		if leg.VenueName == c.closeFirst {
			order = append(order, i)
		}
	}
	for i, leg := range legs {
		if leg.VenueName != c.closeFirst {
			order = append(order, i)
		}
	}
	return order
}

func (c *Closer) venueByName(name string) venue.Venue {
	for _, v := range c.venues {
		if v.Name() == name {
			return v
		}
	}
	return nil
}

// closeLimitPrice biases toward an immediate fill while staying a limit
// order: a fixed unfavorable buffer against the current side price.
func closeLimitPrice(quote venue.Quote, side venue.Side, slippagePct float64, priceDecimals int) float64 {
	buffer := slippagePct / 100
	var price float64
	if side == venue.Long {
		// closing a long sells into the bid
		price = quote.Bid * (1 - buffer)
	} else {
		// closing a short buys from the ask
		price = quote.Ask * (1 + buffer)
	}
	return calc.RoundTo(price, priceDecimals)
}

// SignedPnlPercent is the per-leg realized return, signed by side.
func SignedPnlPercent(entry, exit float64, side venue.Side) float64 {
	if entry == 0 {
		return 0
	}
	pct := (exit - entry) / entry * 100
	if side == venue.Short {
		return -pct
	}
	return pct
}
