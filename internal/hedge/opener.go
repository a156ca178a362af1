package hedge

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"

	"mv-hedge-bot/internal/calc"
	"mv-hedge-bot/internal/metrics"
	"mv-hedge-bot/internal/venue"

	"go.uber.org/zap"
)

// Opener runs the leg opens of a cycle concurrently and reconciles their
// outcomes. All-or-nothing: if any leg fails, every leg that did open gets a
// best-effort compensating cancellation. There is no transaction across
// venues; the only guarantee is that the unhedged window is attacked
// immediately, not that it has zero duration.
type Opener struct {
	venues  []venue.Venue
	policy  RetryPolicy
	metrics *metrics.Metrics
	log     *zap.Logger
}

func NewOpener(venues []venue.Venue, policy RetryPolicy, m *metrics.Metrics, log *zap.Logger) *Opener {
	return &Opener{
		venues:  venues,
		policy:  policy,
		metrics: m,
		log:     log,
	}
}

// OpenRequest describes one cycle's entry. LimitPrice of zero means market
// entry at the quoted side price.
type OpenRequest struct {
	Symbol         string
	NotionalUSD    float64
	Leverage       float64
	Risk           RiskParams
	LimitPrice     float64
	MaxSlippagePct float64
}

// Open assigns opposite sides across the configured venues and opens all
// legs in parallel, waiting for every leg to settle before reconciling. A
// single configured venue operates single-leg with no hedge partner.
func (o *Opener) Open(ctx context.Context, cycle *Cycle, req OpenRequest) error {
	if len(o.venues) == 0 {
		cycle.Apply(EventOpenFailed)
		return fmt.Errorf("cycle %d: no venues configured", cycle.Number)
	}
	sides := assignSides(len(o.venues))
	legs := make([]*Leg, len(o.venues))
	for i, v := range o.venues {
		legs[i] = &Leg{
			VenueName:   v.Name(),
			Side:        sides[i],
			NotionalUSD: req.NotionalUSD,
			Leverage:    req.Leverage,
			Status:      LegPending,
		}
	}
	cycle.Legs = legs

	var wg sync.WaitGroup
	for i := range o.venues {
		wg.Add(1)
		go func(v venue.Venue, leg *Leg) {
			defer wg.Done()
			o.openLegWithPolicy(ctx, v, leg, cycle, req)
		}(o.venues[i], legs[i])
	}
	// Wait for every leg, successes and failures alike. A failed leg must
	// not short-circuit a still-pending one.
	wg.Wait()

	allFilled := true
	for _, leg := range legs {
		if leg.Status == LegFilled {
			o.metrics.LegsOpened.Inc()
			continue
		}
		allFilled = false
		o.metrics.LegsRejected.Inc()
	}
	if allFilled {
		cycle.Apply(EventOpened)
		o.metrics.CyclesOpened.Inc()
		o.log.Info("hedge opened",
			zap.Int("cycle", cycle.Number),
			zap.String("symbol", cycle.Symbol),
			zap.Int("legs", len(legs)),
		)
		return nil
	}

	o.compensate(ctx, cycle, legs)
	cycle.Apply(EventOpenFailed)
	o.metrics.CyclesFailed.Inc()
	return &PartialHedgeError{Legs: legs}
}

func (o *Opener) openLegWithPolicy(ctx context.Context, v venue.Venue, leg *Leg, cycle *Cycle, req OpenRequest) {
	err := o.openLeg(ctx, v, leg, cycle, req)
	if err == nil {
		return
	}
	if adjusted, ok := o.policy.Adjust(err, req.Risk); ok {
		o.metrics.RetryAdjustments.Inc()
		o.log.Warn("retrying leg open with adjusted stop",
			zap.Int("cycle", cycle.Number),
			zap.String("venue", v.Name()),
			zap.Float64("stop_percent", adjusted.StopPercent),
			zap.Error(err),
		)
		retryReq := req
		retryReq.Risk = adjusted
		if leg.Status == LegFilled {
			// The entry already filled; only the protective attach failed.
			// Re-attach against the live fill. Placing a second entry here
			// would double the venue's position against a single partner
			// leg, and a FILLED leg never reverts to PENDING.
			err = o.reattachProtective(ctx, v, leg, retryReq)
		} else {
			*leg = Leg{
				VenueName:   leg.VenueName,
				Side:        leg.Side,
				NotionalUSD: leg.NotionalUSD,
				Leverage:    leg.Leverage,
				Status:      LegPending,
			}
			err = o.openLeg(ctx, v, leg, cycle, retryReq)
		}
		if err == nil {
			return
		}
	}
	leg.fail(err)
	o.log.Warn("leg open failed",
		zap.Int("cycle", cycle.Number),
		zap.String("venue", v.Name()),
		zap.Error(err),
	)
}

func (o *Opener) openLeg(ctx context.Context, v venue.Venue, leg *Leg, cycle *Cycle, req OpenRequest) error {
	quote, err := v.Quote(ctx, req.Symbol)
	if err != nil {
		return fmt.Errorf("%w: %v", venue.ErrQuoteUnavailable, err)
	}
	entry := req.LimitPrice
	if entry == 0 {
		if leg.Side == venue.Long {
			entry = quote.Ask
		} else {
			entry = quote.Bid
		}
	}
	if entry <= 0 {
		return &ValidationError{Venue: v.Name(), Reason: "no usable entry price"}
	}

	target, stop, err := resolveRisk(entry, leg.Side, req.Leverage, req.Risk, o.log, v.Name())
	if err != nil {
		return err
	}
	if err := validateOrdering(v.Name(), leg.Side, entry, target, stop); err != nil {
		return err
	}
	leg.TargetPrice = target
	leg.StopPrice = stop

	clientID := fmt.Sprintf("%s-%d-%s", cycle.ID, cycle.Number, v.Name())
	if req.LimitPrice > 0 {
		orderID, err := v.PlaceLimitOrder(ctx, venue.LimitOrder{
			Symbol:        req.Symbol,
			Side:          leg.Side,
			USDSize:       req.NotionalUSD,
			LimitPrice:    req.LimitPrice,
			Leverage:      req.Leverage,
			ClientOrderID: clientID,
		})
		if err != nil {
			return err
		}
		size, err := calc.PositionSize(req.NotionalUSD, req.LimitPrice, v.SizeDecimals())
		if err != nil {
			return err
		}
		leg.OrderID = orderID
		leg.EntryPrice = req.LimitPrice
		leg.FilledSize = size
		leg.Status = LegFilled
	} else {
		fill, err := v.PlaceMarketOrder(ctx, venue.MarketOrder{
			Symbol:         req.Symbol,
			Side:           leg.Side,
			USDSize:        req.NotionalUSD,
			Leverage:       req.Leverage,
			MaxSlippagePct: req.MaxSlippagePct,
			ClientOrderID:  clientID,
		})
		if err != nil {
			return err
		}
		if !fill.Filled || fill.FilledSize <= 0 {
			return &venue.OrderRejectedError{Venue: v.Name(), Reason: "entry order did not fill"}
		}
		leg.OrderID = fill.OrderID
		leg.EntryPrice = fill.FilledPrice
		if leg.EntryPrice == 0 {
			leg.EntryPrice = entry
		}
		leg.FilledSize = fill.FilledSize
		leg.Status = LegFilled
	}

	if target == 0 && stop == 0 {
		return nil
	}
	// Protective orders are sized to the actual filled size; venues may
	// partially fill or adjust the request.
	refs, err := v.AttachProtectiveOrders(ctx, venue.ProtectiveRequest{
		Symbol:      req.Symbol,
		Side:        leg.Side,
		FilledSize:  leg.FilledSize,
		EntryPrice:  leg.EntryPrice,
		TargetPrice: target,
		StopPrice:   stop,
	})
	if err != nil {
		return fmt.Errorf("protective orders on %s: %w", v.Name(), err)
	}
	leg.Protective = refs
	return nil
}

// reattachProtective recomputes target/stop with the adjusted risk against
// the recorded fill and attaches fresh protective orders. The fill itself is
// left untouched.
func (o *Opener) reattachProtective(ctx context.Context, v venue.Venue, leg *Leg, req OpenRequest) error {
	target, stop, err := resolveRisk(leg.EntryPrice, leg.Side, req.Leverage, req.Risk, o.log, v.Name())
	if err != nil {
		return err
	}
	if err := validateOrdering(v.Name(), leg.Side, leg.EntryPrice, target, stop); err != nil {
		return err
	}
	leg.TargetPrice = target
	leg.StopPrice = stop
	if target == 0 && stop == 0 {
		return nil
	}
	refs, err := v.AttachProtectiveOrders(ctx, venue.ProtectiveRequest{
		Symbol:      req.Symbol,
		Side:        leg.Side,
		FilledSize:  leg.FilledSize,
		EntryPrice:  leg.EntryPrice,
		TargetPrice: target,
		StopPrice:   stop,
	})
	if err != nil {
		return fmt.Errorf("protective orders on %s: %w", v.Name(), err)
	}
	leg.Protective = refs
	return nil
}

// compensate issues a cancellation against every leg that did succeed.
// Best-effort with no retry: a failed cancel is recorded and surfaced, not
// hidden behind a retry loop.
func (o *Opener) compensate(ctx context.Context, cycle *Cycle, legs []*Leg) {
	for i, leg := range legs {
		if leg.OrderID == "" && leg.Protective.TargetOrderID == "" && leg.Protective.StopOrderID == "" {
			continue
		}
		v := o.venues[i]
		for _, orderID := range []string{leg.OrderID, leg.Protective.TargetOrderID, leg.Protective.StopOrderID} {
			if orderID == "" {
				continue
			}
			o.metrics.CancelAttempts.Inc()
			ok, err := v.CancelOrder(ctx, orderID)
			if err != nil || !ok {
				o.log.Warn("compensating cancel failed",
					zap.Int("cycle", cycle.Number),
					zap.String("venue", leg.VenueName),
					zap.String("order_id", orderID),
					zap.Error(err),
				)
				continue
			}
			o.log.Info("compensating cancel issued",
				zap.Int("cycle", cycle.Number),
				zap.String("venue", leg.VenueName),
				zap.String("order_id", orderID),
			)
		}
	}
}

func resolveRisk(entry float64, side venue.Side, leverage float64, risk RiskParams, log *zap.Logger, venueName string) (target, stop float64, err error) {
	switch risk.Mode {
	case RiskRiskReward:
		stop, err = calc.StopFromPercent(entry, side, risk.StopPercent)
		if err != nil {
			return 0, 0, err
		}
		stop = clampWithWarning(stop, entry, side, risk.MaxStopPct, log, venueName)
		target, err = calc.TargetFromRiskReward(entry, side, stop, risk.RiskReward)
		if err != nil {
			return 0, 0, err
		}
	case RiskPercent:
		if risk.TargetPercent == 0 && risk.StopPercent == 0 {
			return 0, 0, nil
		}
		target, stop, err = calc.TargetStopFromPercent(entry, side, risk.TargetPercent, risk.StopPercent, leverage)
		if err != nil {
			return 0, 0, err
		}
		stop = clampWithWarning(stop, entry, side, risk.MaxStopPct, log, venueName)
	default:
		return 0, 0, fmt.Errorf("unknown risk mode %q", risk.Mode)
	}
	return target, stop, nil
}

func clampWithWarning(stop, entry float64, side venue.Side, maxPct float64, log *zap.Logger, venueName string) float64 {
	clamped, did := calc.ClampStop(stop, entry, side, maxPct)
	if did && log != nil {
		log.Warn("stop price clamped",
			zap.String("venue", venueName),
			zap.Float64("proposed", stop),
			zap.Float64("clamped", clamped),
			zap.Float64("max_percent", maxPct),
		)
	}
	return clamped
}

// validateOrdering rejects TP/SL requests inconsistent with the side: a long
// needs stop < entry < target, a short the mirror. Violations fail the leg
// before any order is placed.
func validateOrdering(venueName string, side venue.Side, entry, target, stop float64) error {
	switch side {
	case venue.Long:
		if target > 0 && target <= entry {
			return &ValidationError{Venue: venueName, Reason: fmt.Sprintf("long target %.8f not above entry %.8f", target, entry)}
		}
		if stop > 0 && stop >= entry {
			return &ValidationError{Venue: venueName, Reason: fmt.Sprintf("long stop %.8f not below entry %.8f", stop, entry)}
		}
	case venue.Short:
		if target > 0 && target >= entry {
			return &ValidationError{Venue: venueName, Reason: fmt.Sprintf("short target %.8f not below entry %.8f", target, entry)}
		}
		if stop > 0 && stop <= entry {
			return &ValidationError{Venue: venueName, Reason: fmt.Sprintf("short stop %.8f not above entry %.8f", stop, entry)}
		}
	default:
		return &ValidationError{Venue: venueName, Reason: fmt.Sprintf("invalid side %q", side)}
	}
	return nil
}

// assignSides picks the first venue's side uniformly at random and alternates
// the complement down the venue list.
func assignSides(n int) []venue.Side {
	sides := make([]venue.Side, n)
	first := venue.Long
	if rand.IntN(2) == 1 {
		first = venue.Short
	}
	for i := range sides {
		if i == 0 {
			sides[i] = first
			continue
		}
		sides[i] = sides[i-1].Opposite()
	}
	return sides
}
