package calc

import (
	"errors"
	"fmt"
	"math"

	"mv-hedge-bot/internal/venue"
)

// Pure sizing and price arithmetic. No I/O, deterministic given inputs.
// Venue precision is always a parameter, never a constant, and integer
// scaling happens exactly once, as the final step after all price math.

// PositionSize converts a USD notional into a base-asset size at the given
// price, rounded down to the venue's allowed size precision.
func PositionSize(usdAmount, price float64, sizeDecimals int) (float64, error) {
	if price <= 0 {
		return 0, errors.New("price must be > 0")
	}
	if usdAmount <= 0 {
		return 0, errors.New("usd amount must be > 0")
	}
	return RoundDown(usdAmount/price, sizeDecimals), nil
}

// TargetStopFromPercent resolves ROI percentages into absolute target/stop
// prices. Percentages are return-on-margin, so the price-space move is
// percent divided by leverage.
func TargetStopFromPercent(entry float64, side venue.Side, targetPct, stopPct, leverage float64) (target, stop float64, err error) {
	if entry <= 0 {
		return 0, 0, errors.New("entry price must be > 0")
	}
	if leverage <= 0 {
		return 0, 0, errors.New("leverage must be > 0")
	}
	targetMove := targetPct / leverage / 100
	stopMove := stopPct / leverage / 100
	switch side {
	case venue.Long:
		target = entry * (1 + targetMove)
		stop = entry * (1 - stopMove)
	case venue.Short:
		target = entry * (1 - targetMove)
		stop = entry * (1 + stopMove)
	default:
		return 0, 0, fmt.Errorf("invalid side %q", side)
	}
	return target, stop, nil
}

// StopFromPercent places the stop at a plain price-space distance from entry,
// with no leverage adjustment. Used when the stop distance itself, not ROI,
// is specified.
func StopFromPercent(entry float64, side venue.Side, stopPct float64) (float64, error) {
	if entry <= 0 {
		return 0, errors.New("entry price must be > 0")
	}
	move := stopPct / 100
	switch side {
	case venue.Long:
		return entry * (1 - move), nil
	case venue.Short:
		return entry * (1 + move), nil
	default:
		return 0, fmt.Errorf("invalid side %q", side)
	}
}

// TargetFromRiskReward derives the target from the stop distance and a
// [risk, reward] ratio, on the favorable side of entry.
func TargetFromRiskReward(entry float64, side venue.Side, stop float64, ratio [2]float64) (float64, error) {
	if entry <= 0 {
		return 0, errors.New("entry price must be > 0")
	}
	if ratio[0] <= 0 || ratio[1] <= 0 {
		return 0, errors.New("risk:reward parts must be > 0")
	}
	riskAmount := math.Abs(entry - stop)
	rewardAmount := riskAmount * ratio[1] / ratio[0]
	switch side {
	case venue.Long:
		return entry + rewardAmount, nil
	case venue.Short:
		return entry - rewardAmount, nil
	default:
		return 0, fmt.Errorf("invalid side %q", side)
	}
}

// ClampStop caps a proposed stop at maxPct price distance from entry. Venues
// reject stops placed too far out, and a distant stop is usually a fat-finger.
// Returns the possibly-clamped stop and whether clamping occurred; an input
// already within the bound is returned exactly.
func ClampStop(stop, entry float64, side venue.Side, maxPct float64) (float64, bool) {
	if entry <= 0 || maxPct <= 0 {
		return stop, false
	}
	distance := math.Abs(entry-stop) / entry * 100
	if distance <= maxPct {
		return stop, false
	}
	move := maxPct / 100
	if side == venue.Long {
		return entry * (1 - move), true
	}
	return entry * (1 + move), true
}

// ScaleToInt converts a price or size to the venue's integer representation.
// Must be the last step after all price math; scaling earlier compounds
// rounding error across target/stop derivations.
func ScaleToInt(value float64, decimals int) int64 {
	return int64(math.Round(value * math.Pow10(decimals)))
}

func RoundDown(value float64, decimals int) float64 {
	if decimals <= 0 {
		return math.Floor(value)
	}
	factor := math.Pow10(decimals)
	return math.Floor(value*factor) / factor
}

func RoundTo(value float64, decimals int) float64 {
	if decimals <= 0 {
		return math.Round(value)
	}
	factor := math.Pow10(decimals)
	return math.Round(value*factor) / factor
}
