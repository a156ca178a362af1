package hedge

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"mv-hedge-bot/internal/venue"
)

// BalanceSnapshot holds per-venue balances captured at one point in time.
type BalanceSnapshot map[string]venue.Balance

// SnapshotBalances reads every venue's balance. Balances are externally
// authoritative and always re-read, never cached.
func SnapshotBalances(ctx context.Context, venues []venue.Venue) (BalanceSnapshot, error) {
	snap := make(BalanceSnapshot, len(venues))
	for _, v := range venues {
		bal, err := v.Balance(ctx)
		if err != nil {
			return nil, fmt.Errorf("balance on %s: %w", v.Name(), err)
		}
		snap[v.Name()] = bal
	}
	return snap, nil
}

type VenueCost struct {
	Before  venue.Balance
	After   venue.Balance
	CostUSD float64
}

type LegReport struct {
	Venue       string
	Side        venue.Side
	Status      LegStatus
	EntryPrice  float64
	ExitPrice   float64
	FilledSize  float64
	PnlPercent  float64
	Error       string
	SkipReason  string
	TargetPrice float64
	StopPrice   float64
}

// CycleReport is the single structured result of one completed or failed
// cycle, handed to external collaborators (alerting, persistence).
type CycleReport struct {
	CycleID      string
	CycleNumber  int
	Symbol       string
	State        CycleState
	Legs         []LegReport
	Balances     map[string]VenueCost
	TotalCostUSD float64
	TotalCostPct float64
	FinishedAt   time.Time
}

// BuildReport diffs the before/after balance snapshots against the cycle's
// legs. Positive cost means net USD left the accounts across the cycle,
// typically fees plus unfavorable slippage netted against realized P&L.
func BuildReport(cycle *Cycle, before, after BalanceSnapshot) CycleReport {
	report := CycleReport{
		CycleID:     cycle.ID,
		CycleNumber: cycle.Number,
		Symbol:      cycle.Symbol,
		State:       cycle.State(),
		Balances:    make(map[string]VenueCost, len(before)),
		FinishedAt:  time.Now().UTC(),
	}
	for _, leg := range cycle.Legs {
		report.Legs = append(report.Legs, LegReport{
			Venue:       leg.VenueName,
			Side:        leg.Side,
			Status:      leg.Status,
			EntryPrice:  leg.EntryPrice,
			ExitPrice:   leg.ExitPrice,
			FilledSize:  leg.FilledSize,
			PnlPercent:  leg.PnlPercent,
			Error:       leg.Err,
			SkipReason:  leg.SkipReason,
			TargetPrice: leg.TargetPrice,
			StopPrice:   leg.StopPrice,
		})
	}
	var totalBefore, totalCost float64
	for name, beforeBal := range before {
		afterBal := after[name]
		cost := beforeBal.Total - afterBal.Total
		report.Balances[name] = VenueCost{
			Before:  beforeBal,
			After:   afterBal,
			CostUSD: cost,
		}
		totalBefore += beforeBal.Total
		totalCost += cost
	}
	report.TotalCostUSD = totalCost
	if totalBefore > 0 {
		report.TotalCostPct = totalCost / totalBefore * 100
	}
	return report
}

// Summary renders the report as a human-readable block for the alert channel.
func (r CycleReport) Summary() string {
	lines := []string{
		fmt.Sprintf("cycle %d (%s): %s", r.CycleNumber, r.Symbol, r.State),
	}
	for _, leg := range r.Legs {
		switch leg.Status {
		case LegClosed:
			lines = append(lines, fmt.Sprintf("%s %s: entry %.8g exit %.8g size %.8g pnl %.4f%%",
				leg.Venue, leg.Side, leg.EntryPrice, leg.ExitPrice, leg.FilledSize, leg.PnlPercent))
		case LegSkipped:
			lines = append(lines, fmt.Sprintf("%s %s: %s", leg.Venue, leg.Side, leg.SkipReason))
		default:
			detail := leg.Error
			if detail == "" {
				detail = string(leg.Status)
			}
			lines = append(lines, fmt.Sprintf("%s %s: %s", leg.Venue, leg.Side, detail))
		}
	}
	names := make([]string, 0, len(r.Balances))
	for name := range r.Balances {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		cost := r.Balances[name]
		lines = append(lines, fmt.Sprintf("%s balance: %.4f -> %.4f (cost %.4f)",
			name, cost.Before.Total, cost.After.Total, cost.CostUSD))
	}
	lines = append(lines, fmt.Sprintf("total cost: %.4f USD (%.4f%%)", r.TotalCostUSD, r.TotalCostPct))
	return strings.Join(lines, "\n")
}
