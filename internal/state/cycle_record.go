package state

// LegRecord is the persisted view of one hedge leg. Status values mirror the
// in-memory leg lifecycle (PENDING, FILLED, REJECTED, CLOSED, CLOSE_FAILED,
// SKIPPED).
type LegRecord struct {
	Venue      string  `json:"venue"`
	Side       string  `json:"side"`
	Status     string  `json:"status"`
	EntryPrice float64 `json:"entry_price"`
	ExitPrice  float64 `json:"exit_price"`
	FilledSize float64 `json:"filled_size"`
	PnlPercent float64 `json:"pnl_percent"`
	SkipReason string  `json:"skip_reason,omitempty"`
}

// CycleRecord is the persisted outcome of one hedge cycle.
type CycleRecord struct {
	CycleID      string      `json:"cycle_id"`
	CycleNumber  int         `json:"cycle_number"`
	Symbol       string      `json:"symbol"`
	State        string      `json:"state"`
	Legs         []LegRecord `json:"legs"`
	TotalCostUSD float64     `json:"total_cost_usd"`
	FinishedAtMS int64       `json:"finished_at_ms"`
}

const legStatusCloseFailed = "CLOSE_FAILED"

// HasCloseFailure reports whether any leg in the record failed to close,
// meaning a position may still be open on that venue.
func (r CycleRecord) HasCloseFailure() bool {
	for _, leg := range r.Legs {
		if leg.Status == legStatusCloseFailed {
			return true
		}
	}
	return false
}

// OpenLegs returns the legs that may still hold a live position on a venue.
func (r CycleRecord) OpenLegs() []LegRecord {
	var open []LegRecord
	for _, leg := range r.Legs {
		if leg.Status == legStatusCloseFailed {
			open = append(open, leg)
		}
	}
	return open
}
