package hedge

import (
	"errors"
	"fmt"
	"strings"

	"mv-hedge-bot/internal/venue"
)

// CycleState is the lifecycle position of one open->hold->close iteration.
// A cycle only moves forward; FAILED is terminal.
type CycleState string

const (
	StateOpening   CycleState = "OPENING"
	StateHolding   CycleState = "HOLDING"
	StateClosing   CycleState = "CLOSING"
	StateCompleted CycleState = "COMPLETED"
	StateFailed    CycleState = "FAILED"
)

type CycleEvent string

const (
	EventOpened      CycleEvent = "OPENED"
	EventOpenFailed  CycleEvent = "OPEN_FAILED"
	EventCloseStart  CycleEvent = "CLOSE_START"
	EventClosed      CycleEvent = "CLOSED"
	EventCloseFailed CycleEvent = "CLOSE_FAILED"
)

// LegStatus tracks one venue's half of a cycle. FILLED, once set, is never
// reverted to PENDING.
type LegStatus string

const (
	LegPending     LegStatus = "PENDING"
	LegFilled      LegStatus = "FILLED"
	LegRejected    LegStatus = "REJECTED"
	LegClosed      LegStatus = "CLOSED"
	LegCloseFailed LegStatus = "CLOSE_FAILED"
	LegSkipped     LegStatus = "SKIPPED"
)

// Leg is one venue's half of a hedge cycle. FilledSize and Side are the only
// state trusted across the hold period: the venue read path may later report
// nonsense (see the close sequencer's zero-size fallback).
type Leg struct {
	VenueName   string
	Side        venue.Side
	NotionalUSD float64
	Leverage    float64
	EntryPrice  float64
	FilledSize  float64
	OrderID     string
	Protective  venue.ProtectiveRefs
	Status      LegStatus

	TargetPrice float64
	StopPrice   float64

	ExitPrice  float64
	PnlPercent float64

	Err        string
	SkipReason string
}

func (l *Leg) fail(err error) {
	l.Status = LegRejected
	if err != nil {
		l.Err = err.Error()
	}
}

// Cycle is one full hedge iteration, owned exclusively by the orchestrator
// running it for its whole duration.
type Cycle struct {
	ID     string
	Number int
	Symbol string
	Legs   []*Leg
	state  *StateMachine
}

func NewCycle(id string, number int, symbol string) *Cycle {
	return &Cycle{
		ID:     id,
		Number: number,
		Symbol: symbol,
		state:  NewStateMachine(),
	}
}

func (c *Cycle) State() CycleState {
	return c.state.Current()
}

func (c *Cycle) Apply(event CycleEvent) CycleState {
	return c.state.Apply(event)
}

// RiskMode selects how RiskParams resolve into absolute prices.
type RiskMode string

const (
	RiskPercent    RiskMode = "percent"
	RiskRiskReward RiskMode = "risk_reward"
)

// RiskParams describe the requested target/stop, either as ROI percentages or
// as a stop percent plus a risk:reward ratio. Resolved prices are immutable
// once computed for a given entry.
type RiskParams struct {
	Mode          RiskMode
	TargetPercent float64
	StopPercent   float64
	RiskReward    [2]float64
	MaxStopPct    float64
}

func (p RiskParams) WithStopPercent(stopPct float64) RiskParams {
	p.StopPercent = stopPct
	return p
}

// ValidationError marks a TP/SL request inconsistent with side and entry.
// It is raised before any network call and is a rejection, never a silent
// correction.
type ValidationError struct {
	Venue  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid order for %s: %s", e.Venue, e.Reason)
}

// PartialHedgeError reports that at least one leg opened while another did
// not, and carries the per-leg outcomes after compensation was attempted.
type PartialHedgeError struct {
	Legs []*Leg
}

func (e *PartialHedgeError) Error() string {
	parts := make([]string, 0, len(e.Legs))
	for _, leg := range e.Legs {
		if leg.Err != "" {
			parts = append(parts, fmt.Sprintf("%s: %s", leg.VenueName, leg.Err))
		} else {
			parts = append(parts, fmt.Sprintf("%s: %s", leg.VenueName, leg.Status))
		}
	}
	return "hedge open failed: " + strings.Join(parts, "; ")
}

// CloseFailedError identifies the venue still holding an open, unhedged
// position after a close attempt failed. Requires manual attention.
type CloseFailedError struct {
	Venue string
	Cause error
}

func (e *CloseFailedError) Error() string {
	return fmt.Sprintf("close failed on %s, position still open: %v", e.Venue, e.Cause)
}

func (e *CloseFailedError) Unwrap() error {
	return e.Cause
}

// ErrInconsistentPosition marks a venue read path contradicting locally
// tracked leg state. Resolution trusts local tracking and logs a warning.
var ErrInconsistentPosition = errors.New("venue position state inconsistent with tracked leg")
