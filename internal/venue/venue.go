package venue

import (
	"context"
	"errors"
	"fmt"
)

// Side is the direction of a leg on a venue.
type Side string

const (
	Long  Side = "long"
	Short Side = "short"
)

// Opposite returns the complementary side for the hedge partner leg.
func (s Side) Opposite() Side {
	if s == Long {
		return Short
	}
	return Long
}

func (s Side) Valid() bool {
	return s == Long || s == Short
}

// Quote is a point-in-time best bid/ask. Quotes are time-bounded and must be
// re-fetched for every decision point, never cached across a hold period.
type Quote struct {
	Bid float64
	Ask float64
}

func (q Quote) Mid() float64 {
	return (q.Bid + q.Ask) / 2
}

// Fill is the venue's answer to a market entry order. FilledSize is the
// authoritative size: venues may partially fill or adjust, so downstream
// protective orders must be sized from it, not from the request.
type Fill struct {
	Filled      bool
	FilledPrice float64
	FilledSize  float64
	OrderID     string
}

// ProtectiveRefs carries the venue order ids of attached TP/SL orders.
// Either id may be empty when the corresponding order was not requested.
type ProtectiveRefs struct {
	TargetOrderID string
	StopOrderID   string
}

// ProtectiveRequest asks the venue to attach reduce-only target/stop orders
// against an already-filled position. Zero price means "not requested".
type ProtectiveRequest struct {
	Symbol      string
	Side        Side
	FilledSize  float64
	EntryPrice  float64
	TargetPrice float64
	StopPrice   float64
}

// Position is one open position as reported by the venue read path.
type Position struct {
	Symbol     string
	Side       Side
	Size       float64
	EntryPrice float64
}

// Balance is a per-venue account balance snapshot.
type Balance struct {
	Available float64
	Total     float64
}

// CloseRequest submits a reduce-only close. SizeOverride of zero closes the
// full reported position; a non-zero override is used when the venue read
// path cannot be trusted. LimitPrice of zero lets the venue pick; the close
// sequencer always supplies a slippage-buffered limit.
type CloseRequest struct {
	Symbol       string
	Side         Side
	SizeOverride float64
	LimitPrice   float64
}

type CloseResult struct {
	Closed     bool
	ClosePrice float64
	PnlPercent float64
}

type MarketOrder struct {
	Symbol         string
	Side           Side
	USDSize        float64
	Leverage       float64
	MaxSlippagePct float64
	ClientOrderID  string
}

type LimitOrder struct {
	Symbol        string
	Side          Side
	USDSize       float64
	LimitPrice    float64
	Leverage      float64
	ClientOrderID string
}

// Venue is the per-venue capability the hedge core is polymorphic over.
// Implementations own transport, signing and response parsing; every call is
// expected to be bounded (timeouts enforced at the adapter, not above it).
type Venue interface {
	Name() string
	// PriceDecimals and SizeDecimals are externally supplied precision
	// constraints used by the calculator's final rounding step.
	PriceDecimals() int
	SizeDecimals() int

	Quote(ctx context.Context, symbol string) (Quote, error)
	PlaceMarketOrder(ctx context.Context, order MarketOrder) (Fill, error)
	PlaceLimitOrder(ctx context.Context, order LimitOrder) (string, error)
	AttachProtectiveOrders(ctx context.Context, req ProtectiveRequest) (ProtectiveRefs, error)
	CancelOrder(ctx context.Context, orderID string) (bool, error)
	ClosePosition(ctx context.Context, req CloseRequest) (CloseResult, error)
	Positions(ctx context.Context) ([]Position, error)
	Balance(ctx context.Context) (Balance, error)
}

// ErrQuoteUnavailable marks a failed quote fetch. Retrying is the caller's
// choice, never automatic at this boundary.
var ErrQuoteUnavailable = errors.New("quote unavailable")

// OrderRejectedError preserves the venue's own reason verbatim so retry
// policies can match on it.
type OrderRejectedError struct {
	Venue  string
	Reason string
}

func (e *OrderRejectedError) Error() string {
	return fmt.Sprintf("order rejected by %s: %s", e.Venue, e.Reason)
}
