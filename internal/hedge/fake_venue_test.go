package hedge

import (
	"context"
	"sync"

	"mv-hedge-bot/internal/venue"
)

type fakeVenue struct {
	mu sync.Mutex

	name          string
	priceDecimals int
	sizeDecimals  int

	quote     venue.Quote
	quoteErr  error
	quoteSeq  []venue.Quote
	quoteCall int

	fill    venue.Fill
	fillErr error
	// fillErrOnce fails the first market order only, for retry tests.
	fillErrOnce error
	marketCalls []venue.MarketOrder
	limitCalls  []venue.LimitOrder

	protRefs venue.ProtectiveRefs
	protErr  error
	// protErrOnce fails the first protective attach only, for retry tests.
	protErrOnce error
	protCalls   []venue.ProtectiveRequest

	cancelCalls []string
	cancelErr   error

	positions    []venue.Position
	positionsErr error

	closeResult venue.CloseResult
	closeErr    error
	closeCalls  []venue.CloseRequest

	balance    venue.Balance
	balanceErr error
}

func newFakeVenue(name string) *fakeVenue {
	return &fakeVenue{
		name:          name,
		priceDecimals: 2,
		sizeDecimals:  4,
		quote:         venue.Quote{Bid: 99, Ask: 101},
		fill:          venue.Fill{Filled: true, FilledPrice: 100, FilledSize: 0.01, OrderID: name + "-oid"},
		closeResult:   venue.CloseResult{Closed: true, ClosePrice: 100},
		balance:       venue.Balance{Available: 1000, Total: 1000},
	}
}

func (f *fakeVenue) Name() string       { return f.name }
func (f *fakeVenue) PriceDecimals() int { return f.priceDecimals }
func (f *fakeVenue) SizeDecimals() int  { return f.sizeDecimals }

func (f *fakeVenue) Quote(ctx context.Context, symbol string) (venue.Quote, error) {
	_ = ctx
	_ = symbol
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.quoteErr != nil {
		return venue.Quote{}, f.quoteErr
	}
	if len(f.quoteSeq) > 0 {
		q := f.quoteSeq[f.quoteCall]
		if f.quoteCall < len(f.quoteSeq)-1 {
			f.quoteCall++
		}
		return q, nil
	}
	return f.quote, nil
}

func (f *fakeVenue) PlaceMarketOrder(ctx context.Context, order venue.MarketOrder) (venue.Fill, error) {
	_ = ctx
	f.mu.Lock()
	defer f.mu.Unlock()
	f.marketCalls = append(f.marketCalls, order)
	if f.fillErrOnce != nil {
		err := f.fillErrOnce
		f.fillErrOnce = nil
		return venue.Fill{}, err
	}
	if f.fillErr != nil {
		return venue.Fill{}, f.fillErr
	}
	return f.fill, nil
}

func (f *fakeVenue) PlaceLimitOrder(ctx context.Context, order venue.LimitOrder) (string, error) {
	_ = ctx
	f.mu.Lock()
	defer f.mu.Unlock()
	f.limitCalls = append(f.limitCalls, order)
	return f.name + "-limit-oid", nil
}

func (f *fakeVenue) AttachProtectiveOrders(ctx context.Context, req venue.ProtectiveRequest) (venue.ProtectiveRefs, error) {
	_ = ctx
	f.mu.Lock()
	defer f.mu.Unlock()
	f.protCalls = append(f.protCalls, req)
	if f.protErrOnce != nil {
		err := f.protErrOnce
		f.protErrOnce = nil
		return venue.ProtectiveRefs{}, err
	}
	if f.protErr != nil {
		return venue.ProtectiveRefs{}, f.protErr
	}
	return f.protRefs, nil
}

func (f *fakeVenue) CancelOrder(ctx context.Context, orderID string) (bool, error) {
	_ = ctx
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelCalls = append(f.cancelCalls, orderID)
	if f.cancelErr != nil {
		return false, f.cancelErr
	}
	return true, nil
}

func (f *fakeVenue) ClosePosition(ctx context.Context, req venue.CloseRequest) (venue.CloseResult, error) {
	_ = ctx
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeCalls = append(f.closeCalls, req)
	if f.closeErr != nil {
		return venue.CloseResult{}, f.closeErr
	}
	return f.closeResult, nil
}

func (f *fakeVenue) Positions(ctx context.Context) ([]venue.Position, error) {
	_ = ctx
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.positionsErr != nil {
		return nil, f.positionsErr
	}
	return f.positions, nil
}

func (f *fakeVenue) Balance(ctx context.Context) (venue.Balance, error) {
	_ = ctx
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.balanceErr != nil {
		return venue.Balance{}, f.balanceErr
	}
	return f.balance, nil
}

type fakeAlerter struct {
	mu       sync.Mutex
	messages []string
	urgent   []string
	err      error
}

func (f *fakeAlerter) Send(ctx context.Context, message string) error {
	_ = ctx
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, message)
	return f.err
}

func (f *fakeAlerter) SendUrgent(ctx context.Context, message string) error {
	_ = ctx
	f.mu.Lock()
	defer f.mu.Unlock()
	f.urgent = append(f.urgent, message)
	return f.err
}
