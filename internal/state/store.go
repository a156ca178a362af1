package state

import "context"

// Journal persists the outcome of each hedge cycle so a restarted bot can
// tell whether the previous run left a leg open on a venue.
type Journal interface {
	SaveCycle(ctx context.Context, record CycleRecord) error
	LastCycle(ctx context.Context) (CycleRecord, bool, error)
	Close() error
}
