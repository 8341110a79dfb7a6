// Package storage defines the persistence boundary for the ledger journal.
package storage

import (
	"context"

	"github.com/louisbranch/chainaccount/internal/event"
)

// Journal persists the ordered event log the engine commits to.
//
// Append is the engine's commit point: either every event in the batch is
// recorded with contiguous sequence numbers or none is. The engine folds
// events into state only after Append returns.
type Journal interface {
	// Append records a batch of events atomically, assigning sequence
	// numbers starting right after the current journal head. It returns
	// the events with Seq populated.
	Append(ctx context.Context, events []event.Event) ([]event.Event, error)
	// List returns up to limit events with Seq greater than afterSeq, in
	// sequence order. A non-positive limit means no limit.
	List(ctx context.Context, afterSeq uint64, limit int) ([]event.Event, error)
}
