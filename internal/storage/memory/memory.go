// Package memory provides an in-memory journal for tests and ephemeral runs.
package memory

import (
	"context"
	"sync"

	"github.com/louisbranch/chainaccount/internal/event"
)

// Journal stores events in memory with journal-assigned sequence numbers.
type Journal struct {
	mu     sync.Mutex
	events []event.Event
}

// NewJournal creates an empty in-memory journal.
func NewJournal() *Journal {
	return &Journal{}
}

// Append records a batch of events atomically.
func (j *Journal) Append(ctx context.Context, events []event.Event) ([]event.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	appended := make([]event.Event, 0, len(events))
	next := uint64(len(j.events)) + 1
	for _, ev := range events {
		ev.Seq = next
		next++
		appended = append(appended, ev)
	}
	j.events = append(j.events, appended...)
	return appended, nil
}

// List returns up to limit events with Seq greater than afterSeq.
func (j *Journal) List(ctx context.Context, afterSeq uint64, limit int) ([]event.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	if afterSeq >= uint64(len(j.events)) {
		return nil, nil
	}
	tail := j.events[afterSeq:]
	if limit > 0 && limit < len(tail) {
		tail = tail[:limit]
	}
	out := make([]event.Event, len(tail))
	copy(out, tail)
	return out, nil
}
