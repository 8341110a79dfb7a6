package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/louisbranch/chainaccount/internal/event"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	journal, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	t.Cleanup(func() {
		if err := journal.Close(); err != nil {
			t.Errorf("close journal: %v", err)
		}
	})
	return journal
}

func testEvent(t *testing.T, to string, amount int64) event.Event {
	t.Helper()
	ev, err := event.New(event.TypeTransfer, "bank", event.TransferPayload{
		To:     to,
		Amount: amount,
	})
	if err != nil {
		t.Fatalf("new event: %v", err)
	}
	ev.Timestamp = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return ev
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open("  "); err == nil {
		t.Fatal("expected error for blank path")
	}
}

func TestAppendAssignsContiguousSeq(t *testing.T) {
	journal := openTestJournal(t)
	ctx := context.Background()

	first, err := journal.Append(ctx, []event.Event{
		testEvent(t, "alice", 100),
		testEvent(t, "bob", 200),
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if len(first) != 2 {
		t.Fatalf("appended %d events, want 2", len(first))
	}
	if first[0].Seq != 1 || first[1].Seq != 2 {
		t.Fatalf("seqs = %d, %d, want 1, 2", first[0].Seq, first[1].Seq)
	}

	second, err := journal.Append(ctx, []event.Event{testEvent(t, "carol", 300)})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if second[0].Seq != 3 {
		t.Fatalf("seq = %d, want 3", second[0].Seq)
	}
}

func TestAppendRejectsBlankType(t *testing.T) {
	journal := openTestJournal(t)
	ctx := context.Background()

	bad := testEvent(t, "alice", 100)
	bad.Type = ""
	if _, err := journal.Append(ctx, []event.Event{bad}); err == nil {
		t.Fatal("expected error for blank event type")
	}

	events, err := journal.List(ctx, 0, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("journal has %d events after failed append, want 0", len(events))
	}
}

func TestListRoundTrip(t *testing.T) {
	journal := openTestJournal(t)
	ctx := context.Background()

	want := testEvent(t, "alice", 100)
	appended, err := journal.Append(ctx, []event.Event{want})
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	events, err := journal.List(ctx, 0, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("listed %d events, want 1", len(events))
	}
	got := events[0]
	if got.Seq != appended[0].Seq {
		t.Errorf("seq = %d, want %d", got.Seq, appended[0].Seq)
	}
	if !got.Timestamp.Equal(want.Timestamp) {
		t.Errorf("timestamp = %v, want %v", got.Timestamp, want.Timestamp)
	}
	if got.Type != want.Type {
		t.Errorf("type = %q, want %q", got.Type, want.Type)
	}
	if got.Actor != want.Actor {
		t.Errorf("actor = %q, want %q", got.Actor, want.Actor)
	}

	var payload event.TransferPayload
	if err := got.DecodePayload(&payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.To != "alice" || payload.Amount != 100 {
		t.Errorf("payload = %+v", payload)
	}
}

func TestListPagination(t *testing.T) {
	journal := openTestJournal(t)
	ctx := context.Background()

	batch := []event.Event{
		testEvent(t, "alice", 1),
		testEvent(t, "bob", 2),
		testEvent(t, "carol", 3),
	}
	if _, err := journal.Append(ctx, batch); err != nil {
		t.Fatalf("append: %v", err)
	}

	page, err := journal.List(ctx, 1, 1)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page) != 1 || page[0].Seq != 2 {
		t.Fatalf("page = %+v, want single event with seq 2", page)
	}

	rest, err := journal.List(ctx, 2, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rest) != 1 || rest[0].Seq != 3 {
		t.Fatalf("rest = %+v, want single event with seq 3", rest)
	}
}

func TestReopenKeepsEvents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	ctx := context.Background()

	journal, err := Open(path)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	if _, err := journal.Append(ctx, []event.Event{testEvent(t, "alice", 100)}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := journal.Close(); err != nil {
		t.Fatalf("close journal: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen journal: %v", err)
	}
	defer reopened.Close()

	events, err := reopened.List(ctx, 0, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("listed %d events after reopen, want 1", len(events))
	}
}

func TestCancelledContext(t *testing.T) {
	journal := openTestJournal(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := journal.Append(ctx, []event.Event{testEvent(t, "alice", 100)}); err == nil {
		t.Fatal("expected error for cancelled context on append")
	}
	if _, err := journal.List(ctx, 0, 0); err == nil {
		t.Fatal("expected error for cancelled context on list")
	}
}
