package aggregate_test

import (
	"errors"
	"testing"
	"time"

	"github.com/getpup/pupcart/es"
	"github.com/getpup/pupcart/es/aggregate"
)

type incremented struct{ By int }

type removed struct{}

type counter struct {
	aggregate.Root
	total int
}

func newCounter(id string, opts ...aggregate.Option) *counter {
	c := &counter{}
	c.Root = aggregate.NewRoot(id, "Counter", c.apply, opts...)
	return c
}

func (c *counter) apply(event any) {
	switch e := event.(type) {
	case incremented:
		c.total += e.By
	case removed:
		c.total = 0
	default:
		panic("counter: unknown event")
	}
}

func (c *counter) Increment(by int, actor string) error {
	if err := c.GuardActive(); err != nil {
		return err
	}
	if by <= 0 {
		return aggregate.Invariantf("increment must be positive, got %d", by)
	}
	c.Record(incremented{By: by}, actor)
	return nil
}

func (c *counter) Remove(actor string) {
	if c.IsDeleted() {
		return
	}
	c.RecordDelete(removed{}, actor)
}

func TestRecordAppliesImmediately(t *testing.T) {
	c := newCounter("c1")
	if !c.IsNew() {
		t.Fatal("expected new aggregate")
	}

	if err := c.Increment(2, "alice"); err != nil {
		t.Fatalf("Increment failed: %v", err)
	}
	if err := c.Increment(3, ""); err != nil {
		t.Fatalf("Increment failed: %v", err)
	}

	if c.total != 5 {
		t.Errorf("total = %d, want 5", c.total)
	}
	if c.Version() != 0 {
		t.Errorf("pending changes must not advance version, got %d", c.Version())
	}
	changes := c.Changes()
	if len(changes) != 2 {
		t.Fatalf("len(changes) = %d, want 2", len(changes))
	}
	if changes[0].ActorID != "alice" || changes[1].ActorID != "" {
		t.Errorf("unexpected actors: %q, %q", changes[0].ActorID, changes[1].ActorID)
	}
	if !changes[0].OccurredOn.IsZero() {
		t.Error("without a clock changes are stamped at save")
	}
}

func TestInvariantLeavesStateUnchanged(t *testing.T) {
	c := newCounter("c1")
	err := c.Increment(0, "alice")
	if !errors.Is(err, aggregate.ErrInvariant) {
		t.Fatalf("expected ErrInvariant, got %v", err)
	}
	if c.HasChanges() || c.total != 0 {
		t.Error("failed command must not record or apply")
	}
}

func TestWithClock(t *testing.T) {
	at := time.Date(2026, 4, 2, 9, 0, 0, 0, time.FixedZone("X", 3600))
	c := newCounter("c1", aggregate.WithClock(func() time.Time { return at }))
	_ = c.Increment(1, "alice")

	got := c.Changes()[0].OccurredOn
	if !got.Equal(at) || got.Location() != time.UTC {
		t.Errorf("OccurredOn = %v, want %v in UTC", got, at)
	}
}

func TestDeleteIsAbsorbing(t *testing.T) {
	c := newCounter("c1")
	_ = c.Increment(4, "alice")
	c.Remove("alice")
	c.Remove("alice")

	if !c.IsDeleted() {
		t.Fatal("expected deleted")
	}
	changes := c.Changes()
	if len(changes) != 2 || !changes[1].DeleteMarker {
		t.Fatalf("expected exactly one delete change, got %+v", changes)
	}

	err := c.Increment(1, "alice")
	if !errors.Is(err, aggregate.ErrDeleted) || !errors.Is(err, aggregate.ErrInvariant) {
		t.Errorf("expected ErrDeleted wrapping ErrInvariant, got %v", err)
	}
}

func TestCommitAndReplay(t *testing.T) {
	c := newCounter("c1")
	_ = c.Increment(1, "alice")
	_ = c.Increment(1, "alice")
	c.Commit(2)

	if c.HasChanges() {
		t.Error("commit must clear pending changes")
	}
	if c.Version() != 2 {
		t.Errorf("Version() = %d, want 2", c.Version())
	}

	replayed := newCounter("c1")
	if err := replayed.Replay(es.Event{Version: 1}, incremented{By: 3}); err != nil {
		t.Fatal(err)
	}
	if err := replayed.Replay(es.Event{Version: 2, DeleteMarker: true}, removed{}); err != nil {
		t.Fatal(err)
	}
	if replayed.Version() != 2 || !replayed.IsDeleted() || replayed.HasChanges() {
		t.Errorf("unexpected replay state: version=%d deleted=%v", replayed.Version(), replayed.IsDeleted())
	}
}

func TestReplayRejectsVersionGap(t *testing.T) {
	tests := []struct {
		name    string
		version int64
	}{
		{"gap", 3},
		{"repeat", 1},
		{"backwards", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newCounter("c1")
			if err := c.Replay(es.Event{Version: 1}, incremented{By: 2}); err != nil {
				t.Fatal(err)
			}
			err := c.Replay(es.Event{Version: tt.version}, incremented{By: 5})
			if !errors.Is(err, aggregate.ErrVersionGap) {
				t.Fatalf("expected ErrVersionGap, got %v", err)
			}
			if c.Version() != 1 || c.total != 2 {
				t.Errorf("rejected event was applied: version=%d total=%d", c.Version(), c.total)
			}
		})
	}
}

func TestChangesReturnsCopy(t *testing.T) {
	c := newCounter("c1")
	_ = c.Increment(1, "alice")
	changes := c.Changes()
	changes[0].ActorID = "mallory"
	if c.Changes()[0].ActorID != "alice" {
		t.Error("Changes must not expose internal state")
	}
}

func TestUnknownEventPanics(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("expected panic for unknown event")
		}
	}()
	c := newCounter("c1")
	c.Record(struct{}{}, "alice")
}
