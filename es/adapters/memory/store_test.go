package memory_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/getpup/pupcart/es"
	"github.com/getpup/pupcart/es/adapters/memory"
	"github.com/getpup/pupcart/es/store"
	"github.com/getpup/pupcart/es/store/storetest"
)

func TestStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.EventStore {
		return memory.NewStore()
	})
}

func TestStore_AggregateTypeMismatch(t *testing.T) {
	ctx := context.Background()
	s := memory.NewStore()
	streamID := es.StreamIDFromUUID(uuid.New())

	if _, err := s.Append(ctx, streamID, "Cart", es.Exact(0), storetest.NewEvents(1)); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if _, err := s.Append(ctx, streamID, "Product", es.Exact(1), storetest.NewEvents(1)); err == nil {
		t.Fatal("expected error appending with a different aggregate type")
	}
}

func TestStore_Checkpoints(t *testing.T) {
	ctx := context.Background()
	s := memory.NewStore()

	pos, err := s.GetCheckpoint(ctx, "carts")
	if err != nil {
		t.Fatalf("GetCheckpoint() error = %v", err)
	}
	if pos != 0 {
		t.Errorf("expected initial checkpoint 0, got %d", pos)
	}

	if err := s.UpdateCheckpoint(ctx, "carts", 42); err != nil {
		t.Fatalf("UpdateCheckpoint() error = %v", err)
	}
	pos, _ = s.GetCheckpoint(ctx, "carts")
	if pos != 42 {
		t.Errorf("expected checkpoint 42, got %d", pos)
	}
}

// TestProperty_VersionArithmetic checks that after any sequence of successful
// appends, the head version equals the total number of events appended, and
// that a stale append never changes the stream.
func TestProperty_VersionArithmetic(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("new version = prior version + appended count", prop.ForAll(
		func(batches []int) bool {
			ctx := context.Background()
			s := memory.NewStore()
			streamID := es.StreamIDFromUUID(uuid.New())

			var version int64
			for _, n := range batches {
				result, err := s.Append(ctx, streamID, "Thing", es.Exact(version), storetest.NewEvents(n))
				if err != nil {
					return false
				}
				if result.FromVersion() != version+1 || result.ToVersion() != version+int64(n) {
					return false
				}
				version += int64(n)
			}

			events, err := s.Load(ctx, streamID, nil)
			if err != nil || int64(len(events)) != version {
				return false
			}
			for i, e := range events {
				if e.Version != int64(i+1) {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(1, 5)),
	))

	properties.Property("stale append leaves the stream unchanged", prop.ForAll(
		func(initial int, stale int) bool {
			ctx := context.Background()
			s := memory.NewStore()
			streamID := es.StreamIDFromUUID(uuid.New())

			if _, err := s.Append(ctx, streamID, "Thing", es.Exact(0), storetest.NewEvents(initial)); err != nil {
				return false
			}
			if int64(stale) == int64(initial) {
				stale++
			}
			_, err := s.Append(ctx, streamID, "Thing", es.Exact(int64(stale)), storetest.NewEvents(1))
			if !store.IsConflict(err) {
				return false
			}
			version, _ := s.Version(ctx, streamID)
			return version == int64(initial)
		},
		gen.IntRange(1, 10),
		gen.IntRange(0, 10),
	))

	properties.TestingRun(t)
}
