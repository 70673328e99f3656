// Package projection provides projection processing capabilities.
package projection

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/spaolacci/murmur3"

	"github.com/getpup/pupcart/es"
	"github.com/getpup/pupcart/es/store"
)

var (
	// ErrProjectionStopped indicates the projection was stopped due to an error.
	ErrProjectionStopped = errors.New("projection stopped")
)

// Projection defines the interface for event projection handlers.
type Projection interface {
	// Name returns the unique name of this projection.
	// This name is used for checkpoint tracking.
	Name() string

	// Handle processes a single event.
	// Return an error to stop projection processing.
	//
	//nolint:gocritic // hugeParam: events are passed by value so handlers cannot mutate them
	Handle(ctx context.Context, event es.Event) error
}

// ScopedProjection is a projection that only receives events of some aggregate types.
// An empty list means all types.
type ScopedProjection interface {
	Projection
	AggregateTypes() []string
}

// InScope reports whether proj wants events of aggregateType.
func InScope(proj Projection, aggregateType string) bool {
	scoped, ok := proj.(ScopedProjection)
	if !ok {
		return true
	}
	types := scoped.AggregateTypes()
	if len(types) == 0 {
		return true
	}
	for _, t := range types {
		if t == aggregateType {
			return true
		}
	}
	return false
}

// PartitionStrategy defines how events are partitioned across projection instances.
type PartitionStrategy interface {
	// ShouldProcess returns true if this projection instance should process the given event.
	// streamID is the stream of the event.
	// partitionKey identifies this projection instance (e.g., 0 for first of 4 workers).
	// totalPartitions is the total number of projection instances.
	ShouldProcess(streamID string, partitionKey int, totalPartitions int) bool
}

// HashPartitionStrategy implements deterministic hash-based partitioning.
// Events are distributed across partitions based on a hash of the stream ID.
// All events of a stream go to the same partition, which preserves per-stream
// ordering while processing scales horizontally.
type HashPartitionStrategy struct{}

// ShouldProcess implements PartitionStrategy using FNV-1a hashing.
func (HashPartitionStrategy) ShouldProcess(streamID string, partitionKey int, totalPartitions int) bool {
	if totalPartitions <= 1 {
		return true
	}

	h := fnv.New32a()
	h.Write([]byte(streamID))
	return int(h.Sum32()%uint32(totalPartitions)) == partitionKey
}

// Murmur3PartitionStrategy partitions by the 32-bit murmur3 hash of the stream ID.
type Murmur3PartitionStrategy struct{}

// ShouldProcess implements PartitionStrategy.
func (Murmur3PartitionStrategy) ShouldProcess(streamID string, partitionKey int, totalPartitions int) bool {
	if totalPartitions <= 1 {
		return true
	}
	return int(murmur3.Sum32([]byte(streamID))%uint32(totalPartitions)) == partitionKey
}

// ProcessorConfig configures a projection processor.
type ProcessorConfig struct {
	// Logger is an optional logger. If nil, logging is disabled.
	Logger es.Logger

	// PartitionStrategy determines which events this processor handles
	PartitionStrategy PartitionStrategy

	// BatchSize is the number of events to read per batch
	BatchSize int

	// PartitionKey identifies this processor instance (0-indexed)
	PartitionKey int

	// TotalPartitions is the total number of processor instances
	TotalPartitions int

	// PollInterval is how long Run waits after draining the log.
	PollInterval time.Duration
}

// DefaultProcessorConfig returns the default configuration.
func DefaultProcessorConfig() ProcessorConfig {
	return ProcessorConfig{
		BatchSize:         100,
		PartitionKey:      0,
		TotalPartitions:   1,
		PartitionStrategy: HashPartitionStrategy{},
		PollInterval:      500 * time.Millisecond,
	}
}

// ProcessorRunner is anything that can drive a projection until cancelled.
type ProcessorRunner interface {
	Run(ctx context.Context, proj Projection) error
}

// Processor feeds a projection from a store's global log and tracks its checkpoint.
type Processor struct {
	reader      store.EventReader
	checkpoints store.CheckpointStore
	config      ProcessorConfig
}

var _ ProcessorRunner = (*Processor)(nil)

// NewProcessor creates a new projection processor.
func NewProcessor(reader store.EventReader, checkpoints store.CheckpointStore, config ProcessorConfig) *Processor {
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultProcessorConfig().BatchSize
	}
	if config.TotalPartitions <= 0 {
		config.TotalPartitions = 1
	}
	if config.PartitionStrategy == nil {
		config.PartitionStrategy = HashPartitionStrategy{}
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultProcessorConfig().PollInterval
	}
	return &Processor{
		reader:      reader,
		checkpoints: checkpoints,
		config:      config,
	}
}

// CheckpointName is the checkpoint key for proj under this processor's partition.
func (p *Processor) CheckpointName(proj Projection) string {
	if p.config.TotalPartitions <= 1 {
		return proj.Name()
	}
	return fmt.Sprintf("%s#%d/%d", proj.Name(), p.config.PartitionKey, p.config.TotalPartitions)
}

// RunOnce processes batches until the log is drained and returns the number of
// events handled.
func (p *Processor) RunOnce(ctx context.Context, proj Projection) (int, error) {
	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		read, handled, err := p.processBatch(ctx, proj)
		total += handled
		if err != nil {
			return total, fmt.Errorf("%w: %w", ErrProjectionStopped, err)
		}
		if read == 0 {
			return total, nil
		}
	}
}

// Run processes events for the given projection until the context is canceled.
// Between drains it sleeps PollInterval.
// Returns ErrProjectionStopped if the projection handler returns an error.
func (p *Processor) Run(ctx context.Context, proj Projection) error {
	if p.config.Logger != nil {
		p.config.Logger.Info(ctx, "projection processor starting",
			"projection", proj.Name(),
			"partition_key", p.config.PartitionKey,
			"total_partitions", p.config.TotalPartitions,
			"batch_size", p.config.BatchSize)
	}

	for {
		if _, err := p.RunOnce(ctx, proj); err != nil {
			if ctx.Err() != nil {
				return p.stopped(ctx, proj)
			}
			if p.config.Logger != nil {
				p.config.Logger.Error(ctx, "projection processor error",
					"projection", proj.Name(),
					"error", err)
			}
			return err
		}

		timer := time.NewTimer(p.config.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return p.stopped(ctx, proj)
		case <-timer.C:
		}
	}
}

func (p *Processor) stopped(ctx context.Context, proj Projection) error {
	if p.config.Logger != nil {
		p.config.Logger.Info(ctx, "projection processor stopped",
			"projection", proj.Name(),
			"reason", ctx.Err())
	}
	return ctx.Err()
}

func (p *Processor) processBatch(ctx context.Context, proj Projection) (read, handled int, err error) {
	name := p.CheckpointName(proj)
	checkpoint, err := p.checkpoints.GetCheckpoint(ctx, name)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to get checkpoint: %w", err)
	}

	events, err := p.reader.ReadEvents(ctx, checkpoint, p.config.BatchSize)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read events: %w", err)
	}
	if len(events) == 0 {
		return 0, 0, nil
	}

	var lastPosition int64
	skipped := 0
	for i := range events {
		event := events[i]

		if !InScope(proj, event.AggregateType) ||
			!p.config.PartitionStrategy.ShouldProcess(event.StreamID, p.config.PartitionKey, p.config.TotalPartitions) {
			lastPosition = event.GlobalPosition
			skipped++
			continue
		}

		if err := proj.Handle(ctx, event); err != nil {
			if p.config.Logger != nil {
				p.config.Logger.Error(ctx, "projection handler error",
					"projection", proj.Name(),
					"position", event.GlobalPosition,
					"aggregate_type", event.AggregateType,
					"stream_id", event.StreamID,
					"event_type", event.EventType,
					"error", err)
			}
			// Keep progress made before the failing event.
			if lastPosition > 0 {
				if cpErr := p.checkpoints.UpdateCheckpoint(ctx, name, lastPosition); cpErr != nil {
					return len(events), handled, errors.Join(err, cpErr)
				}
			}
			return len(events), handled, fmt.Errorf("projection handler error at position %d: %w", event.GlobalPosition, err)
		}

		lastPosition = event.GlobalPosition
		handled++
	}

	if err := p.checkpoints.UpdateCheckpoint(ctx, name, lastPosition); err != nil {
		return len(events), handled, fmt.Errorf("failed to update checkpoint: %w", err)
	}

	if p.config.Logger != nil {
		p.config.Logger.Debug(ctx, "batch processed",
			"projection", proj.Name(),
			"processed", handled,
			"skipped", skipped,
			"checkpoint", lastPosition)
	}
	return len(events), handled, nil
}
