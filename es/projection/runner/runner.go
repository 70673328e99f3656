// Package runner runs several projections concurrently and scales one
// projection across partitions. It is explicit and CLI-friendly: nothing is
// scheduled automatically.
package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/getpup/pupcart/es"
	"github.com/getpup/pupcart/es/projection"
	"github.com/getpup/pupcart/es/store"
)

var (
	// ErrNoProjections indicates that no projections were provided to run.
	ErrNoProjections = errors.New("no projections provided")

	// ErrInvalidPartitionConfig indicates invalid partition configuration.
	ErrInvalidPartitionConfig = errors.New("invalid partition configuration")
)

// ProjectionRunner pairs a projection with its processor.
type ProjectionRunner struct {
	Projection projection.Projection
	Processor  projection.ProcessorRunner
}

// Runner orchestrates multiple projections concurrently.
//
// Example:
//
//	carts := projection.NewProcessor(store, store, projection.DefaultProcessorConfig())
//	err := runner.New().Run(ctx, []runner.ProjectionRunner{
//	    {Projection: cartProjector, Processor: carts},
//	})
type Runner struct {
	logger es.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets a logger for the runner.
func WithLogger(logger es.Logger) Option {
	return func(r *Runner) {
		r.logger = logger
	}
}

// New creates a new projection runner.
func New(opts ...Option) *Runner {
	r := &Runner{}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run runs multiple projections concurrently until the context is canceled.
// Each projection runs in its own goroutine with its processor.
//
// If a projection returns an error, all other projections are canceled and the error
// is returned.
func (r *Runner) Run(ctx context.Context, runners []ProjectionRunner) error {
	if len(runners) == 0 {
		return ErrNoProjections
	}

	for i, runner := range runners {
		if runner.Projection == nil {
			return fmt.Errorf("projection at index %d is nil", i)
		}
		if runner.Processor == nil {
			return fmt.Errorf("processor at index %d is nil", i)
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errChan := make(chan error, len(runners))

	for _, runner := range runners {
		wg.Add(1)
		go func(pr ProjectionRunner) {
			defer wg.Done()

			err := pr.Processor.Run(ctx, pr.Projection)

			// Only report errors that aren't from context cancellation
			if err != nil && !errors.Is(err, context.Canceled) {
				if r.logger != nil {
					r.logger.Error(ctx, "projection failed", "projection", pr.Projection.Name(), "error", err)
				}
				errChan <- fmt.Errorf("projection %q failed: %w", pr.Projection.Name(), err)
			}
		}(runner)
	}

	go func() {
		wg.Wait()
		close(errChan)
	}()

	select {
	case err := <-errChan:
		if err != nil {
			cancel()
			return err
		}
		return ctx.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Partitioned returns one runner per partition of proj. Each partition keeps its
// own checkpoint, so the set can be restarted with the same total safely.
func Partitioned(reader store.EventReader, checkpoints store.CheckpointStore, proj projection.Projection, base projection.ProcessorConfig, totalPartitions int) ([]ProjectionRunner, error) {
	if totalPartitions < 1 {
		return nil, fmt.Errorf("%w: total partitions must be at least 1, got %d", ErrInvalidPartitionConfig, totalPartitions)
	}
	if proj == nil {
		return nil, errors.New("projection is nil")
	}

	runners := make([]ProjectionRunner, totalPartitions)
	for key := 0; key < totalPartitions; key++ {
		config := base
		config.PartitionKey = key
		config.TotalPartitions = totalPartitions
		runners[key] = ProjectionRunner{
			Projection: proj,
			Processor:  projection.NewProcessor(reader, checkpoints, config),
		}
	}
	return runners, nil
}

// ValidatePartition checks a single worker's partition settings.
func ValidatePartition(partitionKey, totalPartitions int) error {
	if totalPartitions < 1 {
		return fmt.Errorf("%w: total partitions must be at least 1, got %d", ErrInvalidPartitionConfig, totalPartitions)
	}
	if partitionKey < 0 || partitionKey >= totalPartitions {
		return fmt.Errorf("%w: partition key %d out of range [0, %d)", ErrInvalidPartitionConfig, partitionKey, totalPartitions)
	}
	return nil
}
