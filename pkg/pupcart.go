// Package pupcart is the entry point documentation for the pupcart module.
//
// The event sourcing core lives under es:
//
//	es                   - Events, expected versions, stream ids
//	es/store             - Event store contract and errors
//	es/adapters/...      - memory, sqlite, postgres, mysql and redisstream stores
//	es/aggregate         - Aggregate root base and tri-state fields
//	es/codec             - Event type registry
//	es/repository        - Load and save aggregates
//	es/bus               - Publish committed events
//	es/projection        - Catch-up projection processing
//	es/migrations        - Schema generation
//
// Quick Start:
//
//  1. Generate migrations:
//     go run github.com/getpup/pupcart/cmd/migrate-gen -adapter sqlite -output migrations
//
//  2. Build a repository and save an aggregate:
//     reg := codec.NewRegistry()
//     product.Register(reg)
//     repo := repository.New(sqlite.NewStore(db, sqlite.DefaultStoreConfig()), reg, newProduct)
//     err := repo.Save(ctx, p)
//
//  3. Project events into a read model:
//     processor := projection.NewProcessor(store, store, projection.DefaultProcessorConfig())
//     processor.RunOnce(ctx, readmodel.NewProjector(views, reg))
//
// cmd/shopctl wires all of this behind a command line.
package pupcart

// Version returns the current version of the module.
func Version() string {
	return "0.1.0-dev"
}
