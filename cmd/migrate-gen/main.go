// Command migrate-gen writes SQL migration files for the event store and
// the shop read model.
//
// Usage:
//
//	go run github.com/getpup/pupcart/cmd/migrate-gen -adapter postgres -output migrations
//	go run github.com/getpup/pupcart/cmd/migrate-gen -adapter mysql -output migrations
//	go run github.com/getpup/pupcart/cmd/migrate-gen -adapter sqlite -output migrations
//	go run github.com/getpup/pupcart/cmd/migrate-gen -adapter readmodel -filename readmodel.sql
//
// Or with go generate:
//
//	//go:generate go run github.com/getpup/pupcart/cmd/migrate-gen -output migrations
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/getpup/pupcart/es/migrations"
)

func main() {
	var (
		adapter          = flag.String("adapter", "postgres", "Target: postgres, mysql, sqlite, or readmodel (SQLite read model)")
		outputFolder     = flag.String("output", "migrations", "Output folder for migration file")
		outputFilename   = flag.String("filename", "", "Output filename (default: timestamp-based)")
		eventsTable      = flag.String("events-table", "events", "Name of events table")
		headsTable       = flag.String("heads-table", "stream_heads", "Name of stream heads table")
		checkpointsTable = flag.String("checkpoints-table", "projection_checkpoints", "Name of checkpoints table")
		productsTable    = flag.String("products-table", "products", "Name of read-model products table")
		cartsTable       = flag.String("carts-table", "carts", "Name of read-model carts table")
		cartLinesTable   = flag.String("cart-lines-table", "cart_lines", "Name of read-model cart lines table")
	)

	flag.Parse()

	config := migrations.DefaultConfig()
	config.OutputFolder = *outputFolder
	config.EventsTable = *eventsTable
	config.StreamHeadsTable = *headsTable
	config.CheckpointsTable = *checkpointsTable
	config.ProductsTable = *productsTable
	config.CartsTable = *cartsTable
	config.CartLinesTable = *cartLinesTable

	if *outputFilename != "" {
		config.OutputFilename = *outputFilename
	}

	var err error
	switch *adapter {
	case "postgres":
		err = migrations.GeneratePostgres(&config)
	case "mysql":
		err = migrations.GenerateMySQL(&config)
	case "sqlite":
		err = migrations.GenerateSQLite(&config)
	case "readmodel":
		err = migrations.GenerateReadModelSQLite(&config)
	default:
		fmt.Fprintf(os.Stderr, "Error: unsupported adapter '%s'. Supported adapters are: postgres, mysql, sqlite, readmodel\n", *adapter)
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error generating migration: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Generated %s migration: %s/%s\n", *adapter, config.OutputFolder, config.OutputFilename)
}
