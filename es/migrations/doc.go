// Package migrations provides SQL schema generation for the relational event
// stores and the SQLite read model.
//
// To generate migrations, use the migrate-gen command:
//
//	go run github.com/getpup/pupcart/cmd/migrate-gen -adapter postgres -output migrations
//
// Or add a go generate directive to your code:
//
//	//go:generate go run github.com/getpup/pupcart/cmd/migrate-gen -output ../../migrations
//
// The Schema functions return the DDL directly, which tests and the SQLite
// tooling execute without going through a file.
package migrations
