// Package relica provides repository implementations using Relica query builder.
//
// Relica (github.com/coregx/relica) is a lightweight, type-safe database query builder
// for Go with zero production dependencies. It serves all reads; writes that must be
// conditional on a version run in sqlx transactions.
//
// This package provides production-ready implementations of the message hub storage contracts:
//   - CabinetStorage (drawers, notifications, catalog)
//   - SequenceAllocator
//   - BundleRepository
//
// Example usage:
//
//	import (
//	    "database/sql"
//	    "github.com/coregx/messagehub"
//	    "github.com/coregx/messagehub/adapters/relica"
//	    _ "github.com/go-sql-driver/mysql"
//	)
//
//	// Open database connection
//	db, err := sql.Open("mysql", "user:pass@tcp(localhost:3306)/messagehub_db?parseTime=true")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Create repositories (driverName should be "mysql", "postgres", or "sqlite3")
//	repos := relica.NewRepositories(db, "mysql")
//
//	// Create services
//	assembler, err := messagehub.NewBundleAssembler(
//	    messagehub.WithAssemblerRepositories(repos.Cabinet, repos.Bundles),
//	    messagehub.WithContentRequester(client),
//	    messagehub.WithAssemblerLogger(logger),
//	)
package relica
