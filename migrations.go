package messagehub

import "embed"

// MigrationFiles contains all SQL migration files embedded in the binary.
// The files use goose annotations and portable SQL accepted by MySQL,
// PostgreSQL and SQLite. Users can apply them with their preferred migration
// tool (goose, atlas, etc.) or with relica.Migrate.
//
// Example with goose:
//
//	import (
//	    "github.com/pressly/goose/v3"
//	    messagehub "github.com/coregx/messagehub"
//	)
//
//	goose.SetBaseFS(messagehub.MigrationFiles)
//	if err := goose.Up(db, "migrations"); err != nil {
//	    log.Fatal(err)
//	}
//
//go:embed migrations/*.sql
var MigrationFiles embed.FS
