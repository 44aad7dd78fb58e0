// Package migrations embeds the SQL migrations for the state history store.
//
// Importing it (for side effects) registers the files with the database
// package.
package migrations

import (
	"embed"

	"github.com/nerrad567/stsync/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

// FS returns the embedded migration files.
func FS() embed.FS {
	return migrationsFS
}

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "."
}
