package datastore

import (
	"embed"
	"io/fs"
)

// migrationsFS carries the SQL schema for both dialects; the sqlite
// alternative lives under data/sql/migrations/sqlite.
//
//go:embed data/sql/migrations/*.sql data/sql/migrations/sqlite/*.sql
var migrationsFS embed.FS

// GetMigrationsFS returns the embedded migration tree.
func GetMigrationsFS() fs.FS {
	return migrationsFS
}
