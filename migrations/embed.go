// Package migrations embeds the schema migrations into the binary.
//
// Importing this package for side effects registers the files with
// the database package:
//
//	import _ "github.com/nerrad567/kvstore/migrations"
package migrations

import (
	"embed"

	"github.com/nerrad567/kvstore/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "."
}
