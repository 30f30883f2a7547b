// Package migrations embeds the SQL schema into the binary so the run
// history and audit tables can be created without files on disk.
package migrations

import (
	"embed"

	"github.com/epitome-sim/reverie-core/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "."
}
