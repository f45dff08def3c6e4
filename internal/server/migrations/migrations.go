// Package migrations embeds the catalog schema, one goose directory per
// dialect. Scripts are append-only; never edit one that has shipped.
package migrations

import (
	"embed"
	"fmt"
	"io/fs"
)

//go:embed postgres/*.sql sqlite/*.sql
var Migrations embed.FS

// ForDialect returns the script directory for "postgres" or "sqlite".
func ForDialect(dialect string) (fs.FS, error) {
	switch dialect {
	case "postgres", "sqlite":
		return fs.Sub(Migrations, dialect)
	default:
		return nil, fmt.Errorf("no migrations for dialect %q", dialect)
	}
}
