package storage

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"

	"github.com/md-rashed-zaman/salonbook/libs/db"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migrate applies the embedded schema files in name order. Every statement is
// idempotent so reruns are safe.
func Migrate(ctx context.Context, pool *db.Pool) error {
	names, err := fs.Glob(migrationFiles, "migrations/*.sql")
	if err != nil {
		return err
	}
	sort.Strings(names)
	for _, name := range names {
		sql, err := migrationFiles.ReadFile(name)
		if err != nil {
			return err
		}
		if _, err := pool.Exec(ctx, string(sql)); err != nil {
			return fmt.Errorf("apply %s: %w", name, err)
		}
	}
	return nil
}
