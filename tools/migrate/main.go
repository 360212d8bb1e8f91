// Command migrate applies the SQL migrations under migrations/ against
// DATABASE_URL. It is what deploys run before starting the services.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

func main() {
	var (
		path  = flag.String("path", "migrations", "directory with migration files")
		down  = flag.Bool("down", false, "roll back one migration instead of migrating up")
		steps = flag.Int("steps", 0, "apply exactly N steps (negative rolls back)")
	)
	flag.Parse()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		fmt.Fprintln(os.Stderr, "DATABASE_URL is required")
		os.Exit(1)
	}

	m, err := migrate.New("file://"+*path, pgx5URL(dbURL))
	if err != nil {
		fmt.Fprintln(os.Stderr, "migrate init:", err)
		os.Exit(1)
	}
	defer func() { _, _ = m.Close() }()

	switch {
	case *steps != 0:
		err = m.Steps(*steps)
	case *down:
		err = m.Steps(-1)
	default:
		err = m.Up()
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		fmt.Fprintln(os.Stderr, "migrate:", err)
		os.Exit(1)
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		fmt.Fprintln(os.Stderr, "version:", err)
		os.Exit(1)
	}
	fmt.Printf("schema version %d (dirty=%v)\n", version, dirty)
}

// pgx5URL rewrites a postgres:// URL to the scheme the migrate pgx/v5
// driver registers.
func pgx5URL(raw string) string {
	for _, scheme := range []string{"postgres://", "postgresql://"} {
		if strings.HasPrefix(raw, scheme) {
			return "pgx5://" + strings.TrimPrefix(raw, scheme)
		}
	}
	return raw
}
