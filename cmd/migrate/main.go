// Command migrate applies the embedded schema migrations.
package main

import (
	"embed"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	_ "github.com/golang-migrate/migrate/v4/database/postgres"

	"github.com/JaimeStill/marker/internal/config"
	"github.com/JaimeStill/marker/pkg/database"
)

//go:embed migrations/*.sql
var migrations embed.FS

const envDSN = "MARKER_DB_DSN"

type options struct {
	dsn     string
	up      bool
	down    bool
	steps   int
	version bool
	force   int
	forced  bool
}

func main() {
	var opts options
	flag.StringVar(&opts.dsn, "dsn", "", "database URL (defaults to MARKER_DB_DSN or MARKER_DB_*)")
	flag.BoolVar(&opts.up, "up", false, "apply all pending migrations")
	flag.BoolVar(&opts.down, "down", false, "revert all migrations")
	flag.IntVar(&opts.steps, "steps", 0, "apply N migrations; negative reverts")
	flag.BoolVar(&opts.version, "version", false, "print the current version")
	flag.IntVar(&opts.force, "force", -1, "mark the schema as version N without running it")
	flag.Parse()
	flag.Visit(func(f *flag.Flag) { opts.forced = opts.forced || f.Name == "force" })

	if err := run(opts); err != nil {
		fmt.Fprintln(os.Stderr, "migrate:", err)
		os.Exit(1)
	}
}

func run(opts options) error {
	url, err := resolveDSN(opts.dsn)
	if err != nil {
		return fmt.Errorf("resolve database: %w", err)
	}

	source, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("open migration source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, url)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer m.Close()

	switch {
	case opts.version:
		v, dirty, err := m.Version()
		if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
			return err
		}
		fmt.Printf("version %d (dirty=%t)\n", v, dirty)
		return nil
	case opts.forced:
		if err := m.Force(opts.force); err != nil {
			return err
		}
		fmt.Printf("forced version %d\n", opts.force)
		return nil
	case opts.up:
		return report(m.Up(), "up")
	case opts.down:
		return report(m.Down(), "down")
	case opts.steps != 0:
		return report(m.Steps(opts.steps), fmt.Sprintf("%d steps", opts.steps))
	}

	flag.Usage()
	return nil
}

func report(err error, action string) error {
	switch {
	case errors.Is(err, migrate.ErrNoChange):
		fmt.Println("no change")
		return nil
	case err != nil:
		return fmt.Errorf("migrate %s: %w", action, err)
	}
	fmt.Println("migrated", action)
	return nil
}

// resolveDSN prefers the flag, then MARKER_DB_DSN, then a URL built from
// the MARKER_DB_* variables the server reads.
func resolveDSN(flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	if v := os.Getenv(envDSN); v != "" {
		return v, nil
	}

	cfg := database.Config{Name: "marker", User: "marker", Password: "marker"}
	if err := cfg.Finalize(config.DatabaseEnv); err != nil {
		return "", err
	}
	return cfg.URL(), nil
}
