package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/bakaf/pixel/internal/db"
	"github.com/bakaf/pixel/internal/logging"
)

const (
	migrationMaxRetries  = 3
	migrationBaseBackoff = 100 * time.Millisecond
	migrationMaxBackoff  = 3 * time.Second
)

var retryablePgErrorCodes = map[string]struct{}{
	"40001": {}, // serialization_failure
	"40P01": {}, // deadlock_detected
	"55P03": {}, // lock_not_available
}

func newMigrateCommand(r *runner) *cobra.Command {
	run := func(command string) func(cmd *cobra.Command, args []string) error {
		return func(cmd *cobra.Command, args []string) error {
			return runMigrations(cmd.Context(), cmd.OutOrStdout(), r.cfg.DatabaseURL, r.cfg.MigrationDir, command)
		}
	}

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the self-hosted database schema",
		Args:  cobra.NoArgs,
		RunE:  run("up"),
	}
	cmd.AddCommand(
		&cobra.Command{Use: "up", Short: "Apply pending migrations", Args: cobra.NoArgs, RunE: run("up")},
		&cobra.Command{Use: "status", Short: "List applied and pending migrations", Args: cobra.NoArgs, RunE: run("status")},
	)
	return cmd
}

func listMigrations(dir string) ([]string, error) {
	if !filepath.IsAbs(dir) {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("determine working directory: %w", err)
		}
		dir = filepath.Join(wd, dir)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations directory: %w", err)
	}

	var migrations []string
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".sql" {
			continue
		}
		migrations = append(migrations, filepath.Join(dir, entry.Name()))
	}
	sort.Strings(migrations)
	return migrations, nil
}

func runMigrations(ctx context.Context, out io.Writer, databaseURL, migrationDir, command string) error {
	migrations, err := listMigrations(migrationDir)
	if err != nil {
		return err
	}

	pool, err := db.Connect(ctx, databaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
                version TEXT PRIMARY KEY,
                applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        )`); err != nil {
		return fmt.Errorf("ensure schema_migrations table: %w", err)
	}

	applied, err := appliedMigrations(ctx, conn)
	if err != nil {
		return err
	}

	switch command {
	case "status":
		for _, path := range migrations {
			name := filepath.Base(path)
			mark := " "
			if _, ok := applied[name]; ok {
				mark = "x"
			}
			fmt.Fprintf(out, "[%s] %s\n", mark, name)
		}
		return nil
	case "up":
		pending := 0
		for _, path := range migrations {
			name := filepath.Base(path)
			if _, ok := applied[name]; ok {
				continue
			}
			contents, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read migration %s: %w", name, err)
			}
			if err := applyMigrationWithRetry(ctx, conn, name, string(contents)); err != nil {
				return err
			}
			pending++
			fmt.Fprintf(out, "applied migration %s\n", name)
		}
		if pending == 0 {
			fmt.Fprintln(out, "no migrations to apply")
		}
		return nil
	default:
		return fmt.Errorf("unknown migrate command %q", command)
	}
}

func appliedMigrations(ctx context.Context, conn *pgxpool.Conn) (map[string]struct{}, error) {
	rows, err := conn.Query(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("fetch applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]struct{})
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("scan applied migration: %w", err)
		}
		applied[version] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate applied migrations: %w", err)
	}
	return applied, nil
}

func migrationBackoff(attempt int) time.Duration {
	backoff := time.Duration(math.Pow(2, float64(attempt-1))) * migrationBaseBackoff
	if backoff > migrationMaxBackoff {
		backoff = migrationMaxBackoff
	}
	return backoff
}

func applyMigrationWithRetry(ctx context.Context, conn *pgxpool.Conn, name string, contents string) error {
	logger := logging.FromContext(ctx)

	var attempt int
	for attempt = 0; attempt < migrationMaxRetries; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(migrationBackoff(attempt))
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		step, err := applyMigration(ctx, conn, name, contents)
		if err == nil {
			return nil
		}
		if shouldRetryMigration(err) && attempt < migrationMaxRetries-1 {
			logger.Warn("transient migration error", "migration", name, "step", step, "attempt", attempt+1, "error", err)
			continue
		}
		return fmt.Errorf("%s migration %s: %w", step, name, err)
	}

	return fmt.Errorf("apply migration %s: exceeded max retries (%d)", name, attempt)
}

// applyMigration runs one migration in a serializable transaction and reports the
// step that failed.
func applyMigration(ctx context.Context, conn *pgxpool.Conn, name, contents string) (string, error) {
	tx, err := conn.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return "begin", err
	}

	if _, err := tx.Exec(ctx, contents); err != nil {
		_ = tx.Rollback(ctx)
		return "apply", err
	}
	if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, name); err != nil {
		_ = tx.Rollback(ctx)
		return "record", err
	}
	if err := tx.Commit(ctx); err != nil {
		_ = tx.Rollback(ctx)
		return "commit", err
	}
	return "", nil
}

func shouldRetryMigration(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if _, ok := retryablePgErrorCodes[pgErr.Code]; ok {
			return true
		}
	}

	return errors.Is(err, pgx.ErrTxClosed)
}
