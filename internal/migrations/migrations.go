// Package migrations applies the embedded Postgres schema of the feedback store.
package migrations

import (
	"cmp"
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

//go:embed sql/*.sql
var embeddedFS embed.FS

const (
	migrationTable = "ledgerlens_schema_migrations"
	// lockKey serializes migrators sharing one database across replicas.
	lockKey int64 = 0x6c6c6d69
)

var migrationNamePattern = regexp.MustCompile(`^([0-9]+)_([a-z0-9_]+)\.(up|down)\.sql$`)

type migration struct {
	Version int64
	Name    string
	UpSQL   string
	DownSQL string
}

// State is one known migration and whether the database has it.
type State struct {
	Version int64  `json:"version"`
	Name    string `json:"name"`
	Applied bool   `json:"applied"`
}

// session is satisfied by *sql.DB and *sql.Conn.
type session interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

type Runner struct {
	fsys fs.FS
}

func NewRunner() *Runner {
	return &Runner{fsys: embeddedFS}
}

// Up applies pending migrations in version order; steps <= 0 applies all.
func (r *Runner) Up(ctx context.Context, db *sql.DB, steps int) (int, error) {
	return r.locked(ctx, db, func(conn session, all []migration, applied map[int64]bool) (int, error) {
		plan := planUp(all, applied, steps)
		for i, item := range plan {
			if err := runScript(ctx, conn, item.Version, item.UpSQL, `INSERT INTO `+migrationTable+` (version, name) VALUES ($1, $2)`, item.Name); err != nil {
				return i, fmt.Errorf("apply migration %d_%s: %w", item.Version, item.Name, err)
			}
		}
		return len(plan), nil
	})
}

// Down rolls back the newest applied migrations; steps <= 0 means one.
func (r *Runner) Down(ctx context.Context, db *sql.DB, steps int) (int, error) {
	return r.locked(ctx, db, func(conn session, all []migration, applied map[int64]bool) (int, error) {
		plan, err := planDown(all, applied, steps)
		if err != nil {
			return 0, err
		}
		for i, item := range plan {
			if err := runScript(ctx, conn, item.Version, item.DownSQL, `DELETE FROM `+migrationTable+` WHERE version = $1`); err != nil {
				return i, fmt.Errorf("roll back migration %d_%s: %w", item.Version, item.Name, err)
			}
		}
		return len(plan), nil
	})
}

// Status lists every embedded migration with its applied flag.
func (r *Runner) Status(ctx context.Context, db *sql.DB) ([]State, error) {
	all, err := loadMigrations(r.fsys)
	if err != nil {
		return nil, err
	}
	if err := ensureMigrationTable(ctx, db); err != nil {
		return nil, err
	}
	applied, err := appliedVersions(ctx, db)
	if err != nil {
		return nil, err
	}
	states := make([]State, 0, len(all))
	for _, item := range all {
		states = append(states, State{Version: item.Version, Name: item.Name, Applied: applied[item.Version]})
	}
	return states, nil
}

// Pending returns the migrations the database still lacks.
func (r *Runner) Pending(ctx context.Context, db *sql.DB) ([]State, error) {
	states, err := r.Status(ctx, db)
	if err != nil {
		return nil, err
	}
	return slices.DeleteFunc(states, func(s State) bool { return s.Applied }), nil
}

func (r *Runner) locked(ctx context.Context, db *sql.DB, run func(session, []migration, map[int64]bool) (int, error)) (int, error) {
	all, err := loadMigrations(r.fsys)
	if err != nil {
		return 0, err
	}
	conn, err := db.Conn(ctx)
	if err != nil {
		return 0, fmt.Errorf("acquire migration connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_lock($1)`, lockKey); err != nil {
		return 0, fmt.Errorf("acquire migration lock: %w", err)
	}
	defer func() { _, _ = conn.ExecContext(context.WithoutCancel(ctx), `SELECT pg_advisory_unlock($1)`, lockKey) }()

	if err := ensureMigrationTable(ctx, conn); err != nil {
		return 0, err
	}
	applied, err := appliedVersions(ctx, conn)
	if err != nil {
		return 0, err
	}
	return run(conn, all, applied)
}

func planUp(all []migration, applied map[int64]bool, steps int) []migration {
	var plan []migration
	for _, item := range all {
		if applied[item.Version] {
			continue
		}
		if steps > 0 && len(plan) == steps {
			break
		}
		plan = append(plan, item)
	}
	return plan
}

// planDown walks applied versions newest first. A version the binary does
// not embed cannot be rolled back and stops the plan.
func planDown(all []migration, applied map[int64]bool, steps int) ([]migration, error) {
	if steps <= 0 {
		steps = 1
	}
	known := make(map[int64]migration, len(all))
	for _, item := range all {
		known[item.Version] = item
	}
	versions := make([]int64, 0, len(applied))
	for version, ok := range applied {
		if ok {
			versions = append(versions, version)
		}
	}
	slices.SortFunc(versions, func(a, b int64) int { return cmp.Compare(b, a) })

	plan := make([]migration, 0, min(steps, len(versions)))
	for _, version := range versions[:min(steps, len(versions))] {
		item, ok := known[version]
		if !ok {
			return nil, fmt.Errorf("applied migration %d is not embedded in this binary", version)
		}
		plan = append(plan, item)
	}
	return plan, nil
}

func ensureMigrationTable(ctx context.Context, s session) error {
	_, err := s.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS `+migrationTable+` (
	version BIGINT PRIMARY KEY,
	name TEXT NOT NULL DEFAULT '',
	applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`)
	if err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}
	return nil
}

// runScript executes script and the bookkeeping statement in one
// transaction. The bookkeeping statement binds the version first.
func runScript(ctx context.Context, s session, version int64, script, bookkeeping string, args ...any) error {
	tx, err := s.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, script); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, bookkeeping, append([]any{version}, args...)...); err != nil {
		return fmt.Errorf("record version: %w", err)
	}
	return tx.Commit()
}

func appliedVersions(ctx context.Context, s session) (map[int64]bool, error) {
	rows, err := s.QueryContext(ctx, `SELECT version FROM `+migrationTable)
	if err != nil {
		return nil, fmt.Errorf("query applied versions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	applied := map[int64]bool{}
	for rows.Next() {
		var version int64
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		applied[version] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read applied versions: %w", err)
	}
	return applied, nil
}

// loadMigrations pairs NNN_name.up.sql with NNN_name.down.sql. Both halves
// are required.
func loadMigrations(fsys fs.FS) ([]migration, error) {
	names, err := fs.Glob(fsys, "sql/*.sql")
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}

	byVersion := map[int64]*migration{}
	for _, name := range names {
		base := path.Base(name)
		matches := migrationNamePattern.FindStringSubmatch(base)
		if matches == nil {
			continue
		}
		version, err := strconv.ParseInt(matches[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse migration version for %q: %w", base, err)
		}
		script, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("read migration %q: %w", base, err)
		}

		item, ok := byVersion[version]
		if !ok {
			item = &migration{Version: version, Name: matches[2]}
			byVersion[version] = item
		} else if item.Name != matches[2] {
			return nil, fmt.Errorf("migration %d has conflicting names %q and %q", version, item.Name, matches[2])
		}
		if matches[3] == "up" {
			item.UpSQL = string(script)
		} else {
			item.DownSQL = string(script)
		}
	}

	out := make([]migration, 0, len(byVersion))
	for _, item := range byVersion {
		if strings.TrimSpace(item.UpSQL) == "" {
			return nil, fmt.Errorf("migration %d missing up SQL", item.Version)
		}
		if strings.TrimSpace(item.DownSQL) == "" {
			return nil, fmt.Errorf("migration %d missing down SQL", item.Version)
		}
		out = append(out, *item)
	}
	slices.SortFunc(out, func(a, b migration) int { return cmp.Compare(a.Version, b.Version) })
	return out, nil
}
