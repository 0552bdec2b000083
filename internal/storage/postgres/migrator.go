package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	migrationsDir = "sql/migrations"
	// migrationLockKey сериализует миграции нескольких реплик сервиса.
	migrationLockKey = int64(20240917)

	schemaMigrationsDDL = `
CREATE TABLE IF NOT EXISTS orders_schema_migrations (
    version BIGINT PRIMARY KEY,
    name TEXT NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`
)

//go:embed sql/migrations/*.sql
var embeddedMigrations embed.FS

// Direction: направление миграции.
type Direction string

const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
)

// ParseDirection разбирает направление из флага CLI.
func ParseDirection(raw string) (Direction, error) {
	switch d := Direction(strings.ToLower(strings.TrimSpace(raw))); d {
	case DirectionUp, DirectionDown:
		return d, nil
	default:
		return "", fmt.Errorf("unsupported migration direction %q", raw)
	}
}

// Migration: пара up/down скриптов одной версии схемы.
type Migration struct {
	Version int64
	Name    string
	up      string
	down    string
}

// MigrationState: состояние известной миграции в базе.
type MigrationState struct {
	Version   int64
	Name      string
	Applied   bool
	AppliedAt time.Time
}

// MigrationReport перечисляет версии, применённые или откатанные за вызов.
type MigrationReport struct {
	Direction Direction
	Versions  []int64
}

// MigrateUp применяет до steps новых миграций; steps<=0 применяет все.
func (s *Store) MigrateUp(ctx context.Context, steps int) (MigrationReport, error) {
	return s.Migrate(ctx, DirectionUp, steps)
}

// MigrateDown откатывает steps последних миграций; steps<=0 откатывает одну.
func (s *Store) MigrateDown(ctx context.Context, steps int) (MigrationReport, error) {
	if steps <= 0 {
		steps = 1
	}
	return s.Migrate(ctx, DirectionDown, steps)
}

// Migrate выполняет миграции под advisory lock.
// Каждая миграция применяется в отдельной транзакции вместе с записью о версии.
func (s *Store) Migrate(ctx context.Context, direction Direction, steps int) (MigrationReport, error) {
	report := MigrationReport{Direction: direction}
	if s == nil || s.db == nil {
		return report, errStoreNotInitialized
	}
	if direction != DirectionUp && direction != DirectionDown {
		return report, fmt.Errorf("unsupported migration direction %q", direction)
	}

	migrations, err := loadMigrations(embeddedMigrations)
	if err != nil {
		return report, err
	}

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return report, fmt.Errorf("acquire db connection: %w", err)
	}
	defer conn.Close()

	unlock, err := acquireMigrationLock(ctx, conn)
	if err != nil {
		return report, err
	}
	defer unlock()

	if _, err := conn.ExecContext(ctx, schemaMigrationsDDL); err != nil {
		return report, fmt.Errorf("ensure migration table: %w", err)
	}

	applied, err := appliedMigrations(ctx, conn)
	if err != nil {
		return report, err
	}

	plan, err := planMigrations(migrations, applied, direction, steps)
	if err != nil {
		return report, err
	}

	for _, m := range plan {
		if err := runMigration(ctx, conn, m, direction); err != nil {
			return report, err
		}
		report.Versions = append(report.Versions, m.Version)
		s.logger.WithFields(log.Fields{
			"direction": string(direction),
			"version":   m.Version,
			"name":      m.Name,
		}).Info("migration applied")
	}
	return report, nil
}

// MigrationStatus возвращает все известные миграции с отметкой о применении.
func (s *Store) MigrationStatus(ctx context.Context) ([]MigrationState, error) {
	if s == nil || s.db == nil {
		return nil, errStoreNotInitialized
	}

	migrations, err := loadMigrations(embeddedMigrations)
	if err != nil {
		return nil, err
	}

	queryCtx, cancel := context.WithTimeout(ctx, defaultConnTimeout)
	defer cancel()

	conn, err := s.db.Conn(queryCtx)
	if err != nil {
		return nil, fmt.Errorf("acquire db connection: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(queryCtx, schemaMigrationsDDL); err != nil {
		return nil, fmt.Errorf("ensure migration table: %w", err)
	}
	applied, err := appliedMigrations(queryCtx, conn)
	if err != nil {
		return nil, err
	}

	states := make([]MigrationState, 0, len(migrations))
	for _, m := range migrations {
		at, ok := applied[m.Version]
		states = append(states, MigrationState{
			Version:   m.Version,
			Name:      m.Name,
			Applied:   ok,
			AppliedAt: at,
		})
	}
	return states, nil
}

// planMigrations выбирает миграции для выполнения в нужном порядке.
func planMigrations(migrations []Migration, applied map[int64]time.Time, direction Direction, steps int) ([]Migration, error) {
	var plan []Migration

	switch direction {
	case DirectionUp:
		for _, m := range migrations {
			if _, ok := applied[m.Version]; !ok {
				plan = append(plan, m)
			}
		}
	case DirectionDown:
		known := make(map[int64]Migration, len(migrations))
		for _, m := range migrations {
			known[m.Version] = m
		}
		versions := make([]int64, 0, len(applied))
		for v := range applied {
			versions = append(versions, v)
		}
		sort.Slice(versions, func(i, j int) bool { return versions[i] > versions[j] })
		for _, v := range versions {
			m, ok := known[v]
			if !ok {
				return nil, fmt.Errorf("cannot roll back unknown migration version %d", v)
			}
			plan = append(plan, m)
		}
	}

	if steps > 0 && len(plan) > steps {
		plan = plan[:steps]
	}
	return plan, nil
}

func acquireMigrationLock(ctx context.Context, conn *sql.Conn) (func(), error) {
	lockCtx, cancel := context.WithTimeout(ctx, defaultConnTimeout)
	defer cancel()

	if _, err := conn.ExecContext(lockCtx, "SELECT pg_advisory_lock($1)", migrationLockKey); err != nil {
		return nil, fmt.Errorf("acquire migration lock: %w", err)
	}
	return func() {
		_, _ = conn.ExecContext(context.WithoutCancel(ctx), "SELECT pg_advisory_unlock($1)", migrationLockKey)
	}, nil
}

func runMigration(ctx context.Context, conn *sql.Conn, m Migration, direction Direction) (err error) {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration %d_%s: %w", m.Version, m.Name, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	script, record, args := m.up, `INSERT INTO orders_schema_migrations (version, name) VALUES ($1, $2)`, []any{m.Version, m.Name}
	if direction == DirectionDown {
		script, record, args = m.down, `DELETE FROM orders_schema_migrations WHERE version = $1`, []any{m.Version}
	}

	if _, err = tx.ExecContext(ctx, script); err != nil {
		return fmt.Errorf("execute %s migration %d_%s: %w", direction, m.Version, m.Name, err)
	}
	if _, err = tx.ExecContext(ctx, record, args...); err != nil {
		return fmt.Errorf("record %s migration %d_%s: %w", direction, m.Version, m.Name, err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit %s migration %d_%s: %w", direction, m.Version, m.Name, err)
	}
	return nil
}

func appliedMigrations(ctx context.Context, conn *sql.Conn) (map[int64]time.Time, error) {
	rows, err := conn.QueryContext(ctx, `SELECT version, applied_at FROM orders_schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("query applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int64]time.Time)
	for rows.Next() {
		var (
			version int64
			at      time.Time
		)
		if err := rows.Scan(&version, &at); err != nil {
			return nil, fmt.Errorf("scan applied migration: %w", err)
		}
		applied[version] = at.UTC()
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate applied migrations: %w", err)
	}
	return applied, nil
}

// loadMigrations читает файлы вида 0001_name.up.sql / 0001_name.down.sql.
func loadMigrations(fsys fs.FS) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, migrationsDir)
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}

	byVersion := make(map[int64]*Migration)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		file := entry.Name()
		version, name, direction, err := parseMigrationName(file)
		if err != nil {
			return nil, err
		}

		raw, err := fs.ReadFile(fsys, path.Join(migrationsDir, file))
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", file, err)
		}
		body := strings.TrimSpace(string(raw))
		if body == "" {
			return nil, fmt.Errorf("migration %s is empty", file)
		}

		m, ok := byVersion[version]
		if !ok {
			m = &Migration{Version: version, Name: name}
			byVersion[version] = m
		}
		if m.Name != name {
			return nil, fmt.Errorf("migration %d has conflicting names %q and %q", version, m.Name, name)
		}

		target := &m.up
		if direction == DirectionDown {
			target = &m.down
		}
		if *target != "" {
			return nil, fmt.Errorf("duplicate %s migration for version %d", direction, version)
		}
		*target = body
	}
	if len(byVersion) == 0 {
		return nil, errors.New("no migration files found")
	}

	migrations := make([]Migration, 0, len(byVersion))
	for _, m := range byVersion {
		if m.up == "" || m.down == "" {
			return nil, fmt.Errorf("migration %d_%s must have both up and down files", m.Version, m.Name)
		}
		migrations = append(migrations, *m)
	}
	sort.Slice(migrations, func(i, j int) bool { return migrations[i].Version < migrations[j].Version })
	return migrations, nil
}

func parseMigrationName(file string) (int64, string, Direction, error) {
	stem, ok := strings.CutSuffix(file, ".sql")
	if !ok {
		return 0, "", "", fmt.Errorf("invalid migration file name: %s", file)
	}
	dot := strings.LastIndexByte(stem, '.')
	if dot < 0 {
		return 0, "", "", fmt.Errorf("invalid migration file name: %s", file)
	}
	direction, err := ParseDirection(stem[dot+1:])
	if err != nil {
		return 0, "", "", fmt.Errorf("invalid migration file name: %s", file)
	}

	rawVersion, name, ok := strings.Cut(stem[:dot], "_")
	if !ok || name == "" {
		return 0, "", "", fmt.Errorf("invalid migration file name: %s", file)
	}
	version, err := strconv.ParseInt(rawVersion, 10, 64)
	if err != nil || version <= 0 {
		return 0, "", "", fmt.Errorf("invalid migration version in %s", file)
	}
	return version, name, direction, nil
}
