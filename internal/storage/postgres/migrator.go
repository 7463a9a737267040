package postgres

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"embed"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	migrationsDir = "sql/migrations"
	// migrationLockKey — ключ pg_advisory_lock, общий для всех экземпляров ordersvc.
	migrationLockKey     = int64(0x6f7264657273)
	migrationLockTimeout = 5 * time.Second
	migrationTableDDL    = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version BIGINT PRIMARY KEY,
    name TEXT NOT NULL,
    checksum TEXT NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`
)

var (
	//go:embed sql/migrations/*.sql
	migrationsFS embed.FS

	// 0001_create_orders.up.sql
	migrationFilePattern = regexp.MustCompile(`^(\d{4})_([a-z0-9_]+)\.(up|down)\.sql$`)
)

var (
	// ErrMigrationDrift: применённая миграция отличается от файла в сборке.
	ErrMigrationDrift = errors.New("applied migration differs from embedded file")
	// ErrUnknownMigration: в schema_migrations есть версия, которой нет в сборке.
	ErrUnknownMigration = errors.New("unknown applied migration")
)

type migrationDirection string

const (
	migrationUp   migrationDirection = "up"
	migrationDown migrationDirection = "down"
)

type migration struct {
	Version int64
	Name    string
	UpSQL   string
	DownSQL string
	// Checksum — sha256 up-скрипта, по нему ловим правку уже применённой миграции.
	Checksum string
}

func (m migration) String() string {
	return fmt.Sprintf("%04d_%s", m.Version, m.Name)
}

type appliedMigration struct {
	Version  int64
	Name     string
	Checksum string
}

// migrationPlan упорядочен по версии, версии идут подряд с 0001.
type migrationPlan []migration

func (p migrationPlan) find(version int64) (migration, bool) {
	idx := sort.Search(len(p), func(i int) bool { return p[i].Version >= version })
	if idx < len(p) && p[idx].Version == version {
		return p[idx], true
	}
	return migration{}, false
}

// verify сверяет состояние базы с планом: каждая применённая версия должна
// существовать в сборке и совпадать по имени и контрольной сумме.
func (p migrationPlan) verify(applied []appliedMigration) error {
	for _, a := range applied {
		m, ok := p.find(a.Version)
		if !ok {
			return fmt.Errorf("%w: %04d_%s", ErrUnknownMigration, a.Version, a.Name)
		}
		if m.Name != a.Name || m.Checksum != a.Checksum {
			return fmt.Errorf("%w: %s", ErrMigrationDrift, m)
		}
	}
	return nil
}

// pending возвращает неприменённые миграции по возрастанию версии.
// steps=0 означает "все".
func (p migrationPlan) pending(applied []appliedMigration, steps int) migrationPlan {
	done := make(map[int64]struct{}, len(applied))
	for _, a := range applied {
		done[a.Version] = struct{}{}
	}

	var result migrationPlan
	for _, m := range p {
		if _, ok := done[m.Version]; ok {
			continue
		}
		result = append(result, m)
		if steps > 0 && len(result) == steps {
			break
		}
	}
	return result
}

// rollback возвращает steps последних применённых миграций, начиная с новейшей.
func (p migrationPlan) rollback(applied []appliedMigration, steps int) migrationPlan {
	versions := make([]int64, 0, len(applied))
	for _, a := range applied {
		versions = append(versions, a.Version)
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i] > versions[j] })
	if steps > 0 && len(versions) > steps {
		versions = versions[:steps]
	}

	result := make(migrationPlan, 0, len(versions))
	for _, version := range versions {
		if m, ok := p.find(version); ok {
			result = append(result, m)
		}
	}
	return result
}

// MigrateUp применяет up-миграции. steps=0 означает "применить все доступные".
func (s *Store) MigrateUp(ctx context.Context, steps int) error {
	return s.migrate(ctx, migrationUp, steps)
}

// MigrateDown откатывает миграции. steps<=0 откатывает одну.
func (s *Store) MigrateDown(ctx context.Context, steps int) error {
	if steps <= 0 {
		steps = 1
	}
	return s.migrate(ctx, migrationDown, steps)
}

// MigrationStatus возвращает текущую версию схемы и количество применённых миграций.
func (s *Store) MigrationStatus(ctx context.Context) (int64, int, error) {
	if s == nil || s.db == nil {
		return 0, 0, fmt.Errorf("postgres store is not initialized")
	}

	queryCtx, cancel := context.WithTimeout(ctx, migrationLockTimeout)
	defer cancel()

	if _, err := s.db.ExecContext(queryCtx, migrationTableDDL); err != nil {
		return 0, 0, fmt.Errorf("ensure migration table: %w", err)
	}

	var (
		version int64
		count   int
	)
	if err := s.db.QueryRowContext(queryCtx, `
		SELECT COALESCE(MAX(version), 0), COUNT(*)
		FROM schema_migrations
	`).Scan(&version, &count); err != nil {
		return 0, 0, fmt.Errorf("query migration status: %w", err)
	}

	return version, count, nil
}

func (s *Store) migrate(ctx context.Context, direction migrationDirection, steps int) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("postgres store is not initialized")
	}
	if direction != migrationUp && direction != migrationDown {
		return fmt.Errorf("unsupported migration direction: %s", direction)
	}

	plan, err := loadMigrationsFromFS(migrationsFS)
	if err != nil {
		return err
	}

	return s.withMigrationLock(ctx, func(conn *sql.Conn) error {
		applied, err := loadAppliedMigrations(ctx, conn)
		if err != nil {
			return err
		}
		if err := plan.verify(applied); err != nil {
			return err
		}

		batch := plan.pending(applied, steps)
		if direction == migrationDown {
			batch = plan.rollback(applied, steps)
		}

		logger := s.migrationLogger().WithField("direction", direction)
		if len(batch) == 0 {
			logger.Debug("schema is up to date")
			return nil
		}
		for _, m := range batch {
			started := time.Now()
			if err := execMigration(ctx, conn, m, direction); err != nil {
				return err
			}
			logger.WithFields(log.Fields{
				"version":     m.Version,
				"migration":   m.Name,
				"duration_ms": time.Since(started).Milliseconds(),
			}).Info("migration applied")
		}
		return nil
	})
}

// withMigrationLock выполняет fn на выделенном соединении под advisory lock:
// два экземпляра сервиса не применяют миграции одновременно.
func (s *Store) withMigrationLock(ctx context.Context, fn func(conn *sql.Conn) error) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire db connection: %w", err)
	}
	defer conn.Close()

	lockCtx, cancel := context.WithTimeout(ctx, migrationLockTimeout)
	defer cancel()
	if _, err := conn.ExecContext(lockCtx, "SELECT pg_advisory_lock($1)", migrationLockKey); err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	defer func() {
		_, _ = conn.ExecContext(context.WithoutCancel(ctx), "SELECT pg_advisory_unlock($1)", migrationLockKey)
	}()

	if _, err := conn.ExecContext(ctx, migrationTableDDL); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}
	return fn(conn)
}

func (s *Store) migrationLogger() *log.Entry {
	if s.logger == nil {
		return log.WithField("component", "migrator")
	}
	return s.logger.WithField("component", "migrator")
}

// execMigration выполняет скрипт и запись в schema_migrations в одной транзакции.
func execMigration(ctx context.Context, conn *sql.Conn, m migration, direction migrationDirection) (err error) {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin %s migration %s: %w", direction, m, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	script, record, args := m.UpSQL,
		`INSERT INTO schema_migrations (version, name, checksum) VALUES ($1, $2, $3)`,
		[]any{m.Version, m.Name, m.Checksum}
	if direction == migrationDown {
		script, record, args = m.DownSQL, `DELETE FROM schema_migrations WHERE version = $1`, []any{m.Version}
	}

	if _, err = tx.ExecContext(ctx, script); err != nil {
		return fmt.Errorf("execute %s migration %s: %w", direction, m, err)
	}
	if _, err = tx.ExecContext(ctx, record, args...); err != nil {
		return fmt.Errorf("record %s migration %s: %w", direction, m, err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit %s migration %s: %w", direction, m, err)
	}
	return nil
}

func loadAppliedMigrations(ctx context.Context, conn *sql.Conn) ([]appliedMigration, error) {
	rows, err := conn.QueryContext(ctx, `
		SELECT version, name, checksum
		FROM schema_migrations
		ORDER BY version
	`)
	if err != nil {
		return nil, fmt.Errorf("query applied migrations: %w", err)
	}
	defer rows.Close()

	var applied []appliedMigration
	for rows.Next() {
		var a appliedMigration
		if err := rows.Scan(&a.Version, &a.Name, &a.Checksum); err != nil {
			return nil, fmt.Errorf("scan applied migration: %w", err)
		}
		applied = append(applied, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate applied migrations: %w", err)
	}
	return applied, nil
}

// loadMigrationsFromFS читает пары NNNN_name.up.sql / NNNN_name.down.sql.
func loadMigrationsFromFS(fsys fs.FS) (migrationPlan, error) {
	entries, err := fs.ReadDir(fsys, migrationsDir)
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}

	byVersion := make(map[int64]*migration)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		base := entry.Name()
		matches := migrationFilePattern.FindStringSubmatch(base)
		if matches == nil {
			return nil, fmt.Errorf("invalid migration file name: %s", base)
		}

		version, err := strconv.ParseInt(matches[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse migration version from %s: %w", base, err)
		}
		name, direction := matches[2], migrationDirection(matches[3])

		raw, err := fs.ReadFile(fsys, path.Join(migrationsDir, base))
		if err != nil {
			return nil, fmt.Errorf("read migration file %s: %w", base, err)
		}
		body := strings.TrimSpace(string(raw))
		if body == "" {
			return nil, fmt.Errorf("migration file is empty: %s", base)
		}

		m, ok := byVersion[version]
		if !ok {
			m = &migration{Version: version, Name: name}
			byVersion[version] = m
		} else if m.Name != name {
			return nil, fmt.Errorf("migration name mismatch for version %04d: %s vs %s", version, m.Name, name)
		}

		if direction == migrationUp {
			m.UpSQL = body
		} else {
			m.DownSQL = body
		}
	}
	if len(byVersion) == 0 {
		return nil, errors.New("no migration files found")
	}

	plan := make(migrationPlan, 0, len(byVersion))
	for _, m := range byVersion {
		if m.UpSQL == "" || m.DownSQL == "" {
			return nil, fmt.Errorf("migration %s must have both up and down files", m)
		}
		sum := sha256.Sum256([]byte(m.UpSQL))
		m.Checksum = hex.EncodeToString(sum[:])
		plan = append(plan, *m)
	}
	sort.Slice(plan, func(i, j int) bool { return plan[i].Version < plan[j].Version })

	for i, m := range plan {
		if want := int64(i + 1); m.Version != want {
			return nil, fmt.Errorf("migration versions must be contiguous: expected %04d, got %s", want, m)
		}
	}
	return plan, nil
}
