package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Схема версионируется парами файлов NNNN_name.up.sql / NNNN_name.down.sql
// в sql/migrations. Применённые версии учитываются в schema_migrations;
// advisory-лок защищает от гонки, когда несколько экземпляров wms-service
// стартуют одновременно с включённым auto-migrate.
const (
	scriptsGlob      = "sql/migrations/*.sql"
	migrationLockKey = int64(52830917)

	migrationTableDDL = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version BIGINT PRIMARY KEY,
    name TEXT NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`
)

//go:embed sql/migrations/*.sql
var embeddedScripts embed.FS

var scriptNameRe = regexp.MustCompile(`^(\d+)_([a-zA-Z0-9_]+)\.(up|down)\.sql$`)

// migrationScript — пара up/down выражений одной версии схемы.
type migrationScript struct {
	version int64
	name    string
	up      string
	down    string
}

func (m migrationScript) label() string {
	return fmt.Sprintf("%d_%s", m.version, m.name)
}

// MigrateUp применяет отсутствующие up-миграции.
// steps=0 означает "все по порядку".
func (s *Store) MigrateUp(ctx context.Context, steps int) error {
	return s.withMigrationLock(ctx, func(conn *sql.Conn, scripts []migrationScript) error {
		return runUp(ctx, conn, scripts, steps)
	})
}

// MigrateDown откатывает последние применённые миграции.
// steps<=0 трактуется как один шаг: массовый откат должен быть осознанным.
func (s *Store) MigrateDown(ctx context.Context, steps int) error {
	if steps <= 0 {
		steps = 1
	}
	return s.withMigrationLock(ctx, func(conn *sql.Conn, scripts []migrationScript) error {
		return runDown(ctx, conn, scripts, steps)
	})
}

// MigrationStatus возвращает максимальную применённую версию и число
// применённых миграций.
func (s *Store) MigrationStatus(ctx context.Context) (int64, int, error) {
	if s == nil || s.db == nil {
		return 0, 0, fmt.Errorf("postgres store is not initialized")
	}

	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := s.db.ExecContext(queryCtx, migrationTableDDL); err != nil {
		return 0, 0, fmt.Errorf("ensure migration table: %w", err)
	}

	var (
		version int64
		count   int
	)
	err := s.db.QueryRowContext(queryCtx, `
		SELECT COALESCE(MAX(version), 0), COUNT(*)
		FROM schema_migrations
	`).Scan(&version, &count)
	if err != nil {
		return 0, 0, fmt.Errorf("query migration status: %w", err)
	}

	return version, count, nil
}

// withMigrationLock читает набор скриптов, берёт advisory-лок и передаёт
// управление fn на выделенном соединении (лок принадлежит соединению).
func (s *Store) withMigrationLock(ctx context.Context, fn func(*sql.Conn, []migrationScript) error) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("postgres store is not initialized")
	}

	scripts, err := readMigrationScripts(embeddedScripts)
	if err != nil {
		return err
	}

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire db connection: %w", err)
	}
	defer conn.Close()

	lockCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := conn.ExecContext(lockCtx, "SELECT pg_advisory_lock($1)", migrationLockKey); err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	defer func() {
		_, _ = conn.ExecContext(context.Background(), "SELECT pg_advisory_unlock($1)", migrationLockKey)
	}()

	if _, err := conn.ExecContext(ctx, migrationTableDDL); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}

	return fn(conn, scripts)
}

func runUp(ctx context.Context, conn *sql.Conn, scripts []migrationScript, steps int) error {
	applied, err := appliedVersions(ctx, conn)
	if err != nil {
		return err
	}

	done := 0
	for _, script := range scripts {
		if applied[script.version] {
			continue
		}

		err := inTx(ctx, conn, "up "+script.label(), func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, script.up); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx, `
				INSERT INTO schema_migrations (version, name, applied_at)
				VALUES ($1, $2, NOW())
			`, script.version, script.name)
			return err
		})
		if err != nil {
			return err
		}

		done++
		if steps > 0 && done >= steps {
			break
		}
	}

	return nil
}

func runDown(ctx context.Context, conn *sql.Conn, scripts []migrationScript, steps int) error {
	byVersion := make(map[int64]migrationScript, len(scripts))
	for _, script := range scripts {
		byVersion[script.version] = script
	}

	versions, err := latestAppliedVersions(ctx, conn, steps)
	if err != nil {
		return err
	}

	for _, version := range versions {
		script, ok := byVersion[version]
		if !ok {
			return fmt.Errorf("cannot rollback unknown migration version %d", version)
		}

		err := inTx(ctx, conn, "down "+script.label(), func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, script.down); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx, `DELETE FROM schema_migrations WHERE version = $1`, script.version)
			return err
		})
		if err != nil {
			return err
		}
	}

	return nil
}

// inTx выполняет fn в транзакции на соединении, держащем advisory-лок.
func inTx(ctx context.Context, conn *sql.Conn, label string, fn func(*sql.Tx) error) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration tx (%s): %w", label, err)
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("apply migration %s: %w", label, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %s: %w", label, err)
	}
	return nil
}

func appliedVersions(ctx context.Context, conn *sql.Conn) (map[int64]bool, error) {
	rows, err := conn.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("query applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int64]bool)
	for rows.Next() {
		var version int64
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("scan applied migration version: %w", err)
		}
		applied[version] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate applied migrations: %w", err)
	}

	return applied, nil
}

func latestAppliedVersions(ctx context.Context, conn *sql.Conn, limit int) ([]int64, error) {
	rows, err := conn.QueryContext(ctx, `
		SELECT version
		FROM schema_migrations
		ORDER BY version DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query latest migrations: %w", err)
	}
	defer rows.Close()

	versions := make([]int64, 0, limit)
	for rows.Next() {
		var version int64
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("scan latest migration version: %w", err)
		}
		versions = append(versions, version)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate latest migrations: %w", err)
	}

	return versions, nil
}

// readMigrationScripts собирает пары up/down из файловой системы.
// Каждая версия обязана иметь оба направления: откат без down-скрипта
// превратился бы в тихий no-op.
func readMigrationScripts(fsys fs.FS) ([]migrationScript, error) {
	files, err := fs.Glob(fsys, scriptsGlob)
	if err != nil {
		return nil, fmt.Errorf("list migration scripts: %w", err)
	}
	if len(files) == 0 {
		return nil, errors.New("no migration scripts found")
	}

	byVersion := make(map[int64]*migrationScript)
	for _, file := range files {
		base := filepath.Base(file)
		parts := scriptNameRe.FindStringSubmatch(base)
		if parts == nil {
			return nil, fmt.Errorf("invalid migration script name: %s", base)
		}

		version, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse version from %s: %w", base, err)
		}

		raw, err := fs.ReadFile(fsys, file)
		if err != nil {
			return nil, fmt.Errorf("read migration script %s: %w", file, err)
		}
		body := strings.TrimSpace(string(raw))
		if body == "" {
			return nil, fmt.Errorf("migration script is empty: %s", base)
		}

		script, ok := byVersion[version]
		if !ok {
			script = &migrationScript{version: version, name: parts[2]}
			byVersion[version] = script
		} else if script.name != parts[2] {
			return nil, fmt.Errorf("version %d has two names: %s and %s", version, script.name, parts[2])
		}

		if parts[3] == "up" {
			if script.up != "" {
				return nil, fmt.Errorf("duplicate up script for version %d", version)
			}
			script.up = body
		} else {
			if script.down != "" {
				return nil, fmt.Errorf("duplicate down script for version %d", version)
			}
			script.down = body
		}
	}

	scripts := make([]migrationScript, 0, len(byVersion))
	for _, script := range byVersion {
		if script.up == "" || script.down == "" {
			return nil, fmt.Errorf("migration %s must have both up and down scripts", script.label())
		}
		scripts = append(scripts, *script)
	}
	sort.Slice(scripts, func(i, j int) bool { return scripts[i].version < scripts[j].version })

	return scripts, nil
}
