package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"specsync/internal/spec"
	logx "specsync/pkg/logx"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var (
	_ Store  = (*sqliteStore)(nil)
	_ Outbox = (*sqliteStore)(nil)
)

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(ctx context.Context, cfg Config, log logx.Logger) (*sqliteStore, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer; one connection also serializes the
	// outbox drain with trigger writes.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	if cfg.BusyTimeout > 0 {
		_, _ = db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.ExecContext(ctx, "PRAGMA journal_mode = WAL")
	_, _ = db.ExecContext(ctx, "PRAGMA synchronous = NORMAL")

	if err := st.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations/sqlite.sql")
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, string(b)); err != nil {
		return fmt.Errorf("sqlite migrate: %w", err)
	}
	return nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB exposes the handle for seeding and admin tooling.
func (s *sqliteStore) DB() *sql.DB { return s.db }

const sqliteSpecColumns = `id, mnemonic, cron_expression, execute_flag, gen_flag`

func scanSQLiteSpec(sc interface{ Scan(...any) error }) (int, *spec.ImplSpec, error) {
	var (
		id       int
		mnemonic string
		cron     sql.NullString
		execute  bool
		gen      bool
	)
	if err := sc.Scan(&id, &mnemonic, &cron, &execute, &gen); err != nil {
		return 0, nil, err
	}
	var cp *string
	if cron.Valid {
		cp = &cron.String
	}
	sp, err := specFromRow(id, mnemonic, cp, execute, gen)
	return id, sp, err
}

func (s *sqliteStore) AllSpecs(ctx context.Context) ([]*spec.ImplSpec, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+sqliteSpecColumns+` FROM job_spec ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*spec.ImplSpec
	for rows.Next() {
		id, sp, err := scanSQLiteSpec(rows)
		if err != nil {
			if errors.Is(err, spec.ErrInvalidSpec) {
				s.log.Warn("skipping invalid spec row", logx.Int("id", id), logx.Err(err))
				continue
			}
			return nil, err
		}
		out = append(out, sp)
	}
	return out, rows.Err()
}

func (s *sqliteStore) Spec(ctx context.Context, id int) (*spec.ImplSpec, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteSpecColumns+` FROM job_spec WHERE id = ?`, id)
	_, sp, err := scanSQLiteSpec(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", spec.ErrSpecNotFound, id)
	}
	return sp, err
}

func (s *sqliteStore) JobNameFor(ctx context.Context, id int) (string, error) {
	if s == nil || s.db == nil {
		return "", ErrDisabled
	}
	var name string
	err := s.db.QueryRowContext(ctx, `
		SELECT mnemonic FROM job_spec WHERE id = ?
		UNION ALL
		SELECT mnemonic FROM job_spec_tombstone WHERE id = ?
		LIMIT 1`, id, id).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %d", spec.ErrSpecNotFound, id)
	}
	return name, err
}

func (s *sqliteStore) SaveResult(ctx context.Context, v *spec.ImplValue) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	src, err := encodeSources(v)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO impl_value(id, value_ts, calculate_ts, value, sources) VALUES(?,?,?,?,?)
		ON CONFLICT(id, value_ts) DO UPDATE SET
		  calculate_ts = excluded.calculate_ts, value = excluded.value, sources = excluded.sources`,
		v.ID, v.ValueTsMillis, v.CalculateTsMillis, v.Value.String(), nullBytes(src),
	)
	return err
}

func (s *sqliteStore) LatestResult(ctx context.Context, id int) (*spec.ImplValue, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	var (
		valueTs, calcTs int64
		value           string
		sources         sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT value_ts, calculate_ts, value, sources FROM impl_value
		WHERE id = ? ORDER BY value_ts DESC LIMIT 1`, id).Scan(&valueTs, &calcTs, &value, &sources)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrResultNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return resultFromRow(id, valueTs, calcTs, value, []byte(sources.String))
}

func (s *sqliteStore) DrainChanges(ctx context.Context, limit int) ([]string, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	q := `SELECT seq, payload FROM spec_change_log ORDER BY seq`
	args := []any{}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := tx.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	var (
		out     []string
		lastSeq int64
	)
	for rows.Next() {
		var payload string
		if err := rows.Scan(&lastSeq, &payload); err != nil {
			_ = rows.Close()
			return nil, err
		}
		out = append(out, payload)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM spec_change_log WHERE seq <= ?`, lastSeq); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return out, nil
}

func nullBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
