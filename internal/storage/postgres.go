package storage

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"specsync/internal/spec"
	logx "specsync/pkg/logx"
)

var _ Store = (*pgStore)(nil)

var channelRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

type pgStore struct {
	pool *pgxpool.Pool
	log  logx.Logger
}

// ValidChannel reports whether name is usable as a LISTEN/NOTIFY channel
// without quoting.
func ValidChannel(name string) bool { return channelRe.MatchString(name) }

func openPostgres(ctx context.Context, cfg Config, log logx.Logger) (*pgStore, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, errors.New("postgres dsn is required")
	}
	channel := cfg.Channel
	if channel == "" {
		channel = DefaultChannel
	}
	if !ValidChannel(channel) {
		return nil, fmt.Errorf("postgres: invalid channel name %q", channel)
	}

	pcfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = int32(cfg.MaxConns)
	}
	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	st := &pgStore{pool: pool, log: log}
	if err := st.migrate(ctx, channel); err != nil {
		pool.Close()
		return nil, err
	}
	return st, nil
}

func (s *pgStore) migrate(ctx context.Context, channel string) error {
	b, err := migrationsFS.ReadFile("migrations/postgres.sql")
	if err != nil {
		return err
	}
	ddl := strings.ReplaceAll(string(b), "{{CHANNEL}}", channel)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}
	return nil
}

func (s *pgStore) Close() error {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// Pool exposes the pool for seeding and admin tooling.
func (s *pgStore) Pool() *pgxpool.Pool { return s.pool }

const pgSpecColumns = `id, mnemonic, cron_expression, execute_flag, gen_flag`

func scanPGSpec(row pgx.Row) (int, *spec.ImplSpec, error) {
	var (
		id       int
		mnemonic string
		cron     *string
		execute  bool
		gen      bool
	)
	if err := row.Scan(&id, &mnemonic, &cron, &execute, &gen); err != nil {
		return 0, nil, err
	}
	sp, err := specFromRow(id, mnemonic, cron, execute, gen)
	return id, sp, err
}

func (s *pgStore) AllSpecs(ctx context.Context) ([]*spec.ImplSpec, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+pgSpecColumns+` FROM job_spec ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*spec.ImplSpec
	for rows.Next() {
		id, sp, err := scanPGSpec(rows)
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

func (s *pgStore) Spec(ctx context.Context, id int) (*spec.ImplSpec, error) {
	_, sp, err := scanPGSpec(s.pool.QueryRow(ctx, `SELECT `+pgSpecColumns+` FROM job_spec WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", spec.ErrSpecNotFound, id)
	}
	return sp, err
}

func (s *pgStore) JobNameFor(ctx context.Context, id int) (string, error) {
	var name string
	err := s.pool.QueryRow(ctx, `
		SELECT mnemonic FROM job_spec WHERE id = $1
		UNION ALL
		SELECT mnemonic FROM job_spec_tombstone WHERE id = $1
		LIMIT 1`, id).Scan(&name)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("%w: %d", spec.ErrSpecNotFound, id)
	}
	return name, err
}

func (s *pgStore) SaveResult(ctx context.Context, v *spec.ImplValue) error {
	src, err := encodeSources(v)
	if err != nil {
		return err
	}
	var srcArg any
	if len(src) > 0 {
		srcArg = string(src)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO impl_value(id, value_ts, calculate_ts, value, sources)
		VALUES($1, $2, $3, $4::numeric, $5::jsonb)
		ON CONFLICT (id, value_ts) DO UPDATE SET
		  calculate_ts = EXCLUDED.calculate_ts, value = EXCLUDED.value, sources = EXCLUDED.sources`,
		v.ID, v.ValueTsMillis, v.CalculateTsMillis, v.Value.String(), srcArg,
	)
	return err
}

func (s *pgStore) LatestResult(ctx context.Context, id int) (*spec.ImplValue, error) {
	var (
		valueTs, calcTs int64
		value           string
		sources         *string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT value_ts, calculate_ts, value::text, sources::text FROM impl_value
		WHERE id = $1 ORDER BY value_ts DESC LIMIT 1`, id).Scan(&valueTs, &calcTs, &value, &sources)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrResultNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	var raw []byte
	if sources != nil {
		raw = []byte(*sources)
	}
	return resultFromRow(id, valueTs, calcTs, value, raw)
}
