package changefeed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgconn/ctxwatch"

	logx "specsync/pkg/logx"
)

const defaultDrainTimeout = 50 * time.Millisecond

// PGConfig configures a postgres LISTEN feed.
type PGConfig struct {
	DSN          string
	Channel      string
	DrainTimeout time.Duration
	BatchSize    int
}

// PGFeed holds a dedicated connection subscribed with LISTEN. Poll drains
// notifications already delivered to the connection, waiting at most
// DrainTimeout for the next one. A broken connection is dropped and
// re-established on the next poll.
type PGFeed struct {
	cfg PGConfig
	log logx.Logger

	mu     sync.Mutex
	conn   *pgx.Conn
	closed bool
}

func NewPGFeed(cfg PGConfig, log logx.Logger) *PGFeed {
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = defaultDrainTimeout
	}
	return &PGFeed{cfg: cfg, log: log.With(logx.String("comp", "changefeed.pg"), logx.String("channel", cfg.Channel))}
}

// Connect establishes the LISTEN connection eagerly so startup fails fast.
func (f *PGFeed) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ensureConnLocked(ctx)
}

func (f *PGFeed) ensureConnLocked(ctx context.Context) error {
	if f.closed {
		return ErrFeedClosed
	}
	if f.conn != nil && !f.conn.IsClosed() {
		return nil
	}
	cc, err := listenConfig(f.cfg.DSN)
	if err != nil {
		return fmt.Errorf("changefeed: parse dsn: %w", err)
	}
	conn, err := pgx.ConnectConfig(ctx, cc)
	if err != nil {
		return fmt.Errorf("changefeed: connect: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{f.cfg.Channel}.Sanitize()); err != nil {
		_ = conn.Close(ctx)
		return fmt.Errorf("changefeed: listen %s: %w", f.cfg.Channel, err)
	}
	f.conn = conn
	f.log.Info("listening")
	return nil
}

// listenConfig makes a canceled wait expire the socket deadline instead of
// sending a cancel request, so a drain timeout returns at once and keeps the
// connection usable.
func listenConfig(dsn string) (*pgx.ConnConfig, error) {
	cc, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	cc.BuildContextWatcherHandler = func(pc *pgconn.PgConn) ctxwatch.Handler {
		return &pgconn.DeadlineContextWatcherHandler{Conn: pc.Conn()}
	}
	return cc, nil
}

func (f *PGFeed) dropConnLocked() {
	if f.conn == nil {
		return
	}
	cctx, cancel := context.WithTimeout(context.Background(), time.Second)
	_ = f.conn.Close(cctx)
	cancel()
	f.conn = nil
}

func (f *PGFeed) Poll(ctx context.Context) ([]Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.ensureConnLocked(ctx); err != nil {
		return nil, err
	}

	var out []Notification
	for f.cfg.BatchSize <= 0 || len(out) < f.cfg.BatchSize {
		wctx, cancel := context.WithTimeout(ctx, f.cfg.DrainTimeout)
		n, err := f.conn.WaitForNotification(wctx)
		timedOut := wctx.Err() != nil
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			if timedOut || errors.Is(err, context.DeadlineExceeded) {
				break
			}
			f.log.Warn("connection lost; will reconnect", logx.Err(err))
			f.dropConnLocked()
			return out, fmt.Errorf("changefeed: wait: %w", err)
		}
		out = append(out, Notification{Channel: n.Channel, Payload: n.Payload})
	}
	return out, nil
}

func (f *PGFeed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.dropConnLocked()
	return nil
}
