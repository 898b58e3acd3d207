package coord

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-zookeeper/zk"

	logx "specsync/pkg/logx"
)

// ErrSessionExpired is reported by Err after the ZooKeeper session expired.
var ErrSessionExpired = errors.New("zookeeper session expired")

type ZKConfig struct {
	Servers        []string
	SessionTimeout time.Duration // 0 means 10s
}

// DialZK connects to ZooKeeper and waits for a session.
func DialZK(ctx context.Context, cfg ZKConfig, opts Options) (*Coordinator, error) {
	if len(cfg.Servers) == 0 {
		return nil, unavailable("dial", "", errors.New("no servers"))
	}
	if cfg.SessionTimeout <= 0 {
		cfg.SessionTimeout = 10 * time.Second
	}
	log := opts.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("component", "zk"))

	conn, events, err := zk.Connect(cfg.Servers, cfg.SessionTimeout, zk.WithLogger(zkLogger{log: log}))
	if err != nil {
		return nil, unavailable("dial", strings.Join(cfg.Servers, ","), err)
	}
	if err := awaitSession(ctx, events); err != nil {
		conn.Close()
		return nil, unavailable("dial", strings.Join(cfg.Servers, ","), err)
	}

	t := &zkTree{
		conn:   conn,
		acl:    zk.WorldACL(zk.PermAll),
		log:    log,
		doneCh: make(chan struct{}),
	}
	go t.monitor(events)
	log.Info("session established", logx.Int64("session_id", conn.SessionID()))
	return newCoordinator(t, opts), nil
}

func awaitSession(ctx context.Context, events <-chan zk.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return errors.New("connection closed")
			}
			switch ev.State {
			case zk.StateHasSession:
				return nil
			case zk.StateAuthFailed:
				return errors.New("auth failed")
			}
		}
	}
}

type zkTree struct {
	conn *zk.Conn
	acl  []zk.ACL
	log  logx.Logger

	doneCh   chan struct{}
	doneOnce sync.Once
	lastErr  atomic.Value // error
	closing  atomic.Bool
}

// monitor turns session expiry into Done/Err. Disconnects are logged only:
// the client reconnects on its own while the session is alive.
func (t *zkTree) monitor(events <-chan zk.Event) {
	for ev := range events {
		if ev.Type != zk.EventSession {
			continue
		}
		switch ev.State {
		case zk.StateExpired:
			t.fail(ErrSessionExpired)
			return
		case zk.StateDisconnected:
			if !t.closing.Load() {
				t.log.Warn("disconnected")
			}
		case zk.StateHasSession:
			t.log.Debug("session active")
		}
	}
}

func (t *zkTree) fail(err error) {
	if t.closing.Load() {
		return
	}
	t.doneOnce.Do(func() {
		t.lastErr.Store(err)
		close(t.doneCh)
	})
}

func (t *zkTree) done() <-chan struct{} { return t.doneCh }

func (t *zkTree) err() error {
	err, _ := t.lastErr.Load().(error)
	return err
}

func (t *zkTree) close() error {
	t.closing.Store(true)
	t.conn.Close()
	return nil
}

func (t *zkTree) exists(p string) (bool, error) {
	ok, _, err := t.conn.Exists(p)
	return ok, err
}

func (t *zkTree) get(p string) ([]byte, bool, error) {
	b, _, err := t.conn.Get(p)
	if errors.Is(err, zk.ErrNoNode) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (t *zkTree) ensureParents(p string) error {
	parts := strings.Split(strings.Trim(path.Dir(p), "/"), "/")
	cur := ""
	for _, part := range parts {
		if part == "" {
			continue
		}
		cur += "/" + part
		if _, err := t.conn.Create(cur, nil, 0, t.acl); err != nil && !errors.Is(err, zk.ErrNodeExists) {
			return fmt.Errorf("create %s: %w", cur, err)
		}
	}
	return nil
}

func (t *zkTree) put(p string, data []byte) error {
	if err := t.ensureParents(p); err != nil {
		return err
	}
	_, err := t.conn.Create(p, data, 0, t.acl)
	if errors.Is(err, zk.ErrNodeExists) {
		_, err = t.conn.Set(p, data, -1)
	}
	return err
}

func (t *zkTree) putEphemeral(p string, data []byte) error {
	if err := t.ensureParents(p); err != nil {
		return err
	}
	// A node left by an earlier session of the same instance id is replaced.
	if err := t.conn.Delete(p, -1); err != nil && !errors.Is(err, zk.ErrNoNode) {
		return err
	}
	_, err := t.conn.Create(p, data, zk.FlagEphemeral, t.acl)
	return err
}

func (t *zkTree) children(p string) ([]string, error) {
	kids, _, err := t.conn.Children(p)
	if errors.Is(err, zk.ErrNoNode) {
		return nil, nil
	}
	return kids, err
}

func (t *zkTree) removeAll(p string) error {
	kids, err := t.children(p)
	if err != nil {
		return err
	}
	for _, k := range kids {
		if err := t.removeAll(path.Join(p, k)); err != nil {
			return err
		}
	}
	if err := t.conn.Delete(p, -1); err != nil && !errors.Is(err, zk.ErrNoNode) {
		return err
	}
	return nil
}

func (t *zkTree) watchDelete(p string, fn func()) (func(), error) {
	ok, _, ch, err := t.conn.ExistsW(p)
	if err != nil {
		return nil, err
	}
	if !ok {
		go fn()
		return func() {}, nil
	}
	stop := make(chan struct{})
	var once sync.Once
	go func() {
		for {
			select {
			case <-stop:
				return
			case <-t.doneCh:
				return
			case ev, open := <-ch:
				if !open {
					return
				}
				switch ev.Type {
				case zk.EventNodeDeleted:
					fn()
					return
				case zk.EventNotWatching:
					return
				}
				// Watches are one-shot; re-arm after data changes.
				exists, _, next, err := t.conn.ExistsW(p)
				if err != nil {
					t.log.Warn("re-arm watch failed", logx.String("path", p), logx.Err(err))
					return
				}
				if !exists {
					fn()
					return
				}
				ch = next
			}
		}
	}()
	return func() { once.Do(func() { close(stop) }) }, nil
}

type zkLogger struct{ log logx.Logger }

func (l zkLogger) Printf(format string, args ...any) {
	l.log.Debug(fmt.Sprintf(format, args...))
}
