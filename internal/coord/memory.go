package coord

import (
	"errors"
	"path"
	"slices"
	"strings"
	"sync"
)

var errSessionClosed = errors.New("session closed")

// MemoryTree is an in-process node tree. Several clients created with
// NewMemory on the same tree behave like instances sharing one
// coordination service.
type MemoryTree struct {
	mu        sync.Mutex
	nodes     map[string]*memNode
	watches   map[string]map[uint64]func()
	nextWatch uint64
}

type memNode struct {
	data  []byte
	owner string // non-empty for ephemeral nodes
}

func NewMemoryTree() *MemoryTree {
	return &MemoryTree{
		nodes:   map[string]*memNode{"/": {}},
		watches: map[string]map[uint64]func(){},
	}
}

// NewMemory returns a client with its own session on t.
func NewMemory(t *MemoryTree, opts Options) *Coordinator {
	c := newCoordinator(nil, opts)
	c.tree = &memSession{t: t, id: c.instance, doneCh: make(chan struct{})}
	return c
}

// Paths lists every node below prefix, sorted.
func (t *MemoryTree) Paths(prefix string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []string
	for p := range t.nodes {
		if p == prefix || strings.HasPrefix(p, strings.TrimSuffix(prefix, "/")+"/") {
			out = append(out, p)
		}
	}
	slices.Sort(out)
	return out
}

// Data returns the content of the node at p.
func (t *MemoryTree) Data(p string) ([]byte, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.nodes[p]
	if !ok {
		return nil, false
	}
	return slices.Clone(n.data), true
}

// Delete removes p and its subtree, firing watches, as an external actor
// would.
func (t *MemoryTree) Delete(p string) {
	t.removeWhere(func(k string, _ *memNode) bool { return within(k, p) })
}

func within(k, p string) bool {
	return k == p || strings.HasPrefix(k, strings.TrimSuffix(p, "/")+"/")
}

// ensureParentsLocked creates missing persistent ancestors of p.
func (t *MemoryTree) ensureParentsLocked(p string) {
	for dir := path.Dir(p); dir != "/" && dir != "."; dir = path.Dir(dir) {
		if _, ok := t.nodes[dir]; !ok {
			t.nodes[dir] = &memNode{}
		}
	}
}

func (t *MemoryTree) removeWhere(match func(string, *memNode) bool) {
	var fire []func()
	t.mu.Lock()
	for k, n := range t.nodes {
		if k == "/" || !match(k, n) {
			continue
		}
		delete(t.nodes, k)
		for _, fn := range t.watches[k] {
			fire = append(fire, fn)
		}
		delete(t.watches, k)
	}
	t.mu.Unlock()
	for _, fn := range fire {
		fn()
	}
}

type memSession struct {
	t      *MemoryTree
	id     string
	mu     sync.Mutex
	closed bool
	doneCh chan struct{}
}

func (s *memSession) check() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errSessionClosed
	}
	return nil
}

func (s *memSession) exists(p string) (bool, error) {
	if err := s.check(); err != nil {
		return false, err
	}
	s.t.mu.Lock()
	_, ok := s.t.nodes[p]
	s.t.mu.Unlock()
	return ok, nil
}

func (s *memSession) get(p string) ([]byte, bool, error) {
	if err := s.check(); err != nil {
		return nil, false, err
	}
	b, ok := s.t.Data(p)
	return b, ok, nil
}

func (s *memSession) put(p string, data []byte) error {
	return s.write(p, data, "")
}

func (s *memSession) putEphemeral(p string, data []byte) error {
	s.t.Delete(p)
	return s.write(p, data, s.id)
}

func (s *memSession) write(p string, data []byte, owner string) error {
	if err := s.check(); err != nil {
		return err
	}
	s.t.mu.Lock()
	defer s.t.mu.Unlock()
	s.t.ensureParentsLocked(p)
	if n, ok := s.t.nodes[p]; ok && owner == "" {
		n.data = slices.Clone(data)
		return nil
	}
	s.t.nodes[p] = &memNode{data: slices.Clone(data), owner: owner}
	return nil
}

func (s *memSession) children(p string) ([]string, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	s.t.mu.Lock()
	defer s.t.mu.Unlock()
	var out []string
	for k := range s.t.nodes {
		if k != "/" && path.Dir(k) == p {
			out = append(out, path.Base(k))
		}
	}
	slices.Sort(out)
	return out, nil
}

func (s *memSession) removeAll(p string) error {
	if err := s.check(); err != nil {
		return err
	}
	s.t.Delete(p)
	return nil
}

func (s *memSession) watchDelete(p string, fn func()) (func(), error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	s.t.mu.Lock()
	if _, ok := s.t.nodes[p]; !ok {
		s.t.mu.Unlock()
		go fn()
		return func() {}, nil
	}
	s.t.nextWatch++
	id := s.t.nextWatch
	if s.t.watches[p] == nil {
		s.t.watches[p] = map[uint64]func(){}
	}
	// Callbacks run outside the tree lock, so they may call back into it.
	s.t.watches[p][id] = func() { go fn() }
	s.t.mu.Unlock()
	return func() {
		s.t.mu.Lock()
		delete(s.t.watches[p], id)
		s.t.mu.Unlock()
	}, nil
}

func (s *memSession) done() <-chan struct{} { return s.doneCh }

func (s *memSession) err() error { return nil }

// close drops the session's ephemeral nodes. Done stays open: closing a
// session on purpose is not a session loss.
func (s *memSession) close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	s.t.removeWhere(func(_ string, n *memNode) bool { return n.owner == s.id })
	return nil
}
