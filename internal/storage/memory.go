package storage

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"specsync/internal/spec"
)

var (
	_ Store  = (*Memory)(nil)
	_ Outbox = (*Memory)(nil)
)

type memRow struct {
	mnemonic string
	cron     string
	execute  bool
	gen      bool
}

// Memory is an in-process store. Put and Delete record change payloads the
// same way the database triggers do.
type Memory struct {
	mu         sync.Mutex
	specs      map[int]memRow
	tombstones map[int]string
	results    map[int][]*spec.ImplValue
	outbox     []string
}

func NewMemory() *Memory {
	return &Memory{
		specs:      map[int]memRow{},
		tombstones: map[int]string{},
		results:    map[int][]*spec.ImplValue{},
	}
}

// Put inserts or updates a spec row. The cron expression is stored as
// given; it is canonicalized on load.
func (m *Memory) Put(id int, mnemonic, cron string, execute, gen bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	op := "UPDATE"
	if _, ok := m.specs[id]; !ok {
		op = "INSERT"
		delete(m.tombstones, id)
	}
	m.specs[id] = memRow{mnemonic: mnemonic, cron: cron, execute: execute, gen: gen}
	m.outbox = append(m.outbox, changePayload(id, op))
}

// Delete removes a spec row and leaves a tombstone. Deleting a missing id
// is a no-op.
func (m *Memory) Delete(id int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.specs[id]
	if !ok {
		return
	}
	delete(m.specs, id)
	m.tombstones[id] = row.mnemonic
	m.outbox = append(m.outbox, changePayload(id, "DELETE"))
}

func (m *Memory) AllSpecs(context.Context) ([]*spec.ImplSpec, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]int, 0, len(m.specs))
	for id := range m.specs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	out := make([]*spec.ImplSpec, 0, len(ids))
	for _, id := range ids {
		r := m.specs[id]
		sp, err := specFromRow(id, r.mnemonic, &r.cron, r.execute, r.gen)
		if err != nil {
			continue
		}
		out = append(out, sp)
	}
	return out, nil
}

func (m *Memory) Spec(_ context.Context, id int) (*spec.ImplSpec, error) {
	m.mu.Lock()
	r, ok := m.specs[id]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %d", spec.ErrSpecNotFound, id)
	}
	return specFromRow(id, r.mnemonic, &r.cron, r.execute, r.gen)
}

func (m *Memory) JobNameFor(_ context.Context, id int) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.specs[id]; ok {
		return r.mnemonic, nil
	}
	if name, ok := m.tombstones[id]; ok {
		return name, nil
	}
	return "", fmt.Errorf("%w: %d", spec.ErrSpecNotFound, id)
}

func (m *Memory) SaveResult(_ context.Context, v *spec.ImplValue) error {
	cp := *v
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.results[v.ID]
	for i, old := range list {
		if old.ValueTsMillis == v.ValueTsMillis {
			list[i] = &cp
			return nil
		}
	}
	m.results[v.ID] = append(list, &cp)
	return nil
}

func (m *Memory) LatestResult(_ context.Context, id int) (*spec.ImplValue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *spec.ImplValue
	for _, v := range m.results[id] {
		if latest == nil || v.ValueTsMillis > latest.ValueTsMillis {
			latest = v
		}
	}
	if latest == nil {
		return nil, fmt.Errorf("%w: %d", ErrResultNotFound, id)
	}
	cp := *latest
	return &cp, nil
}

// Results returns every saved result for id in save order.
func (m *Memory) Results(id int) []spec.ImplValue {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]spec.ImplValue, 0, len(m.results[id]))
	for _, v := range m.results[id] {
		out = append(out, *v)
	}
	return out
}

func (m *Memory) DrainChanges(_ context.Context, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.outbox)
	if limit > 0 && limit < n {
		n = limit
	}
	if n == 0 {
		return nil, nil
	}
	out := slices.Clone(m.outbox[:n])
	m.outbox = slices.Delete(m.outbox, 0, n)
	return out, nil
}

func (m *Memory) Close() error { return nil }
