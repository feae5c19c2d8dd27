package event

import (
	"context"
	"sync"
)

// Memory is an in-process Feed. Publish blocks until every matching
// subscriber has taken the change or its context has ended.
type Memory struct {
	mu   sync.RWMutex
	subs map[*memorySub]struct{}
}

type memorySub struct {
	ctx    context.Context
	tables map[string]bool
	ch     chan Change
}

func NewMemory() *Memory {
	return &Memory{subs: make(map[*memorySub]struct{})}
}

func (m *Memory) Publish(ctx context.Context, c Change) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for s := range m.subs {
		if len(s.tables) > 0 && !s.tables[c.Table] {
			continue
		}
		select {
		case s.ch <- c:
		case <-s.ctx.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (m *Memory) Subscribe(ctx context.Context, tables ...string) (<-chan Change, error) {
	s := &memorySub{ctx: ctx, tables: make(map[string]bool), ch: make(chan Change, 64)}
	for _, t := range tables {
		s.tables[t] = true
	}

	m.mu.Lock()
	m.subs[s] = struct{}{}
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		delete(m.subs, s)
		m.mu.Unlock()
		close(s.ch)
	}()
	return s.ch, nil
}
