package realtime

import (
	"context"
	"sort"
	"sync"
)

// Presence tracks which users have a live connection. A user stays online
// while any of their connections is registered; Latest returns the most
// recently added one, which is the target for direct delivery.
type Presence interface {
	Add(ctx context.Context, userID, connID string) error
	Remove(ctx context.Context, userID, connID string) error
	Online(ctx context.Context) ([]string, error)
	Latest(ctx context.Context, userID string) (string, bool, error)
}

type MemoryPresence struct {
	mu     sync.Mutex
	conns  map[string]map[string]struct{}
	latest map[string]string
}

func NewMemoryPresence() *MemoryPresence {
	return &MemoryPresence{
		conns:  make(map[string]map[string]struct{}),
		latest: make(map[string]string),
	}
}

func (p *MemoryPresence) Add(_ context.Context, userID, connID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	set, ok := p.conns[userID]
	if !ok {
		set = make(map[string]struct{})
		p.conns[userID] = set
	}
	set[connID] = struct{}{}
	p.latest[userID] = connID
	return nil
}

func (p *MemoryPresence) Remove(_ context.Context, userID, connID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	set, ok := p.conns[userID]
	if !ok {
		return nil
	}
	delete(set, connID)
	if len(set) == 0 {
		delete(p.conns, userID)
		delete(p.latest, userID)
		return nil
	}
	if p.latest[userID] == connID {
		for remaining := range set {
			p.latest[userID] = remaining
			break
		}
	}
	return nil
}

func (p *MemoryPresence) Online(_ context.Context) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	users := make([]string, 0, len(p.conns))
	for userID := range p.conns {
		users = append(users, userID)
	}
	sort.Strings(users)
	return users, nil
}

func (p *MemoryPresence) Latest(_ context.Context, userID string) (string, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	connID, ok := p.latest[userID]
	return connID, ok, nil
}
