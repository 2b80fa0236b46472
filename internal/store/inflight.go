package store

import (
	"sync"
)

// inflightGuard tracks which entities currently have a mutation being sent.
// Deliberately memory-only: after a crash every persisted mutation must be
// pending again, never stuck behind a stale claim.
type inflightGuard struct {
	mu       sync.Mutex
	byEntity map[string]string // entityID -> mutationID
	byID     map[string]string // mutationID -> entityID
}

func newInflightGuard() *inflightGuard {
	return &inflightGuard{
		byEntity: make(map[string]string),
		byID:     make(map[string]string),
	}
}

func (g *inflightGuard) claim(entityID, mutationID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, held := g.byEntity[entityID]; held {
		return ErrAlreadyInFlight
	}
	g.byEntity[entityID] = mutationID
	g.byID[mutationID] = entityID
	return nil
}

func (g *inflightGuard) release(mutationID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	entityID, ok := g.byID[mutationID]
	if !ok {
		return
	}
	delete(g.byID, mutationID)
	if g.byEntity[entityID] == mutationID {
		delete(g.byEntity, entityID)
	}
}

func (g *inflightGuard) has(mutationID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.byID[mutationID]
	return ok
}
