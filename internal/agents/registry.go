package agents

import (
	"context"
	"sort"
	"sync"

	"fintelli/internal/agents/schemas"
	"fintelli/pkg/errors"
)

// Registry stores agents by name for lookup by the orchestrator and the API
type Registry struct {
	agents map[string]Agent
	mu     sync.RWMutex
}

// NewRegistry constructs a registry holding the given agents
func NewRegistry(agents ...Agent) *Registry {
	r := &Registry{agents: make(map[string]Agent, len(agents))}
	for _, ag := range agents {
		r.Register(ag)
	}
	return r
}

// Register adds or replaces an agent entry
func (r *Registry) Register(ag Agent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[ag.Name()] = ag
}

// Get retrieves an agent by name
func (r *Registry) Get(name string) (Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ag, ok := r.agents[name]
	return ag, ok
}

// List returns registered agent names, known agents first in report order
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	order := make(map[string]int, len(schemas.AgentNames))
	for i, n := range schemas.AgentNames {
		order[n] = i
	}

	res := make([]string, 0, len(r.agents))
	for name := range r.agents {
		res = append(res, name)
	}
	sort.Slice(res, func(i, j int) bool {
		oi, iKnown := order[res[i]]
		oj, jKnown := order[res[j]]
		switch {
		case iKnown && jKnown:
			return oi < oj
		case iKnown != jKnown:
			return iKnown
		default:
			return res[i] < res[j]
		}
	})
	return res
}

// Analyze runs one agent on demand
func (r *Registry) Analyze(ctx context.Context, name string, req Request) (Outcome, error) {
	ag, ok := r.Get(name)
	if !ok {
		return Outcome{}, errors.Wrapf(errors.ErrNotFound, "agent %s", name)
	}
	return ag.Run(ctx, req), nil
}

// Purge drops expired cached results of every agent that keeps a local
// cache and returns how many entries were removed
func (r *Registry) Purge() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	removed := 0
	for _, ag := range r.agents {
		if p, ok := ag.(interface{ Purge() int }); ok {
			removed += p.Purge()
		}
	}
	return removed
}

// Len returns the number of locally cached results across agents
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, ag := range r.agents {
		if l, ok := ag.(interface{ Len() int }); ok {
			n += l.Len()
		}
	}
	return n
}
