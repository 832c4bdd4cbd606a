package room

import (
	"context"
	"fmt"
	"sync"

	"github.com/nexusruntime/agentrt/internal/agent"
	"github.com/nexusruntime/agentrt/pkg/model"
)

// ErrPoolFull is returned by Pool.Create when max concurrent agents are
// already live.
var ErrPoolFull = fmt.Errorf("room: pool is at capacity")

// Pool caps the number of concurrently live agents behind a bounded map,
// per spec §4.7: create and destroy always go through the Pool so
// memory use stays deterministic regardless of how many templates a
// caller instantiates.
type Pool struct {
	mu     sync.Mutex
	max    int
	deps   agent.Deps
	agents map[model.AgentID]*agent.Agent
}

// NewPool creates a Pool bounded at max concurrently live agents, all
// constructed against the same deps.
func NewPool(max int, deps agent.Deps) *Pool {
	return &Pool{max: max, deps: deps, agents: make(map[model.AgentID]*agent.Agent)}
}

// Create constructs a new Agent through Create, refusing once the pool
// is at capacity.
func (p *Pool) Create(ctx context.Context, id model.AgentID, tmpl agent.Template, opts agent.RuntimeOptions) (*agent.Agent, error) {
	p.mu.Lock()
	if p.max > 0 && len(p.agents) >= p.max {
		p.mu.Unlock()
		return nil, ErrPoolFull
	}
	p.mu.Unlock()

	a, err := agent.Create(ctx, id, tmpl, opts, p.deps)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	if p.max > 0 && len(p.agents) >= p.max {
		p.mu.Unlock()
		_ = a.Dispose()
		return nil, ErrPoolFull
	}
	p.agents[id] = a
	p.mu.Unlock()
	return a, nil
}

// Destroy disposes the agent at id and removes it from the pool.
func (p *Pool) Destroy(id model.AgentID) error {
	p.mu.Lock()
	a, ok := p.agents[id]
	delete(p.agents, id)
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("room: no pooled agent %q", id)
	}
	return a.Dispose()
}

// Get looks up a live pooled agent by id.
func (p *Pool) Get(id model.AgentID) (*agent.Agent, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	a, ok := p.agents[id]
	return a, ok
}

// Len reports how many agents are currently live in the pool.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.agents)
}
