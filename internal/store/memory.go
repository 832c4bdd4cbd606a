package store

import (
	"context"
	"sort"
	"sync"

	"github.com/nexusruntime/agentrt/pkg/model"
)

// Memory is an in-process Store for tests and local runs. Snapshots and
// events are held in maps guarded by a single mutex; nothing here
// survives process restart.
type Memory struct {
	mu        sync.RWMutex
	events    map[model.AgentID][]model.EventEnvelope
	lastSeq   map[model.AgentID]map[model.Channel]uint64
	snapshots map[model.AgentID]model.Snapshot
	messages  map[model.AgentID][]model.Message
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		events:    make(map[model.AgentID][]model.EventEnvelope),
		lastSeq:   make(map[model.AgentID]map[model.Channel]uint64),
		snapshots: make(map[model.AgentID]model.Snapshot),
		messages:  make(map[model.AgentID][]model.Message),
	}
}

func (m *Memory) AppendMessage(ctx context.Context, agentID model.AgentID, msg model.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[agentID] = append(m.messages[agentID], msg)
	return nil
}

func (m *Memory) LoadMessages(ctx context.Context, agentID model.AgentID) ([]model.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Message, len(m.messages[agentID]))
	copy(out, m.messages[agentID])
	return out, nil
}

func (m *Memory) AppendEvent(ctx context.Context, env model.EventEnvelope) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	seqs, ok := m.lastSeq[env.AgentID]
	if !ok {
		seqs = make(map[model.Channel]uint64)
		m.lastSeq[env.AgentID] = seqs
	}
	seqs[env.Channel]++
	env.Seq = seqs[env.Channel]

	m.events[env.AgentID] = append(m.events[env.AgentID], env)
	return env.Seq, nil
}

func (m *Memory) ReplayFrom(ctx context.Context, agentID model.AgentID, fromSeq uint64) ([]model.EventEnvelope, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := m.events[agentID]
	out := make([]model.EventEnvelope, 0, len(all))
	for _, e := range all {
		if e.Seq > fromSeq {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Channel != out[j].Channel {
			return out[i].Channel < out[j].Channel
		}
		return out[i].Seq < out[j].Seq
	})
	return out, nil
}

func (m *Memory) LastSeq(ctx context.Context, agentID model.AgentID) (map[model.Channel]uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[model.Channel]uint64)
	for ch, seq := range m.lastSeq[agentID] {
		out[ch] = seq
	}
	return out, nil
}

func (m *Memory) SaveSnapshot(ctx context.Context, snap model.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[snap.AgentID] = snap
	return nil
}

func (m *Memory) LatestSnapshot(ctx context.Context, agentID model.AgentID) (model.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap, ok := m.snapshots[agentID]
	if !ok {
		return model.Snapshot{}, ErrNotFound
	}
	return snap, nil
}

func (m *Memory) ListAgents(ctx context.Context) ([]model.AgentID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[model.AgentID]bool)
	for id := range m.events {
		seen[id] = true
	}
	for id := range m.snapshots {
		seen[id] = true
	}
	out := make([]model.AgentID, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (m *Memory) Close() error { return nil }
