// Package store is the durable append-only event log and snapshot
// persistence layer behind agent resume. Writers go through a two-phase
// write(tmp) -> fsync -> rename discipline wherever the backend touches a
// local filesystem; SQL backends rely on transactional commit instead.
package store

import (
	"context"
	"errors"

	"github.com/nexusruntime/agentrt/pkg/model"
)

// ErrNotFound is returned when a lookup by ID/seq finds nothing.
var ErrNotFound = errors.New("store: not found")

// Store is the durable persistence capability the agent orchestrator
// drives for event append, replay, and snapshot/resume.
type Store interface {
	// AppendEvent persists an EventEnvelope and returns its assigned
	// sequence number for the (agentID, channel) pair. Seq is strictly
	// increasing per agent+channel and survives crash-resume.
	AppendEvent(ctx context.Context, env model.EventEnvelope) (uint64, error)

	// AppendMessage persists msg to agentID's durable message log
	// (messages.log in the on-disk layout, spec §4.5), in append order.
	// This is the authoritative source resume reconstructs a.messages
	// from; a Snapshot's own Messages field is a point-in-time copy, not
	// a substitute for replaying this log.
	AppendMessage(ctx context.Context, agentID model.AgentID, msg model.Message) error

	// LoadMessages returns agentID's full durable message log in append
	// order.
	LoadMessages(ctx context.Context, agentID model.AgentID) ([]model.Message, error)

	// ReplayFrom returns every envelope with Seq > fromSeq for agentID,
	// across all channels, ordered by channel and then by ascending seq
	// within each channel.
	ReplayFrom(ctx context.Context, agentID model.AgentID, fromSeq uint64) ([]model.EventEnvelope, error)

	// LastSeq returns the last assigned seq per channel for agentID.
	LastSeq(ctx context.Context, agentID model.AgentID) (map[model.Channel]uint64, error)

	// SaveSnapshot durably persists a full state snapshot, superseding
	// any replay older than it.
	SaveSnapshot(ctx context.Context, snap model.Snapshot) error

	// LatestSnapshot returns the most recent snapshot for agentID, or
	// ErrNotFound if none exists.
	LatestSnapshot(ctx context.Context, agentID model.AgentID) (model.Snapshot, error)

	// ListAgents returns every agent ID with durable state.
	ListAgents(ctx context.Context) ([]model.AgentID, error)

	// Close releases any held resources (connections, file handles).
	Close() error
}
