package store

import (
	"context"
	"testing"
	"time"

	"github.com/nexusruntime/agentrt/pkg/model"
)

func TestMemoryAppendEventAssignsIncreasingSeq(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	agent := model.AgentID("agent-1")

	first, err := s.AppendEvent(ctx, model.EventEnvelope{AgentID: agent, Channel: model.ChannelProgress, Timestamp: time.Now(), Event: model.Event{Type: model.EventTextChunk}})
	if err != nil {
		t.Fatalf("AppendEvent() error = %v", err)
	}
	if first != 1 {
		t.Fatalf("expected first seq 1, got %d", first)
	}

	second, err := s.AppendEvent(ctx, model.EventEnvelope{AgentID: agent, Channel: model.ChannelProgress, Timestamp: time.Now(), Event: model.Event{Type: model.EventTextChunk}})
	if err != nil {
		t.Fatalf("AppendEvent() error = %v", err)
	}
	if second != 2 {
		t.Fatalf("expected seq to strictly increase, got %d after %d", second, first)
	}
}

func TestMemoryReplayFromExcludesAlreadySeen(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	agent := model.AgentID("agent-1")

	for i := 0; i < 3; i++ {
		if _, err := s.AppendEvent(ctx, model.EventEnvelope{AgentID: agent, Channel: model.ChannelMonitor, Timestamp: time.Now(), Event: model.Event{Type: model.EventMessagesChanged}}); err != nil {
			t.Fatalf("AppendEvent() error = %v", err)
		}
	}

	events, err := s.ReplayFrom(ctx, agent, 1)
	if err != nil {
		t.Fatalf("ReplayFrom() error = %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events after seq 1, got %d", len(events))
	}
	for _, e := range events {
		if e.Seq <= 1 {
			t.Fatalf("replay leaked event at or before fromSeq: seq=%d", e.Seq)
		}
	}
}

func TestMemorySnapshotRoundTrip(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	agent := model.AgentID("agent-1")

	if _, err := s.LatestSnapshot(ctx, agent); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound before any snapshot, got %v", err)
	}

	snap := model.Snapshot{AgentID: agent, SnapshotID: "snap-1", CreatedAt: time.Now()}
	if err := s.SaveSnapshot(ctx, snap); err != nil {
		t.Fatalf("SaveSnapshot() error = %v", err)
	}

	loaded, err := s.LatestSnapshot(ctx, agent)
	if err != nil {
		t.Fatalf("LatestSnapshot() error = %v", err)
	}
	if loaded.SnapshotID != "snap-1" {
		t.Fatalf("expected snapshot id snap-1, got %q", loaded.SnapshotID)
	}
}

func TestMemoryAppendMessageLoadsInOrder(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	agent := model.AgentID("agent-1")

	for i := 0; i < 3; i++ {
		msg := model.Message{ID: model.NewID(), Role: model.RoleUser, CreatedAt: time.Now()}
		if err := s.AppendMessage(ctx, agent, msg); err != nil {
			t.Fatalf("AppendMessage() error = %v", err)
		}
	}

	loaded, err := s.LoadMessages(ctx, agent)
	if err != nil {
		t.Fatalf("LoadMessages() error = %v", err)
	}
	if len(loaded) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(loaded))
	}

	if other, err := s.LoadMessages(ctx, "no-such-agent"); err != nil || len(other) != 0 {
		t.Fatalf("expected empty slice for unknown agent, got %v, err %v", other, err)
	}
}

func TestMemoryListAgentsCoversSnapshotOnlyAgents(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	if err := s.SaveSnapshot(ctx, model.Snapshot{AgentID: "snap-only", SnapshotID: "s1", CreatedAt: time.Now()}); err != nil {
		t.Fatalf("SaveSnapshot() error = %v", err)
	}
	if _, err := s.AppendEvent(ctx, model.EventEnvelope{AgentID: "event-only", Channel: model.ChannelProgress, Timestamp: time.Now(), Event: model.Event{Type: model.EventDone}}); err != nil {
		t.Fatalf("AppendEvent() error = %v", err)
	}

	agents, err := s.ListAgents(ctx)
	if err != nil {
		t.Fatalf("ListAgents() error = %v", err)
	}
	seen := map[model.AgentID]bool{}
	for _, a := range agents {
		seen[a] = true
	}
	if !seen["snap-only"] || !seen["event-only"] {
		t.Fatalf("expected both snapshot-only and event-only agents listed, got %v", agents)
	}
}
