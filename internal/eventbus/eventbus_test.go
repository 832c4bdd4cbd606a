package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/nexusruntime/agentrt/internal/store"
	"github.com/nexusruntime/agentrt/pkg/model"
)

func TestBusPublishAssignsSeqAndDeliversLive(t *testing.T) {
	b := New(store.NewMemory(), Config{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	agent := model.AgentID("agent-1")
	_, queue, err := b.Subscribe(ctx, agent, nil, 8)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	env, err := b.Publish(ctx, model.EventEnvelope{AgentID: agent, Channel: model.ChannelProgress, Timestamp: time.Now(), Event: model.Event{Type: model.EventTextChunk, Text: "hi"}})
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if env.Seq != 1 {
		t.Fatalf("expected seq 1, got %d", env.Seq)
	}

	select {
	case got := <-queue:
		if got.Seq != 1 || got.Event.Text != "hi" {
			t.Fatalf("unexpected delivered event: %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for live event delivery")
	}
}

func TestBusSubscribeReplaysBacklogBeforeLive(t *testing.T) {
	s := store.NewMemory()
	b := New(s, Config{})
	ctx := context.Background()
	agent := model.AgentID("agent-1")

	if _, err := b.Publish(ctx, model.EventEnvelope{AgentID: agent, Channel: model.ChannelMonitor, Timestamp: time.Now(), Event: model.Event{Type: model.EventMessagesChanged}}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	subCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var sinceSeq uint64
	_, queue, err := b.Subscribe(subCtx, agent, &sinceSeq, 8)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	select {
	case got := <-queue:
		if got.Seq != 1 {
			t.Fatalf("expected replayed backlog event with seq 1, got %d", got.Seq)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for backlog replay")
	}
}

func TestBusControlChannelNeverDropsUnderBackpressure(t *testing.T) {
	b := New(store.NewMemory(), Config{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	agent := model.AgentID("agent-1")
	id, queue, err := b.Subscribe(ctx, agent, nil, 1)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			if _, err := b.Publish(ctx, model.EventEnvelope{AgentID: agent, Channel: model.ChannelControl, Timestamp: time.Now(), Event: model.Event{Type: model.EventPermissionRequired}}); err != nil {
				t.Errorf("Publish() error = %v", err)
			}
		}
		close(done)
	}()

	received := 0
	for received < 5 {
		select {
		case <-queue:
			received++
		case <-time.After(2 * time.Second):
			t.Fatalf("expected all 5 control events to be delivered without drop, got %d", received)
		}
	}
	<-done
	if b.DroppedCount(id) != 0 {
		t.Fatalf("expected zero drops on control channel, got %d", b.DroppedCount(id))
	}
}
