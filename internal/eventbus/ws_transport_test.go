package eventbus

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/nexusruntime/agentrt/internal/store"
	"github.com/nexusruntime/agentrt/pkg/model"
)

func TestWSHandlerStreamsPublishedEvents(t *testing.T) {
	b := New(store.NewMemory(), Config{})
	handler := NewWSHandler(b, nil)
	server := httptest.NewServer(handler)
	defer server.Close()

	agent := model.AgentID("agent-1")
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "?agent_id=" + string(agent)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	events, errc, err := DialWSSubscriber(ctx, wsURL)
	if err != nil {
		t.Fatalf("DialWSSubscriber() error = %v", err)
	}

	// Give the server goroutine a moment to register its subscription
	// before publishing, since Subscribe happens inside ServeHTTP after
	// the client's Dial already returns.
	time.Sleep(50 * time.Millisecond)

	if _, err := b.Publish(context.Background(), model.EventEnvelope{
		AgentID: agent, Channel: model.ChannelProgress, Timestamp: time.Now(),
		Event: model.Event{Type: model.EventTextChunk, Text: "hello"},
	}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case env := <-events:
		if env.Event.Text != "hello" {
			t.Fatalf("expected streamed event text %q, got %q", "hello", env.Event.Text)
		}
	case err := <-errc:
		t.Fatalf("unexpected transport error: %v", err)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for websocket-streamed event")
	}
}

func TestWSHandlerRejectsMissingAgentID(t *testing.T) {
	b := New(store.NewMemory(), Config{})
	handler := NewWSHandler(b, nil)
	server := httptest.NewServer(handler)
	defer server.Close()

	resp, err := server.Client().Get(server.URL)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 400 {
		t.Fatalf("expected 400 without agent_id, got %d", resp.StatusCode)
	}
}
