package eventbus

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nexusruntime/agentrt/pkg/model"
)

// WebSocket keepalive intervals, grounded on the teacher's
// internal/gateway/ws_control_plane.go constants (wsPongWait/wsWriteWait/
// wsTickInterval), trimmed to the one subscribe-and-stream concern this
// bridge needs.
const (
	wsPongWait    = 45 * time.Second
	wsWriteWait   = 10 * time.Second
	wsPingPeriod  = (wsPongWait * 9) / 10
	wsReadLimit   = 1 << 16
	wsQueueBuffer = 256
)

// WSFrame is one event envelope as delivered over the websocket
// transport, matching the teacher's wsFrame discriminated-by-Type shape
// but narrowed to the one message kind this bridge emits.
type WSFrame struct {
	Type  string               `json:"type"` // "event" | "error"
	Event *model.EventEnvelope `json:"event,omitempty"`
	Error string               `json:"error,omitempty"`
}

// WSHandler is an http.Handler that upgrades a connection to a websocket
// and streams one agent's EventEnvelopes to it, per spec §6.5's "any
// binding" note and SPEC_FULL's domain-stack wiring for gorilla/websocket
// ("optional subscribe() transport exposing event-channel fan-out over a
// websocket for remote UIs"). The query parameters `agent_id` (required)
// and `since` (optional, a decimal seq bookmark) select the subscription,
// mirroring Bus.Subscribe's own parameters.
type WSHandler struct {
	Bus    *Bus
	Logger *slog.Logger

	upgrader websocket.Upgrader
}

// NewWSHandler creates a WSHandler over bus. CheckOrigin always allows,
// matching the teacher's own wsControlPlane upgrader (origin policy is a
// deployment concern left to a fronting proxy, not this bridge).
func NewWSHandler(bus *Bus, logger *slog.Logger) *WSHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSHandler{
		Bus:    bus,
		Logger: logger.With("component", "eventbus_ws"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  8192,
			WriteBufferSize: 8192,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// ServeHTTP implements http.Handler.
func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	agentID := r.URL.Query().Get("agent_id")
	if agentID == "" {
		http.Error(w, "missing agent_id query parameter", http.StatusBadRequest)
		return
	}
	var fromSeq *uint64
	if s := r.URL.Query().Get("since"); s != "" {
		parsed, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			http.Error(w, "invalid since parameter", http.StatusBadRequest)
			return
		}
		fromSeq = &parsed
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.Logger.Warn("eventbus: websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(wsReadLimit)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	subID, events, err := h.Bus.Subscribe(ctx, model.AgentID(agentID), fromSeq, wsQueueBuffer)
	if err != nil {
		_ = conn.WriteJSON(WSFrame{Type: "error", Error: err.Error()})
		return
	}
	defer h.Bus.Unsubscribe(subID)

	// A read pump drains client pings/close frames so the connection's
	// read deadline keeps advancing; this bridge is write-only otherwise
	// (remote UIs never publish through it, only subscribe), matching
	// the teacher's own one-way event-stream sockets.
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case env, ok := <-events:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			payload, err := json.Marshal(WSFrame{Type: "event", Event: &env})
			if err != nil {
				h.Logger.Warn("eventbus: marshal event frame failed", "err", err)
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		}
	}
}

// DialWSSubscriber connects to a WSHandler as a client and returns a
// channel of decoded EventEnvelopes, the counterpart a remote UI (or a
// test) uses to consume the stream without hand-rolling the websocket
// frame protocol itself.
func DialWSSubscriber(ctx context.Context, url string) (<-chan model.EventEnvelope, <-chan error, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, nil, err
	}

	out := make(chan model.EventEnvelope, wsQueueBuffer)
	errc := make(chan error, 1)

	go func() {
		defer close(out)
		defer conn.Close()
		for {
			_, payload, err := conn.ReadMessage()
			if err != nil {
				select {
				case errc <- err:
				default:
				}
				return
			}
			var frame WSFrame
			if err := json.Unmarshal(payload, &frame); err != nil {
				continue
			}
			if frame.Type == "error" {
				select {
				case errc <- &wsRemoteError{message: frame.Error}:
				default:
				}
				continue
			}
			if frame.Event != nil {
				select {
				case out <- *frame.Event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, errc, nil
}

type wsRemoteError struct{ message string }

func (e *wsRemoteError) Error() string { return "eventbus: remote: " + e.message }
