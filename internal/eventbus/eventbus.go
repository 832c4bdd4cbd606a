// Package eventbus fans durable EventEnvelopes out to subscribers across
// the runtime's three logical channels, replaying from a durable Store on
// subscribe. On lanes that tolerate loss, an event published to a full
// subscriber queue is itself dropped (events already queued are kept),
// and a subscriber_lag notice is enqueued only if the queue has room for
// it; otherwise the notice is dropped too and a warning is logged. The
// subscriber queue shape is modeled on the teacher's
// BackpressureSink two-lane design, generalized from a fixed high/low
// split to a per-channel policy.
package eventbus

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/nexusruntime/agentrt/internal/store"
	"github.com/nexusruntime/agentrt/pkg/model"
)

// control is never dropped: permission_required/decided and agent_halted
// must reach every subscriber for the runtime's suspend/resume contract
// to hold. progress and monitor tolerate loss under backpressure.
func isDroppable(ch model.Channel) bool {
	return ch != model.ChannelControl
}

// Bus durably persists every published event and fans it out to live
// subscribers. A zero value is not usable; construct with New.
type Bus struct {
	store   store.Store
	logger  *slog.Logger
	metrics *metrics

	queueSize int

	mu   sync.Mutex
	subs map[string]*subscriber
}

// Config tunes subscriber queue sizing.
type Config struct {
	QueueSize int // per-subscriber buffer; default 256
}

// New creates a Bus backed by s.
func New(s store.Store, cfg Config) *Bus {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	return &Bus{
		store:     s,
		logger:    slog.Default().With("component", "eventbus"),
		metrics:   busMetrics(),
		queueSize: cfg.QueueSize,
		subs:      make(map[string]*subscriber),
	}
}

type subscriber struct {
	id      string
	agentID model.AgentID
	queue   chan model.EventEnvelope
	dropped uint64
	done    chan struct{}
}

// Publish durably appends env (assigning its Seq) and fans it out to
// every live subscriber for env.AgentID.
func (b *Bus) Publish(ctx context.Context, env model.EventEnvelope) (model.EventEnvelope, error) {
	seq, err := b.store.AppendEvent(ctx, env)
	if err != nil {
		return model.EventEnvelope{}, err
	}
	env.Seq = seq
	b.metrics.eventsPublished.WithLabelValues(string(env.Channel)).Inc()

	b.mu.Lock()
	targets := make([]*subscriber, 0, len(b.subs))
	for _, s := range b.subs {
		if s.agentID == env.AgentID {
			targets = append(targets, s)
		}
	}
	b.mu.Unlock()

	for _, s := range targets {
		b.deliver(s, env)
	}
	return env, nil
}

func (b *Bus) deliver(s *subscriber, env model.EventEnvelope) {
	if !isDroppable(env.Channel) {
		select {
		case s.queue <- env:
		case <-s.done:
		}
		return
	}

	select {
	case s.queue <- env:
	default:
		atomic.AddUint64(&s.dropped, 1)
		b.metrics.eventsDropped.WithLabelValues(string(env.Channel)).Inc()
		lag := model.EventEnvelope{
			AgentID:   env.AgentID,
			Channel:   env.Channel,
			Timestamp: env.Timestamp,
			Event: model.Event{
				Type:    model.EventSubscriberLag,
				Dropped: 1,
			},
		}
		select {
		case s.queue <- lag:
		default:
			b.logger.Warn("eventbus: subscriber queue full, dropping lag notice too", "agent_id", env.AgentID)
		}
	}
}

// Subscribe registers a new subscriber for agentID. sinceSeq distinguishes
// "absent" from "since=0": a nil sinceSeq delivers only events published
// after Subscribe returns, per spec §4.2 ("without since, only future
// events are delivered"); a non-nil sinceSeq (0 or otherwise) replays
// every durable event with Seq > *sinceSeq first. The returned channel is
// closed when ctx is cancelled or Unsubscribe is called with the
// returned id.
func (b *Bus) Subscribe(ctx context.Context, agentID model.AgentID, sinceSeq *uint64, queueSize int) (string, <-chan model.EventEnvelope, error) {
	if queueSize <= 0 {
		queueSize = b.queueSize
	}
	var backlog []model.EventEnvelope
	if sinceSeq != nil {
		var err error
		backlog, err = b.store.ReplayFrom(ctx, agentID, *sinceSeq)
		if err != nil {
			return "", nil, err
		}
	}

	s := &subscriber{
		id:      model.NewID(),
		agentID: agentID,
		queue:   make(chan model.EventEnvelope, queueSize),
		done:    make(chan struct{}),
	}

	for _, env := range backlog {
		select {
		case s.queue <- env:
		default:
			atomic.AddUint64(&s.dropped, 1)
			b.metrics.eventsDropped.WithLabelValues(string(env.Channel)).Inc()
		}
	}

	b.mu.Lock()
	b.subs[s.id] = s
	b.mu.Unlock()
	b.metrics.activeSubscribers.Inc()

	go func() {
		<-ctx.Done()
		b.Unsubscribe(s.id)
	}()

	return s.id, s.queue, nil
}

// Unsubscribe stops delivery to id and closes its channel. Safe to call
// more than once.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	s, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
	}
	b.mu.Unlock()
	if !ok {
		return
	}
	b.metrics.activeSubscribers.Dec()
	close(s.done)
	close(s.queue)
}

// DroppedCount reports how many low-priority events a subscriber has
// lost to backpressure.
func (b *Bus) DroppedCount(id string) uint64 {
	b.mu.Lock()
	s, ok := b.subs[id]
	b.mu.Unlock()
	if !ok {
		return 0
	}
	return atomic.LoadUint64(&s.dropped)
}
