// Package agent implements the durable, event-driven Agent orchestrator:
// the single-actor-per-agent main loop that drives a ModelProvider
// through repeated tool-call rounds, persists every message and event
// durably, and gates every tool call through the permission engine and
// hook chain. Grounded on the teacher's AgenticLoop (internal/agent/loop.go)
// state-machine shape, generalized from a channel/session chat-bot loop
// into the spec's Template/Agent model.
package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nexusruntime/agentrt/internal/eventbus"
	"github.com/nexusruntime/agentrt/internal/permission"
	"github.com/nexusruntime/agentrt/internal/scheduler"
	"github.com/nexusruntime/agentrt/internal/store"
	"github.com/nexusruntime/agentrt/internal/toolregistry"
	"github.com/nexusruntime/agentrt/pkg/model"
	"github.com/nexusruntime/agentrt/pkg/provider"
	"github.com/nexusruntime/agentrt/pkg/sandbox"
)

// Deps are the shared capabilities an Agent is wired against. Stores and
// registries are treated as immutable/thread-safe after initialization
// per spec §5; only Sandbox is exclusively owned by a single Agent.
type Deps struct {
	Provider    provider.ModelProvider
	Store       store.Store
	Bus         *eventbus.Bus
	Permissions *permission.Engine
	Tools       *toolregistry.Registry
	Sandbox     sandbox.Sandbox
}

// ChatStatus is the terminal condition of a chat() call, per spec §4.1.
type ChatStatus string

const (
	ChatOK     ChatStatus = "ok"
	ChatPaused ChatStatus = "paused"
	ChatError  ChatStatus = "error"
)

// ChatResult is chat()'s return value.
type ChatResult struct {
	Status        ChatStatus
	Text          string
	PermissionIDs []string
	Err           error
}

// Agent is a single orchestrated agent: one actor goroutine serializes
// every state mutation (model turns, tool batches, Decide/SetTodos calls)
// so only one thing ever advances at a time, per spec §5.
type Agent struct {
	id       model.AgentID
	template Template
	runtime  RuntimeOptions
	deps     Deps

	inbox     *Inbox
	scheduler *scheduler.Scheduler

	mu          sync.Mutex
	messages    []model.Message
	todos       []model.Todo
	toolRecords map[string]*model.ToolCallRecord
	lastSeq     map[model.Channel]uint64
	stepCount   int
	disposed    bool

	// pausedRound holds the round's partial state while one or more tool
	// calls in it are suspended on ModeApproval. Only ever read/written on
	// the actor goroutine (set by runRounds, cleared/resumed by
	// resumePendingToolCall, both of which only ever run inside submit).
	pausedRound *pausedRound

	// actorCh serializes every mutation. Submit blocks the caller until
	// the closure has run, giving Chat/Decide/SetTodos synchronous
	// semantics on top of the single-actor dispatch queue.
	actorCh chan func()
	done    chan struct{}
}

// Create constructs a brand-new Agent from a template and deps, with no
// prior durable state.
func Create(ctx context.Context, id model.AgentID, tmpl Template, opts RuntimeOptions, deps Deps) (*Agent, error) {
	if deps.Provider == nil {
		return nil, ErrNoProvider
	}
	a := newAgent(id, tmpl, opts, deps)
	a.start()
	return a, nil
}

// Resume reconstructs an Agent from durable state using strategy (default
// ResumeManual), per spec §4.6.
func Resume(ctx context.Context, id model.AgentID, tmpl Template, opts RuntimeOptions, deps Deps, strategy ResumeStrategy) (*Agent, error) {
	if deps.Provider == nil {
		return nil, ErrNoProvider
	}
	a := newAgent(id, tmpl, opts, deps)
	if err := a.resumeFromStore(ctx, strategy); err != nil {
		return nil, err
	}
	a.start()
	return a, nil
}

func newAgent(id model.AgentID, tmpl Template, opts RuntimeOptions, deps Deps) *Agent {
	a := &Agent{
		id:          id,
		template:    tmpl,
		runtime:     sanitizeRuntimeOptions(opts),
		deps:        deps,
		inbox:       NewInbox(),
		toolRecords: make(map[string]*model.ToolCallRecord),
		lastSeq:     make(map[model.Channel]uint64),
		actorCh:     make(chan func(), 64),
		done:        make(chan struct{}),
	}
	a.scheduler = scheduler.New(scheduler.NewRealTimeBridge(time.Second), a.dispatch, scheduler.WithLogger(a.runtime.Logger))
	if deps.Permissions != nil && tmpl.Permission.Mode != "" {
		deps.Permissions.SetAgentMode(id, permission.Mode(tmpl.Permission.Mode))
		if len(tmpl.Permission.RequireApprovalTools) > 0 {
			policy := permission.DefaultPolicy()
			policy.RequireApproval = tmpl.Permission.RequireApprovalTools
			deps.Permissions.SetAgentPolicy(id, policy)
		}
	}
	if tmpl.Todo.ReminderOnStart {
		a.inbox.Push(InboxItem{Kind: InboxReminder, Text: "startup reminder"})
	}
	if tmpl.Todo.Enabled && tmpl.Todo.RemindIntervalSteps > 0 {
		a.scheduler.EverySteps(tmpl.Todo.RemindIntervalSteps, func(stepCount int) {
			a.inbox.Push(InboxItem{Kind: InboxReminder, Text: "todo reminder"})
		})
	}
	return a
}

func (a *Agent) start() {
	go a.actorLoop()
	_ = a.scheduler.Start(context.Background())
}

// actorLoop is the single goroutine that owns every mutation of agent
// state, per spec §5's single-logical-actor requirement.
func (a *Agent) actorLoop() {
	for {
		select {
		case task := <-a.actorCh:
			task()
		case <-a.done:
			return
		}
	}
}

// dispatch enqueues task onto the actor loop without waiting for it to
// run; used by the Scheduler so callbacks never run concurrently with a
// model turn.
func (a *Agent) dispatch(task func()) {
	select {
	case a.actorCh <- task:
	case <-a.done:
	}
}

// submit enqueues task and blocks until it has run on the actor loop, or
// until the Agent is disposed first — a TTL-expiry callback (scheduled by
// pauseToolCall via time.AfterFunc) can fire after Dispose has already
// closed a.done, and without this it would hang forever waiting on a
// doneCh that dispatch's own disposal branch will never close.
func (a *Agent) submit(task func()) {
	doneCh := make(chan struct{})
	a.dispatch(func() {
		task()
		close(doneCh)
	})
	select {
	case <-doneCh:
	case <-a.done:
	}
}

// Dispose stops the actor loop and scheduler and releases the sandbox,
// per spec §3's "agent disposed releases sandbox only — durable state
// survives" lifecycle rule.
func (a *Agent) Dispose() error {
	a.mu.Lock()
	if a.disposed {
		a.mu.Unlock()
		return nil
	}
	a.disposed = true
	a.mu.Unlock()

	a.scheduler.Stop()
	close(a.done)
	if a.deps.Sandbox != nil {
		return a.deps.Sandbox.Dispose()
	}
	return nil
}

// Send enqueues a message onto the inbox without blocking, per spec
// §4.1. It does not itself advance the loop; the next idle Chat call (or
// an internal auto-drive, left to callers to invoke) consumes it.
func (a *Agent) Send(kind InboxKind, text string) {
	a.inbox.Push(InboxItem{Kind: kind, Text: text})
}

// Mention enqueues a Room-originated @alias message onto the inbox,
// tagging it with the sender's alias, per spec §4.7.
func (a *Agent) Mention(fromAlias, text string) {
	a.inbox.Push(InboxItem{Kind: InboxMention, Text: text, FromAlias: fromAlias})
	a.publish(context.Background(), model.ChannelControl, model.Event{
		Type: model.EventRoomMention, FromAlias: fromAlias,
	})
}

// InboxLen reports how many items are queued on the agent's inbox,
// awaiting the next idle Chat call to drain them.
func (a *Agent) InboxLen() int {
	return a.inbox.Len()
}

// ID returns the agent's stable identifier.
func (a *Agent) ID() model.AgentID {
	return a.id
}

// LastMessages returns a copy of the agent's in-memory conversation,
// for callers (tests, monitoring) that need to inspect what actually
// reached the model without taking a durable snapshot.
func (a *Agent) LastMessages() []model.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]model.Message(nil), a.messages...)
}

// publish appends env to the durable store and fans it out on the
// eventbus, stamping AgentID/Channel/Timestamp/Seq bookkeeping.
func (a *Agent) publish(ctx context.Context, ch model.Channel, ev model.Event) {
	env := model.EventEnvelope{AgentID: a.id, Channel: ch, Timestamp: time.Now(), Event: ev}
	published, err := a.deps.Bus.Publish(ctx, env)
	if err != nil {
		a.runtime.Logger.Error("agent: publish failed", "agent_id", a.id, "channel", ch, "err", err)
		return
	}
	a.mu.Lock()
	a.lastSeq[ch] = published.Seq
	a.mu.Unlock()
}

func (a *Agent) putToolRecord(r *model.ToolCallRecord) {
	a.mu.Lock()
	a.toolRecords[r.ID] = r
	a.mu.Unlock()
}

// Subscribe is a thin wrapper over the eventbus for this agent's events.
// A nil sinceSeq tails only future events; a non-nil sinceSeq (including
// a pointer to 0) replays the durable log from that point first.
func (a *Agent) Subscribe(ctx context.Context, sinceSeq *uint64) (string, <-chan model.EventEnvelope, error) {
	return a.deps.Bus.Subscribe(ctx, a.id, sinceSeq, 0)
}

// Unsubscribe stops a previously-created subscription.
func (a *Agent) Unsubscribe(id string) {
	a.deps.Bus.Unsubscribe(id)
}

// pausedRound captures a tool round suspended on one or more
// ModeApproval pending calls: the blocks already finished, the calls
// still awaiting a decision, and enough of the original request list to
// rebuild the tool_result message in emission order once every pending
// call has settled.
type pausedRound struct {
	round     int
	toolCalls []toolCallRequest
	blocks    map[string]model.ContentBlock
	pending   map[string]*pendingToolCall
}

// Decide resolves a pending permission request, per spec §4.3. Resolving
// the Engine's Request is only half the job: if callID belongs to the
// Agent's current pausedRound, Decide also finishes that tool call and,
// once every pending call in the round has settled, resumes runRounds —
// surfacing the paused chat() call's continuation the way spec §4.1's
// paused-then-decide flow requires.
func (a *Agent) Decide(ctx context.Context, callID string, allow bool, note string) error {
	decision := permission.DecisionDenied
	if allow {
		decision = permission.DecisionAllowed
	}
	requestID := callID + "-approval"
	if err := a.deps.Permissions.Resolve(ctx, requestID, decision, "caller"); err != nil {
		return err
	}
	a.publish(ctx, model.ChannelControl, model.Event{
		Type: model.EventPermissionDecided, PermissionCallID: callID, Decision: string(decision), Note: note,
	})
	a.submit(func() {
		a.resumePendingToolCall(ctx, callID, allow, note)
	})
	return nil
}

// resumePendingToolCall finishes the pendingToolCall named callID inside
// a.pausedRound (a no-op if there is no paused round, or none pending
// under that id — e.g. a stale TTL firing after a human already decided
// it). Once every pending call in the round has a result, it assembles
// the round's tool_result message and resumes runRounds from the next
// round. Always runs on the actor goroutine, via submit.
func (a *Agent) resumePendingToolCall(ctx context.Context, callID string, allow bool, note string) {
	pr := a.pausedRound
	if pr == nil {
		return
	}
	pending, ok := pr.pending[callID]
	if !ok {
		return
	}
	pending.timer.Stop()
	delete(pr.pending, callID)

	var block model.ContentBlock
	if allow {
		if err := pending.record.Advance(model.ToolStatePermitted); err != nil {
			out := model.ToolOutcome{Content: err.Error(), IsError: true}
			_ = pending.record.Complete(out)
			block = a.finishToolCall(ctx, pending.req, pending.record, out, true)
		} else {
			block = a.executeTool(ctx, pending.req, pending.record, pending.desc, pending.known)
		}
	} else {
		reason := note
		if reason == "" {
			reason = "denied by approval decision"
		}
		block = a.denyToolCall(ctx, pending.req, pending.record, reason)
	}
	pr.blocks[callID] = block

	if len(pr.pending) > 0 {
		// Other calls in this round are still pending; stay paused.
		return
	}

	a.pausedRound = nil
	toolResultMsg := model.Message{ID: model.NewID(), Role: model.RoleUser, Content: orderedResultBlocks(pr.toolCalls, pr.blocks), CreatedAt: time.Now()}
	a.appendMessage(ctx, toolResultMsg)
	a.advanceStep()
	a.runRounds(ctx, pr.round+1)
}

// AgentStatus reports the agent's last known per-channel bookmark.
type AgentStatus struct {
	LastBookmark map[model.Channel]uint64
	InFlight     []string
}

// Status returns the agent's current bookmarks and any non-terminal tool
// calls.
func (a *Agent) Status() AgentStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	bookmarks := make(map[model.Channel]uint64, len(a.lastSeq))
	for k, v := range a.lastSeq {
		bookmarks[k] = v
	}
	var inFlight []string
	for id, r := range a.toolRecords {
		if !r.IsTerminal() {
			inFlight = append(inFlight, id)
		}
	}
	return AgentStatus{LastBookmark: bookmarks, InFlight: inFlight}
}

// Schedule exposes the agent's Scheduler for registering reminders.
func (a *Agent) Schedule() *scheduler.Scheduler {
	return a.scheduler
}

// GetTodos returns a snapshot of the agent's todo list.
func (a *Agent) GetTodos() []model.Todo {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]model.Todo, len(a.todos))
	copy(out, a.todos)
	return out
}

// SetTodos replaces the agent's todo list wholesale, enforcing the
// at-most-one-in_progress invariant (spec §3).
func (a *Agent) SetTodos(ctx context.Context, todos []model.Todo) error {
	inProgress := 0
	for _, t := range todos {
		if t.Status == model.TodoInProgress {
			inProgress++
		}
	}
	if inProgress > 1 {
		return fmt.Errorf("agent: at most one todo may be in_progress, got %d", inProgress)
	}
	a.submit(func() {
		a.mu.Lock()
		a.todos = todos
		a.mu.Unlock()
		a.publish(ctx, model.ChannelMonitor, model.Event{Type: model.EventTodoChanged})
	})
	return nil
}

// UpdateTodo mutates a single todo by ID.
func (a *Agent) UpdateTodo(ctx context.Context, id string, mutate func(*model.Todo)) error {
	var found bool
	a.submit(func() {
		a.mu.Lock()
		for i := range a.todos {
			if a.todos[i].ID == id {
				mutate(&a.todos[i])
				a.todos[i].UpdatedAt = time.Now()
				found = true
				break
			}
		}
		a.mu.Unlock()
		if found {
			a.publish(ctx, model.ChannelMonitor, model.Event{Type: model.EventTodoChanged, TodoID: id})
		}
	})
	if !found {
		return fmt.Errorf("agent: todo %q not found", id)
	}
	return nil
}

// DeleteTodo removes a single todo by ID.
func (a *Agent) DeleteTodo(ctx context.Context, id string) error {
	var found bool
	a.submit(func() {
		a.mu.Lock()
		for i := range a.todos {
			if a.todos[i].ID == id {
				a.todos = append(a.todos[:i], a.todos[i+1:]...)
				found = true
				break
			}
		}
		a.mu.Unlock()
		if found {
			a.publish(ctx, model.ChannelMonitor, model.Event{Type: model.EventTodoChanged, TodoID: id})
		}
	})
	if !found {
		return fmt.Errorf("agent: todo %q not found", id)
	}
	return nil
}

// Snapshot dumps the agent's full durable state under a fresh snapshot
// ID, per spec §4.6.
func (a *Agent) Snapshot(ctx context.Context) (string, error) {
	var snapID string
	var err error
	a.submit(func() {
		a.mu.Lock()
		snap := model.Snapshot{
			AgentID:    a.id,
			SnapshotID: model.NewID(),
			CreatedAt:  time.Now(),
			Template:   a.templateSnapshotLocked(),
			Messages:   append([]model.Message(nil), a.messages...),
			Todos:      append([]model.Todo(nil), a.todos...),
			LastSeq:    copySeq(a.lastSeq),
		}
		for _, r := range a.toolRecords {
			snap.ToolRecords = append(snap.ToolRecords, r)
		}
		a.mu.Unlock()

		if saveErr := a.deps.Store.SaveSnapshot(ctx, snap); saveErr != nil {
			err = saveErr
			return
		}
		snapID = snap.SnapshotID
		a.publish(ctx, model.ChannelMonitor, model.Event{Type: model.EventSnapshotTaken, SnapshotID: snapID})
	})
	return snapID, err
}

func (a *Agent) templateSnapshotLocked() model.TemplateSnapshot {
	return model.TemplateSnapshot{
		ID:              a.template.ID,
		SystemPrompt:    a.template.SystemPrompt,
		Tools:           append([]string(nil), a.template.Tools...),
		PermissionMode:  a.template.Permission.Mode,
		RequireApproval: append([]string(nil), a.template.Permission.RequireApprovalTools...),
	}
}

func copySeq(m map[model.Channel]uint64) map[model.Channel]uint64 {
	out := make(map[model.Channel]uint64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Fork creates a new Agent with a fresh ID whose messages, todos, and
// tool records are deep-copied from the source's current state, per
// spec §4.7. Events are fresh — nothing is replayed from the source's
// event log. Per the fork-time decision that pending/running tool calls
// are sealed in the fork and never carried live, any copied record not
// already in a terminal state is sealed (mirroring crash resume) before
// the forked agent starts, so its message log never carries an unpaired
// tool_use into a new actor loop with nothing executing it.
func (a *Agent) Fork(ctx context.Context, newID model.AgentID) (*Agent, error) {
	a.mu.Lock()
	messages := append([]model.Message(nil), a.messages...)
	todos := append([]model.Todo(nil), a.todos...)
	records := make(map[string]*model.ToolCallRecord, len(a.toolRecords))
	for id, r := range a.toolRecords {
		cp := *r
		records[id] = &cp
	}
	a.mu.Unlock()

	_, sealedBlocks := sealNonTerminalRecords(records, "sealed on fork")
	if len(sealedBlocks) > 0 {
		messages = append(messages, model.Message{
			ID: model.NewID(), Role: model.RoleUser, Content: sealedBlocks, CreatedAt: time.Now(),
		})
	}

	forked := newAgent(newID, a.template, a.runtime, a.deps)
	forked.messages = messages
	forked.todos = todos
	forked.toolRecords = records
	forked.start()

	a.publish(ctx, model.ChannelControl, model.Event{Type: model.EventForkCreated})
	return forked, nil
}

// DelegateTask runs a one-shot sub-agent from templateID against prompt
// and returns its final text, per spec §6.5's subagents option. The
// sub-agent is disposed after the call completes.
func (a *Agent) DelegateTask(ctx context.Context, registry *TemplateRegistry, templateID, prompt string, deps Deps) ChatResult {
	tmpl, ok := registry.Get(templateID)
	if !ok {
		return ChatResult{Status: ChatError, Err: ErrTemplateNotFound}
	}
	sub, err := Create(ctx, model.AgentID(model.NewID()), tmpl, DefaultRuntimeOptions(), deps)
	if err != nil {
		return ChatResult{Status: ChatError, Err: err}
	}
	defer sub.Dispose()
	return sub.Chat(ctx, prompt)
}

// TemplateRegistry holds named Templates available for DelegateTask and
// Room member creation.
type TemplateRegistry struct {
	mu        sync.RWMutex
	templates map[string]Template
}

// NewTemplateRegistry creates an empty TemplateRegistry.
func NewTemplateRegistry() *TemplateRegistry {
	return &TemplateRegistry{templates: make(map[string]Template)}
}

// Register adds or replaces a Template by ID.
func (r *TemplateRegistry) Register(t Template) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.templates[t.ID] = t
}

// Get looks up a Template by ID.
func (r *TemplateRegistry) Get(id string) (Template, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.templates[id]
	return t, ok
}

// providerToolSpecs builds the provider.ToolSpec list for the template's
// Tools from the registry, used by Chat to advertise the allowed tools.
func (a *Agent) providerToolSpecs() []provider.ToolSpec {
	var specs []provider.ToolSpec
	for _, name := range a.template.Tools {
		t, ok := a.deps.Tools.Get(name)
		if !ok {
			continue
		}
		d := t.Descriptor()
		specs = append(specs, provider.ToolSpec{Name: d.Name, Description: d.Description, Schema: []byte(d.Schema)})
	}
	return specs
}
