package agent

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/nexusruntime/agentrt/internal/eventbus"
	"github.com/nexusruntime/agentrt/internal/permission"
	"github.com/nexusruntime/agentrt/internal/store"
	"github.com/nexusruntime/agentrt/internal/toolregistry"
	"github.com/nexusruntime/agentrt/pkg/model"
	"github.com/nexusruntime/agentrt/pkg/provider"
)

// scriptedProvider replays one []provider.Chunk slice per call to Stream,
// in order, standing in for a real ModelProvider the way the teacher's
// tape package replays a recorded conversation.
type scriptedProvider struct {
	turns [][]provider.Chunk
	next  int
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Complete(ctx context.Context, req provider.CompletionRequest) (provider.CompletionResult, error) {
	return provider.CompletionResult{}, nil
}

func (p *scriptedProvider) Stream(ctx context.Context, req provider.CompletionRequest) (<-chan provider.Chunk, <-chan error) {
	out := make(chan provider.Chunk, 16)
	errc := make(chan error, 1)
	var turn []provider.Chunk
	if p.next < len(p.turns) {
		turn = p.turns[p.next]
		p.next++
	}
	go func() {
		defer close(out)
		for _, c := range turn {
			out <- c
		}
	}()
	return out, errc
}

func textTurn(text string) []provider.Chunk {
	return []provider.Chunk{
		{Type: provider.ChunkMessageStart},
		{Type: provider.ChunkContentBlockStart, Index: 0, ContentBlock: &model.ContentBlock{Type: model.BlockText}},
		{Type: provider.ChunkContentBlockDelta, Index: 0, Delta: &provider.Delta{Type: provider.DeltaText, Text: text}},
		{Type: provider.ChunkContentBlockStop, Index: 0},
		{Type: provider.ChunkMessageStop},
	}
}

func toolCallTurn(id, name, argsJSON string) []provider.Chunk {
	return []provider.Chunk{
		{Type: provider.ChunkMessageStart},
		{Type: provider.ChunkContentBlockStart, Index: 0, ContentBlock: &model.ContentBlock{Type: model.BlockToolUse, ToolUseID: id, ToolName: name}},
		{Type: provider.ChunkContentBlockDelta, Index: 0, Delta: &provider.Delta{Type: provider.DeltaInputJSON, PartialJSON: argsJSON}},
		{Type: provider.ChunkContentBlockStop, Index: 0},
		{Type: provider.ChunkMessageStop},
	}
}

type echoTool struct{}

func (echoTool) Descriptor() model.ToolDescriptor {
	return model.ToolDescriptor{Name: "echo", Schema: json.RawMessage(`{"type":"object"}`)}
}

func (echoTool) Execute(ctx context.Context, args json.RawMessage) (model.ToolOutcome, error) {
	return model.ToolOutcome{Content: "echoed: " + string(args)}, nil
}

func testDeps(t *testing.T, p provider.ModelProvider) Deps {
	t.Helper()
	s := store.NewMemory()
	bus := eventbus.New(s, eventbus.Config{})
	tools := toolregistry.New()
	if err := tools.Register(echoTool{}); err != nil {
		t.Fatalf("register tool: %v", err)
	}
	engine := permission.NewEngine(permission.ModeAuto, permission.DefaultPolicy(), permission.NewMemoryStore())
	return Deps{Provider: p, Store: s, Bus: bus, Permissions: engine, Tools: tools}
}

func testTemplate() Template {
	return Template{ID: "test", SystemPrompt: "you are a test agent", Tools: []string{"echo"}, Permission: PermissionConfig{Mode: "auto"}}
}

func TestChatHappyPathTextOnly(t *testing.T) {
	p := &scriptedProvider{turns: [][]provider.Chunk{textTurn("hello there")}}
	deps := testDeps(t, p)
	a, err := Create(context.Background(), model.AgentID("a1"), testTemplate(), DefaultRuntimeOptions(), deps)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	defer a.Dispose()

	result := a.Chat(context.Background(), "hi")
	if result.Status != ChatOK {
		t.Fatalf("expected ChatOK, got %v (err=%v)", result.Status, result.Err)
	}
	if result.Text != "hello there" {
		t.Fatalf("expected text %q, got %q", "hello there", result.Text)
	}
}

func TestChatRunsToolAndContinues(t *testing.T) {
	p := &scriptedProvider{turns: [][]provider.Chunk{
		toolCallTurn("call-1", "echo", `{"msg":"hi"}`),
		textTurn("done"),
	}}
	deps := testDeps(t, p)
	a, err := Create(context.Background(), model.AgentID("a2"), testTemplate(), DefaultRuntimeOptions(), deps)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	defer a.Dispose()

	result := a.Chat(context.Background(), "run the tool")
	if result.Status != ChatOK {
		t.Fatalf("expected ChatOK, got %v (err=%v)", result.Status, result.Err)
	}
	if result.Text != "done" {
		t.Fatalf("expected final text %q, got %q", "done", result.Text)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	record, ok := a.toolRecords["call-1"]
	if !ok {
		t.Fatalf("expected tool call record for call-1")
	}
	if record.State != model.ToolStateCompleted {
		t.Fatalf("expected COMPLETED, got %v", record.State)
	}
}

func TestChatPausesOnApprovalAndDenyCompletesTheTurn(t *testing.T) {
	p := &scriptedProvider{turns: [][]provider.Chunk{
		toolCallTurn("call-2", "echo", `{}`),
	}}
	deps := testDeps(t, p)
	tmpl := testTemplate()
	tmpl.Permission = PermissionConfig{Mode: "approval", RequireApprovalTools: []string{"echo"}}
	a, err := Create(context.Background(), model.AgentID("a3"), tmpl, DefaultRuntimeOptions(), deps)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	defer a.Dispose()

	result := a.Chat(context.Background(), "run the tool")
	if result.Status != ChatPaused {
		t.Fatalf("expected ChatPaused, got %v (err=%v)", result.Status, result.Err)
	}
	if len(result.PermissionIDs) != 1 || result.PermissionIDs[0] != "call-2" {
		t.Fatalf("expected permission id call-2, got %v", result.PermissionIDs)
	}

	a.mu.Lock()
	record, ok := a.toolRecords["call-2"]
	a.mu.Unlock()
	if !ok || record.State != model.ToolStatePending {
		t.Fatalf("expected tool call to remain PENDING while paused, got %+v", record)
	}

	if err := a.Decide(context.Background(), "call-2", false, "denied by reviewer"); err != nil {
		t.Fatalf("Decide() error = %v", err)
	}

	a.mu.Lock()
	record, ok = a.toolRecords["call-2"]
	a.mu.Unlock()
	if !ok {
		t.Fatalf("expected a tool call record for call-2")
	}
	if record.State != model.ToolStateCompleted {
		t.Fatalf("expected COMPLETED after deny, got %v", record.State)
	}
	if record.Outcome == nil || !record.Outcome.IsError {
		t.Fatalf("expected a denied outcome, got %+v", record.Outcome)
	}
}

func TestChatPausesOnApprovalAndAllowResumesTheTurn(t *testing.T) {
	p := &scriptedProvider{turns: [][]provider.Chunk{
		toolCallTurn("call-5", "echo", `{"msg":"hi"}`),
		textTurn("done after approval"),
	}}
	deps := testDeps(t, p)
	tmpl := testTemplate()
	tmpl.Permission = PermissionConfig{Mode: "approval", RequireApprovalTools: []string{"echo"}}
	a, err := Create(context.Background(), model.AgentID("a6"), tmpl, DefaultRuntimeOptions(), deps)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	defer a.Dispose()

	result := a.Chat(context.Background(), "run the tool")
	if result.Status != ChatPaused {
		t.Fatalf("expected ChatPaused, got %v (err=%v)", result.Status, result.Err)
	}

	if err := a.Decide(context.Background(), "call-5", true, "approved by reviewer"); err != nil {
		t.Fatalf("Decide() error = %v", err)
	}

	a.mu.Lock()
	record, ok := a.toolRecords["call-5"]
	n := len(a.messages)
	a.mu.Unlock()
	if !ok {
		t.Fatalf("expected a tool call record for call-5")
	}
	if record.State != model.ToolStateCompleted {
		t.Fatalf("expected COMPLETED after approval, got %v", record.State)
	}
	if record.Outcome == nil || record.Outcome.IsError {
		t.Fatalf("expected a successful outcome after approval, got %+v", record.Outcome)
	}
	// user, assistant(tool_use), tool_result, assistant(final text) == 4.
	if n != 4 {
		t.Fatalf("expected the turn to continue and append the final assistant message, got %d messages", n)
	}
}

func TestChatApprovalTimesOutAndAutoDenies(t *testing.T) {
	p := &scriptedProvider{turns: [][]provider.Chunk{
		toolCallTurn("call-6", "echo", `{}`),
	}}
	deps := testDeps(t, p)
	tmpl := testTemplate()
	tmpl.Permission = PermissionConfig{Mode: "approval", RequireApprovalTools: []string{"echo"}}
	a, err := Create(context.Background(), model.AgentID("a7"), tmpl, DefaultRuntimeOptions(), deps)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	defer a.Dispose()

	deps.Permissions.SetAgentPolicy(model.AgentID("a7"), permission.Policy{
		RequireApproval: []string{"echo"}, DefaultDecision: permission.DecisionPending, RequestTTL: 30 * time.Millisecond,
	})

	result := a.Chat(context.Background(), "run the tool")
	if result.Status != ChatPaused {
		t.Fatalf("expected ChatPaused, got %v (err=%v)", result.Status, result.Err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		a.mu.Lock()
		record, ok := a.toolRecords["call-6"]
		a.mu.Unlock()
		if ok && record.State == model.ToolStateCompleted {
			if record.Outcome == nil || !record.Outcome.IsError {
				t.Fatalf("expected TTL auto-deny to produce an error outcome, got %+v", record.Outcome)
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timed out waiting for the approval TTL to auto-deny call-6")
}

func TestChatDrainsSchedulerReminderIntoSystemReminderBlock(t *testing.T) {
	p := &scriptedProvider{turns: [][]provider.Chunk{
		textTurn("turn one"),
		textTurn("turn two"),
	}}
	deps := testDeps(t, p)
	a, err := Create(context.Background(), model.AgentID("a8"), testTemplate(), DefaultRuntimeOptions(), deps)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	defer a.Dispose()

	if result := a.Chat(context.Background(), "hi"); result.Status != ChatOK {
		t.Fatalf("expected ChatOK for first turn, got %v (err=%v)", result.Status, result.Err)
	}

	a.Send(InboxReminder, "tick")

	if result := a.Chat(context.Background(), ""); result.Status != ChatOK {
		t.Fatalf("expected ChatOK for reminder-driven turn, got %v (err=%v)", result.Status, result.Err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	var found bool
	for _, msg := range a.messages {
		if msg.Role != model.RoleUser {
			continue
		}
		for _, b := range msg.Content {
			if b.Type == model.BlockSystemReminder && b.Text == "tick" {
				found = true
			}
		}
	}
	if !found {
		t.Fatalf("expected a system_reminder block with text %q in the drained turn's user message, got %+v", "tick", a.messages)
	}
}

func TestChatDrainsMentionIntoSystemReminderBlock(t *testing.T) {
	p := &scriptedProvider{turns: [][]provider.Chunk{textTurn("got it")}}
	deps := testDeps(t, p)
	a, err := Create(context.Background(), model.AgentID("a9"), testTemplate(), DefaultRuntimeOptions(), deps)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	defer a.Dispose()

	a.Mention("planner", "hello @dev")

	result := a.Chat(context.Background(), "")
	if result.Status != ChatOK {
		t.Fatalf("expected ChatOK, got %v (err=%v)", result.Status, result.Err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.messages) < 1 || a.messages[0].Role != model.RoleUser {
		t.Fatalf("expected a user message built from the drained mention")
	}
	var found bool
	for _, b := range a.messages[0].Content {
		if b.Type == model.BlockSystemReminder && b.ReminderKind == "mention" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected the drained mention to produce a mention-kind system_reminder block, got %+v", a.messages[0])
	}
}

func TestSetTodosRejectsMultipleInProgress(t *testing.T) {
	p := &scriptedProvider{}
	deps := testDeps(t, p)
	a, err := Create(context.Background(), model.AgentID("a4"), testTemplate(), DefaultRuntimeOptions(), deps)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	defer a.Dispose()

	todos := []model.Todo{
		{ID: "t1", Title: "first", Status: model.TodoInProgress},
		{ID: "t2", Title: "second", Status: model.TodoInProgress},
	}
	if err := a.SetTodos(context.Background(), todos); err == nil {
		t.Fatalf("expected error when setting two in_progress todos")
	}
}

func TestSnapshotAndResumeManual(t *testing.T) {
	p := &scriptedProvider{turns: [][]provider.Chunk{textTurn("first turn")}}
	deps := testDeps(t, p)
	id := model.AgentID("a5")
	a, err := Create(context.Background(), id, testTemplate(), DefaultRuntimeOptions(), deps)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if result := a.Chat(context.Background(), "hi"); result.Status != ChatOK {
		t.Fatalf("expected ChatOK, got %v", result.Status)
	}
	if _, err := a.Snapshot(context.Background()); err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	a.Dispose()

	resumed, err := Resume(context.Background(), id, testTemplate(), DefaultRuntimeOptions(), deps, ResumeManual)
	if err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	defer resumed.Dispose()

	resumed.mu.Lock()
	n := len(resumed.messages)
	resumed.mu.Unlock()
	if n != 2 {
		t.Fatalf("expected 2 messages restored (user + assistant), got %d", n)
	}
}
