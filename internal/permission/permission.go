// Package permission implements the four-mode permission engine that
// gates every tool call before it executes: auto, readOnly, approval,
// and plan. The pattern-matching policy (allow/deny/require-approval
// lists, safe bins, mcp:*/prefix*/*suffix globs) and the pending-request
// persistence shape are both lifted from the teacher's ApprovalChecker.
package permission

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nexusruntime/agentrt/pkg/model"
)

// Mode selects the permission engine's overall behavior for an agent.
type Mode string

const (
	// ModeAuto allows every tool call without a policy check.
	ModeAuto Mode = "auto"
	// ModeReadOnly immediately denies any tool whose descriptor declares
	// Mutates=true; all other tools fall through to the normal policy.
	ModeReadOnly Mode = "readOnly"
	// ModeApproval runs the full allow/deny/require-approval policy. A
	// pending decision is returned immediately with a persisted Request;
	// the caller holds the call until Resolve records a decision or the
	// request's TTL expires.
	ModeApproval Mode = "approval"
	// ModePlan allows PlanOnly tools through; every other tool is queued
	// as Pending and never auto-resolves — the caller must not execute
	// it while the agent is in plan mode.
	ModePlan Mode = "plan"
)

// Decision is the outcome of a permission check.
type Decision string

const (
	DecisionAllowed Decision = "allowed"
	DecisionDenied  Decision = "denied"
	DecisionPending Decision = "pending"
)

// Policy configures the pattern-matching rules consulted once a call
// isn't resolved outright by Mode.
type Policy struct {
	Allowlist       []string
	Denylist        []string
	RequireApproval []string
	SafeBins        []string
	DefaultDecision Decision
	RequestTTL      time.Duration
}

// DefaultPolicy mirrors the teacher's DefaultApprovalPolicy: a handful of
// read-only shell tools are pre-approved, everything else queues.
func DefaultPolicy() Policy {
	return Policy{
		SafeBins:        []string{"cat", "head", "tail", "wc", "sort", "uniq", "grep"},
		DefaultDecision: DecisionPending,
		RequestTTL:      5 * time.Minute,
	}
}

// Request is a pending approval awaiting a human or automated Decide call.
type Request struct {
	ID         string
	ToolCallID string
	ToolName   string
	AgentID    model.AgentID
	Reason     string
	CreatedAt  time.Time
	ExpiresAt  time.Time
	Decision   Decision
	DecidedAt  time.Time
	DecidedBy  string
}

// Store persists pending Requests so approval state survives a restart.
type Store interface {
	Create(ctx context.Context, req *Request) error
	Get(ctx context.Context, id string) (*Request, error)
	Update(ctx context.Context, req *Request) error
	ListPending(ctx context.Context, agentID model.AgentID) ([]*Request, error)
}

// Engine evaluates tool calls against a per-agent Mode and Policy. A
// ModeApproval call that lands on Pending never blocks the caller — it
// persists a Request and returns Pending immediately, leaving the caller
// (the agent orchestrator) to surface the pause and resume once Resolve
// is called, per spec §4.1's paused chat() status.
type Engine struct {
	mu        sync.RWMutex
	modes     map[model.AgentID]Mode
	policies  map[model.AgentID]Policy
	defMode   Mode
	defPolicy Policy

	store Store
}

// NewEngine creates an Engine with defMode/defPolicy applied to any agent
// without an explicit override.
func NewEngine(defMode Mode, defPolicy Policy, store Store) *Engine {
	if defPolicy.DefaultDecision == "" {
		defPolicy = DefaultPolicy()
	}
	return &Engine{
		modes:     make(map[model.AgentID]Mode),
		policies:  make(map[model.AgentID]Policy),
		defMode:   defMode,
		defPolicy: defPolicy,
		store:     store,
	}
}

// SetAgentMode overrides the permission mode for a single agent.
func (e *Engine) SetAgentMode(agentID model.AgentID, mode Mode) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.modes[agentID] = mode
}

// SetAgentPolicy overrides the pattern-matching policy for a single agent.
func (e *Engine) SetAgentPolicy(agentID model.AgentID, p Policy) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.policies[agentID] = p
}

func (e *Engine) modeFor(agentID model.AgentID) Mode {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if m, ok := e.modes[agentID]; ok {
		return m
	}
	return e.defMode
}

func (e *Engine) policyFor(agentID model.AgentID) Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if p, ok := e.policies[agentID]; ok {
		return p
	}
	return e.defPolicy
}

// checkPolicy evaluates the pattern-matching rules only, independent of
// Mode. Returns the decision and a short reason string.
func checkPolicy(p Policy, desc model.ToolDescriptor) (Decision, string) {
	if matchesPattern(p.Denylist, desc.Name) {
		return DecisionDenied, "tool in denylist"
	}
	if matchesPattern(p.Allowlist, desc.Name) {
		return DecisionAllowed, "tool in allowlist"
	}
	if matchesPattern(p.SafeBins, desc.Name) {
		return DecisionAllowed, "tool is safe bin"
	}
	if matchesPattern(p.RequireApproval, desc.Name) {
		return DecisionPending, "tool requires approval"
	}
	if p.DefaultDecision == "" {
		return DecisionPending, "default policy"
	}
	return p.DefaultDecision, "default policy"
}

// Decide evaluates whether a tool call should run. For a ModeApproval
// agent where the policy returns Pending, Decide persists a Request and
// returns DecisionPending immediately — it never blocks the caller. The
// caller (the agent orchestrator) owns surfacing the pause and the TTL,
// and later calls Resolve once a human or automated decision arrives.
func (e *Engine) Decide(ctx context.Context, agentID model.AgentID, toolCallID string, desc model.ToolDescriptor) (Decision, string, error) {
	mode := e.modeFor(agentID)

	switch mode {
	case ModeAuto:
		return DecisionAllowed, "auto mode", nil

	case ModeReadOnly:
		if desc.Mutates {
			return DecisionDenied, "readOnly mode denies mutating tool", nil
		}
		d, reason := checkPolicy(e.policyFor(agentID), desc)
		if d == DecisionPending {
			// readOnly never blocks on human approval; treat unresolved
			// policy rules as allowed since the tool cannot mutate state.
			return DecisionAllowed, "readOnly mode allows non-mutating tool", nil
		}
		return d, reason, nil

	case ModePlan:
		if desc.PlanOnly {
			return DecisionAllowed, "plan-only tool allowed in plan mode", nil
		}
		return DecisionPending, "plan mode queues non-plan-only tool", nil

	case ModeApproval:
		d, reason := checkPolicy(e.policyFor(agentID), desc)
		if d != DecisionPending {
			return d, reason, nil
		}
		if err := e.createRequest(ctx, agentID, toolCallID, desc, reason); err != nil {
			return DecisionDenied, "", fmt.Errorf("permission: create request: %w", err)
		}
		return DecisionPending, reason, nil

	default:
		return DecisionDenied, fmt.Sprintf("unknown permission mode %q", mode), nil
	}
}

// createRequest persists a pending Request for toolCallID. The caller
// (runToolLifecycle) is responsible for the TTL: the Engine itself never
// schedules anything, since only the Agent can resume a paused turn.
func (e *Engine) createRequest(ctx context.Context, agentID model.AgentID, toolCallID string, desc model.ToolDescriptor, reason string) error {
	policy := e.policyFor(agentID)
	ttl := policy.RequestTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	req := &Request{
		ID:         toolCallID + "-approval",
		ToolCallID: toolCallID,
		ToolName:   desc.Name,
		AgentID:    agentID,
		Reason:     reason,
		CreatedAt:  time.Now(),
		ExpiresAt:  time.Now().Add(ttl),
		Decision:   DecisionPending,
	}
	if e.store == nil {
		return nil
	}
	return e.store.Create(ctx, req)
}

// PolicyFor exposes the effective policy for agentID, used by callers
// that need the RequestTTL to schedule an auto-deny outside the Engine.
func (e *Engine) PolicyFor(agentID model.AgentID) Policy {
	return e.policyFor(agentID)
}

// Resolve records a human (or automated) decision for a pending request.
// Calling Resolve twice on the same request is a no-op the second time —
// idempotent by design since a UI retry or a duplicated webhook delivery
// must not overwrite an already-decided request.
func (e *Engine) Resolve(ctx context.Context, requestID string, decision Decision, decidedBy string) error {
	if e.store == nil {
		return nil
	}
	req, err := e.store.Get(ctx, requestID)
	if err != nil {
		return err
	}
	if req == nil || req.Decision != DecisionPending {
		return nil
	}
	req.Decision = decision
	req.DecidedAt = time.Now()
	req.DecidedBy = decidedBy
	return e.store.Update(ctx, req)
}

// matchesPattern reports whether toolName matches any of patterns,
// supporting exact match, "*", "mcp:*", "prefix*", and "*suffix".
func matchesPattern(patterns []string, toolName string) bool {
	for _, pattern := range patterns {
		if pattern == "" {
			continue
		}
		if pattern == "*" {
			return true
		}
		if pattern == toolName {
			return true
		}
		if pattern == "mcp:*" && strings.HasPrefix(toolName, "mcp:") {
			return true
		}
		if len(pattern) > 1 && pattern[len(pattern)-1] == '*' {
			if strings.HasPrefix(toolName, pattern[:len(pattern)-1]) {
				return true
			}
		}
		if len(pattern) > 1 && pattern[0] == '*' {
			if strings.HasSuffix(toolName, pattern[1:]) {
				return true
			}
		}
	}
	return false
}
