// Package room implements the multi-agent Room coordinator of spec §4.7:
// an alias-keyed rendezvous where agents exchange mention-routed
// messages, plus a Pool that bounds how many agents may exist
// concurrently. Grounded on the teacher's internal/multiagent
// Orchestrator/Router, generalized from its supervisor/handoff-tool
// pattern down to the spec's simpler join/say/mention model, with the
// teacher's priority-sorted rule matching kept as an optional
// capability-routing supplement alongside mention routing.
package room

import (
	"fmt"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/nexusruntime/agentrt/internal/agent"
	"github.com/nexusruntime/agentrt/pkg/model"
)

// TranscriptEntry is one message recorded in a Room's ordered history.
type TranscriptEntry struct {
	FromAlias string
	Text      string
	At        time.Time
}

var mentionPattern = regexp.MustCompile(`@([A-Za-z0-9_-]+)`)

// RoutingRule supplements mention routing with a capability match: any
// Say whose text matches Pattern is also delivered to TargetAlias even
// without an explicit @mention. Modeled on the teacher's HandoffRule/
// Router priority-sort, trimmed to the one field Say needs.
type RoutingRule struct {
	Pattern     *regexp.Regexp
	TargetAlias string
	Priority    int
}

// RoutingPolicy is an ordered set of RoutingRules. Mention routing
// (@alias) always applies regardless of whether a Room carries one.
type RoutingPolicy struct {
	Rules []RoutingRule
}

// Room is a named rendezvous where multiple agents exchange
// mention-routed messages, keyed by alias rather than AgentID so a
// human or a routing rule can address a stable name across an agent's
// fork/resume lifecycle.
type Room struct {
	mu         sync.Mutex
	members    map[string]model.AgentID
	agents     map[string]*agent.Agent
	transcript []TranscriptEntry
	routing    *RoutingPolicy
}

// New creates an empty Room, optionally with a capability-routing
// policy layered on top of mention routing.
func New(routing *RoutingPolicy) *Room {
	return &Room{
		members: make(map[string]model.AgentID),
		agents:  make(map[string]*agent.Agent),
		routing: routing,
	}
}

// Join registers a under alias, replacing any prior member at that
// alias (its transcript history is unaffected).
func (r *Room) Join(alias string, id model.AgentID, a *agent.Agent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.members[alias] = id
	r.agents[alias] = a
}

// Leave removes alias from the Room's membership.
func (r *Room) Leave(alias string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.members, alias)
	delete(r.agents, alias)
}

// Members returns a snapshot of alias -> AgentID.
func (r *Room) Members() map[string]model.AgentID {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]model.AgentID, len(r.members))
	for k, v := range r.members {
		out[k] = v
	}
	return out
}

// Transcript returns a copy of the Room's ordered message history.
func (r *Room) Transcript() []TranscriptEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]TranscriptEntry, len(r.transcript))
	copy(out, r.transcript)
	return out
}

// Say appends text to the transcript under fromAlias and delivers it as
// a mention to every other member it addresses: every @alias token the
// text contains, plus (if this Room carries a RoutingPolicy) every rule
// matching text, evaluated highest-priority first. The sender's own
// feed never receives its own message back.
func (r *Room) Say(fromAlias, text string) error {
	r.mu.Lock()
	if _, ok := r.members[fromAlias]; !ok {
		r.mu.Unlock()
		return fmt.Errorf("room: %q is not a member", fromAlias)
	}
	r.transcript = append(r.transcript, TranscriptEntry{FromAlias: fromAlias, Text: text, At: time.Now()})

	targets := map[string]bool{}
	for _, m := range mentionPattern.FindAllStringSubmatch(text, -1) {
		alias := m[1]
		if alias == fromAlias {
			continue
		}
		if _, ok := r.members[alias]; ok {
			targets[alias] = true
		}
	}
	if r.routing != nil {
		rules := append([]RoutingRule(nil), r.routing.Rules...)
		sort.Slice(rules, func(i, j int) bool { return rules[i].Priority > rules[j].Priority })
		for _, rule := range rules {
			if rule.TargetAlias == fromAlias || rule.Pattern == nil {
				continue
			}
			if _, ok := r.members[rule.TargetAlias]; !ok {
				continue
			}
			if rule.Pattern.MatchString(text) {
				targets[rule.TargetAlias] = true
			}
		}
	}

	recipients := make([]*agent.Agent, 0, len(targets))
	for alias := range targets {
		recipients = append(recipients, r.agents[alias])
	}
	r.mu.Unlock()

	for _, a := range recipients {
		a.Mention(fromAlias, text)
	}
	return nil
}
