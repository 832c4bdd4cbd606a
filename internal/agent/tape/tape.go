// Package tape records and replays ModelProvider turns so the durable
// orchestrator (resume, snapshot/truncate, compaction) can be exercised
// deterministically without a live model behind it. A Tape is a JSON
// document of recorded provider.CompletionRequest/Chunk pairs; Recorder
// wraps a real provider.ModelProvider to produce one, Replayer implements
// provider.ModelProvider to play one back turn by turn.
package tape

import (
	"encoding/json"
	"time"

	"github.com/nexusruntime/agentrt/pkg/provider"
)

// Tape is a recorded sequence of model turns for one conversation.
type Tape struct {
	Version      string         `json:"version"`
	CreatedAt    time.Time      `json:"created_at"`
	ProviderName string         `json:"provider_name,omitempty"`
	Turns        []Turn         `json:"turns"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// Turn is one recorded request/response round trip.
type Turn struct {
	Index    int                       `json:"index"`
	Request  provider.CompletionRequest `json:"request"`
	Chunks   []provider.Chunk          `json:"chunks"`
	Duration time.Duration             `json:"duration"`
}

// New creates an empty tape attributed to providerName.
func New(providerName string) *Tape {
	return &Tape{
		Version:      "1",
		CreatedAt:    time.Now(),
		ProviderName: providerName,
		Metadata:     make(map[string]any),
	}
}

// AddTurn appends turn, assigning its Index from the tape's current length.
func (t *Tape) AddTurn(turn Turn) {
	turn.Index = len(t.Turns)
	t.Turns = append(t.Turns, turn)
}

// TotalTurns returns the number of recorded turns.
func (t *Tape) TotalTurns() int { return len(t.Turns) }

// Marshal serializes the tape to indented JSON.
func (t *Tape) Marshal() ([]byte, error) {
	return json.MarshalIndent(t, "", "  ")
}

// Unmarshal parses a tape previously produced by Marshal.
func Unmarshal(data []byte) (*Tape, error) {
	var t Tape
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// Clone returns a deep copy, used by Replayer so replay never mutates
// the tape a caller may still hold a reference to.
func (t *Tape) Clone() *Tape {
	data, err := t.Marshal()
	if err != nil {
		clone := *t
		clone.Turns = append([]Turn(nil), t.Turns...)
		return &clone
	}
	clone, err := Unmarshal(data)
	if err != nil {
		clone = &Tape{}
		*clone = *t
		clone.Turns = append([]Turn(nil), t.Turns...)
	}
	return clone
}
