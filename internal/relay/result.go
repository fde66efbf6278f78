// ABOUTME: Result of one round trip and its lifecycle states
// ABOUTME: Shared by the accumulator, the session and every surface renderer

package relay

import (
	"encoding/json"
	"time"

	"github.com/2389/coven-relay/internal/stream"
)

// State is where a round trip is in its lifecycle.
type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateStreaming  State = "streaming"
	StateComplete   State = "complete"
	StateFailed     State = "failed"
)

// ChartSpec is one parsed chart specification.
type ChartSpec struct {
	Spec         json.RawMessage `json:"spec"`
	ToolUseID    string          `json:"tool_use_id,omitempty"`
	ContentIndex int             `json:"content_index"`
}

// Result is everything a surface needs to render an answer.
type Result struct {
	State    State  `json:"state"`
	ThreadID string `json:"thread_id"`
	Agent    string `json:"agent"`
	Selector string `json:"selector"`

	Answer         string            `json:"answer"`
	Thinking       string            `json:"thinking,omitempty"`
	ToolsUsed      []string          `json:"tools_used"`
	GeneratedQuery string            `json:"generated_query,omitempty"`
	Table          *stream.ResultSet `json:"table,omitempty"`
	Charts         []ChartSpec       `json:"charts"`
	ConversationID string            `json:"conversation_id,omitempty"`
	MessageID      string            `json:"message_id,omitempty"`

	// AgentError is the message of an error event sent inside the stream.
	AgentError string `json:"agent_error,omitempty"`

	Events    int           `json:"events"`
	Ignored   int           `json:"ignored"`
	Discarded int           `json:"discarded"`
	Elapsed   time.Duration `json:"elapsed"`

	// FirstExchange is true when the thread had no history before this
	// round trip.
	FirstExchange bool `json:"first_exchange"`

	Err error `json:"-"`
}

// Failed reports whether the round trip ended in StateFailed.
func (r *Result) Failed() bool {
	return r.State == StateFailed
}

// Empty reports whether a completed round trip produced no answer text.
func (r *Result) Empty() bool {
	return r.State == StateComplete && r.Answer == ""
}
