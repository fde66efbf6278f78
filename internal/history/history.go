// ABOUTME: Conversation message model, sliding-window trimming and the Store interface
// ABOUTME: Shared by every history backend and by the agent API request builder

package history

import (
	"context"
	"strings"
)

// DefaultMaxMessages is the per-thread window used when none is configured.
const DefaultMaxMessages = 10

// Role identifies who produced a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ContentBlock is one piece of message content.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Message is one conversation turn. Treat it as immutable once built.
type Message struct {
	Role    Role           `json:"role"`
	Content []ContentBlock `json:"content"`
}

// NewTextMessage builds a message holding a single text block.
func NewTextMessage(role Role, text string) Message {
	return Message{
		Role:    role,
		Content: []ContentBlock{{Type: "text", Text: text}},
	}
}

// Text joins the text blocks of the message.
func (m Message) Text() string {
	if len(m.Content) == 1 {
		return m.Content[0].Text
	}
	var b strings.Builder
	for _, c := range m.Content {
		if c.Type == "text" {
			b.WriteString(c.Text)
		}
	}
	return b.String()
}

// History is the ordered message list of one thread.
type History []Message

// Clone returns a copy that shares no backing array with h.
func (h History) Clone() History {
	if h == nil {
		return History{}
	}
	out := make(History, len(h))
	copy(out, h)
	return out
}

// Trim keeps at most max of the most recent messages. A window that would
// open with an assistant message loses that message as well.
func Trim(h History, max int) History {
	if max <= 0 {
		max = DefaultMaxMessages
	}
	if len(h) > max {
		h = h[len(h)-max:]
	}
	for len(h) > 0 && h[0].Role == RoleAssistant && len(h) > 1 {
		h = h[1:]
	}
	return h
}

// appendExchange appends a user/assistant pair to a copy of h and trims it.
func appendExchange(h History, user, assistant Message, max int) History {
	next := make(History, 0, len(h)+2)
	next = append(next, h...)
	next = append(next, user, assistant)
	return Trim(next, max)
}

// Store maps thread ids to their history.
type Store interface {
	// Get returns the stored history for threadID, or an empty history when
	// the thread is unknown. The returned slice is owned by the caller.
	Get(ctx context.Context, threadID string) (History, error)

	// Append adds user then assistant to the thread and trims it to the
	// store's window.
	Append(ctx context.Context, threadID string, user, assistant Message) error

	// Has reports whether any history is stored for threadID.
	Has(ctx context.Context, threadID string) bool

	// Close releases backend resources.
	Close() error
}
