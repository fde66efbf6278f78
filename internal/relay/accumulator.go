// ABOUTME: Folds decoded stream events into a Result in arrival order
// ABOUTME: First write wins for query, table and ids; answer text only grows

package relay

import (
	"strings"

	"github.com/2389/coven-relay/internal/stream"
)

// placeholderQuery is what some tool results report instead of real SQL.
const placeholderQuery = "SQL query executed"

// Accumulator applies events to a Result. Use one per round trip.
type Accumulator struct {
	result *Result
	tools  map[string]struct{}

	// OnProgress is called for every payload that carries a status and a
	// message, whatever its event type.
	OnProgress func(stream.Status)
}

// NewAccumulator returns an accumulator writing into a fresh Result.
func NewAccumulator() *Accumulator {
	return newAccumulator(&Result{State: StateStreaming})
}

func newAccumulator(r *Result) *Accumulator {
	if r.ToolsUsed == nil {
		r.ToolsUsed = []string{}
	}
	if r.Charts == nil {
		r.Charts = []ChartSpec{}
	}
	return &Accumulator{result: r, tools: make(map[string]struct{})}
}

// Result returns the result being built.
func (a *Accumulator) Result() *Result {
	return a.result
}

// Apply folds one event into the result. It never fails.
func (a *Accumulator) Apply(ev stream.Event) {
	r := a.result
	r.Events++

	d := stream.Decode(ev)
	if d.Progress != nil && a.OnProgress != nil {
		a.OnProgress(*d.Progress)
	}
	a.addTool(d.CortexTool)

	switch p := d.Payload.(type) {
	case stream.TextDelta:
		r.Answer += p.Text

	case stream.ThinkingDelta:
		r.Thinking += p.Text

	case stream.ToolUse:
		a.addTool(p.Type)

	case stream.ToolResult:
		a.addTool(p.Type)
		if isQueryTool(p.Type) {
			a.setQuery(p.SQL)
			a.setTable(p.ResultSet)
		}

	case stream.Table:
		a.setTable(p.ResultSet)

	case stream.Chart:
		r.Charts = append(r.Charts, ChartSpec{
			Spec:         p.Spec,
			ToolUseID:    p.ToolUseID,
			ContentIndex: p.ContentIndex,
		})

	case stream.Metadata:
		if r.MessageID == "" {
			r.MessageID = p.MessageID
		}
		if r.ConversationID == "" {
			r.ConversationID = p.ThreadID
		}
		if r.ConversationID == "" {
			r.ConversationID = p.ConversationID
		}

	case stream.ExecutionTrace:
		a.setQuery(p.SQL)

	case stream.Failure:
		if r.AgentError == "" {
			r.AgentError = p.Message
		}

	case stream.Status:
		// already handed to OnProgress

	case stream.Ignored:
		r.Ignored++
	}
}

func (a *Accumulator) addTool(typ string) {
	if typ == "" {
		return
	}
	if _, seen := a.tools[typ]; seen {
		return
	}
	a.tools[typ] = struct{}{}
	a.result.ToolsUsed = append(a.result.ToolsUsed, typ)
}

func (a *Accumulator) setQuery(sql string) {
	sql = strings.TrimSpace(sql)
	if sql == "" || sql == placeholderQuery || a.result.GeneratedQuery != "" {
		return
	}
	a.result.GeneratedQuery = sql
}

func (a *Accumulator) setTable(rs *stream.ResultSet) {
	if rs.Empty() || a.result.Table != nil {
		return
	}
	a.result.Table = rs
}

// isQueryTool reports whether a tool type is one that generates SQL.
func isQueryTool(typ string) bool {
	t := strings.ToLower(typ)
	return strings.Contains(t, "cortex_analyst") || strings.Contains(t, "sql")
}
