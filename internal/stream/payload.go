// ABOUTME: Tagged payload variants for the agent's event types
// ABOUTME: DecodePayload never fails; unexpected shapes decode to Ignored

package stream

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
)

// Event types emitted by the agent run endpoint.
const (
	TypeMetadata       = "metadata"
	TypeStatus         = "response.status"
	TypeTextDelta      = "response.text.delta"
	TypeThinkingDelta  = "response.thinking.delta"
	TypeToolUse        = "response.tool_use"
	TypeToolResult     = "response.tool_result"
	TypeTable          = "response.table"
	TypeChart          = "response.chart"
	TypeExecutionTrace = "execution_trace"
	TypeResponse       = "response"
	TypeError          = "error"
	TypeDone           = "done"
)

// SQLQueryAttribute is the trace span attribute carrying analyst SQL.
const SQLQueryAttribute = "snow.ai.observability.agent.tool.cortex_analyst.sql_query"

// Payload is implemented by every variant DecodePayload returns.
type Payload interface {
	payloadType() string
}

// TextDelta is a fragment of the answer.
type TextDelta struct {
	Text         string
	ContentIndex int
}

// ThinkingDelta is a fragment of the agent's reasoning.
type ThinkingDelta struct {
	Text         string
	ContentIndex int
}

// Status is a progress update.
type Status struct {
	Status  string
	Message string
}

// ToolUse announces a tool invocation.
type ToolUse struct {
	Type      string
	Name      string
	ToolUseID string
}

// ToolResult is a tool's output. SQL and ResultSet are set when the tool
// produced them.
type ToolResult struct {
	Type      string
	Name      string
	ToolUseID string
	SQL       string
	Text      string
	ResultSet *ResultSet
}

// Table is a result set the agent chose to show.
type Table struct {
	ToolUseID    string
	ContentIndex int
	ResultSet    *ResultSet
}

// Chart is a parsed chart specification.
type Chart struct {
	Spec         json.RawMessage
	ToolUseID    string
	ContentIndex int
}

// Metadata carries identifiers for the run.
type Metadata struct {
	MessageID      string
	ThreadID       string
	ConversationID string
}

// ExecutionTrace is the SQL found in trace spans, if any.
type ExecutionTrace struct {
	SQL   string
	Spans int
}

// Failure is an error event sent by the agent inside the stream.
type Failure struct {
	Code    string
	Message string
}

// Ignored stands in for anything that doesn't decode.
type Ignored struct {
	Type   string
	Reason string
}

func (TextDelta) payloadType() string      { return TypeTextDelta }
func (ThinkingDelta) payloadType() string  { return TypeThinkingDelta }
func (Status) payloadType() string         { return TypeStatus }
func (ToolUse) payloadType() string        { return TypeToolUse }
func (ToolResult) payloadType() string     { return TypeToolResult }
func (Table) payloadType() string          { return TypeTable }
func (Chart) payloadType() string          { return TypeChart }
func (Metadata) payloadType() string       { return TypeMetadata }
func (ExecutionTrace) payloadType() string { return TypeExecutionTrace }
func (Failure) payloadType() string        { return TypeError }
func (i Ignored) payloadType() string      { return i.Type }

// ResultSet is a tabular result with stringified cells.
type ResultSet struct {
	Columns []string
	Rows    [][]string
}

// Empty reports whether there is nothing to show.
func (r *ResultSet) Empty() bool {
	return r == nil || (len(r.Columns) == 0 && len(r.Rows) == 0)
}

// flexString accepts a JSON string or number.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

type rawResultSet struct {
	Data     [][]any `json:"data"`
	Metadata struct {
		RowType []struct {
			Name string `json:"name"`
		} `json:"rowType"`
	} `json:"resultSetMetaData"`
}

func (r *rawResultSet) toResultSet() *ResultSet {
	if r == nil || (len(r.Data) == 0 && len(r.Metadata.RowType) == 0) {
		return nil
	}
	rs := &ResultSet{}
	for _, col := range r.Metadata.RowType {
		rs.Columns = append(rs.Columns, col.Name)
	}
	for _, row := range r.Data {
		cells := make([]string, len(row))
		for i, v := range row {
			cells[i] = cellString(v)
		}
		rs.Rows = append(rs.Rows, cells)
	}
	return rs
}

func cellString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}

type toolResultBody struct {
	SQL       string        `json:"sql"`
	Text      string        `json:"text"`
	ResultSet *rawResultSet `json:"result_set"`
}

// header holds the fields any payload may carry, whatever its event type.
type header struct {
	Status  *string `json:"status"`
	Message *string `json:"message"`
	Type    string  `json:"type"`
}

// headerOf reads the header fields from an already decoded JSON value.
func headerOf(v any) header {
	m, ok := v.(map[string]any)
	if !ok {
		return header{}
	}
	var h header
	if s, ok := m["status"].(string); ok {
		h.Status = &s
	}
	if s, ok := m["message"].(string); ok {
		h.Message = &s
	}
	h.Type, _ = m["type"].(string)
	return h
}

// Decoded is one event decoded in a single pass over its JSON.
type Decoded struct {
	Payload Payload

	// Progress is set for any payload carrying both a status and a message.
	Progress *Status

	// CortexTool is the payload's type field when it names a cortex tool.
	CortexTool string
}

func (h header) decoded(p Payload) Decoded {
	d := Decoded{Payload: p}
	if h.Status != nil && h.Message != nil {
		d.Progress = &Status{Status: *h.Status, Message: *h.Message}
	}
	if strings.Contains(strings.ToLower(h.Type), "cortex") {
		d.CortexTool = h.Type
	}
	return d
}

// DecodePayload maps an event onto its variant.
func DecodePayload(ev Event) Payload {
	return Decode(ev).Payload
}

// Decode maps an event onto its variant and picks up the progress and
// cortex tool fields from the same decode. A field of the wrong type leaves
// the rest of the payload readable, so the header survives an Ignored
// variant.
func Decode(ev Event) Decoded {
	ignore := func(h header, format string, args ...any) Decoded {
		return h.decoded(Ignored{Type: ev.Type, Reason: fmt.Sprintf(format, args...)})
	}

	switch ev.Type {
	case TypeTextDelta, TypeThinkingDelta:
		var p struct {
			header
			Text         *string `json:"text"`
			ContentIndex int     `json:"content_index"`
		}
		if err := json.Unmarshal(ev.Data, &p); err != nil {
			return ignore(p.header, "decoding delta: %v", err)
		}
		if p.Text == nil {
			return ignore(p.header, "delta without text")
		}
		if ev.Type == TypeThinkingDelta {
			return p.decoded(ThinkingDelta{Text: *p.Text, ContentIndex: p.ContentIndex})
		}
		return p.decoded(TextDelta{Text: *p.Text, ContentIndex: p.ContentIndex})

	case TypeStatus:
		var h header
		_ = json.Unmarshal(ev.Data, &h)
		d := h.decoded(nil)
		if d.Progress == nil {
			return ignore(h, "status without status and message")
		}
		d.Payload = *d.Progress
		return d

	case TypeToolUse:
		var p struct {
			header
			Name      string `json:"name"`
			ToolUseID string `json:"tool_use_id"`
		}
		if err := json.Unmarshal(ev.Data, &p); err != nil {
			return ignore(p.header, "decoding tool use: %v", err)
		}
		return p.decoded(ToolUse{Type: p.Type, Name: p.Name, ToolUseID: p.ToolUseID})

	case TypeToolResult:
		return decodeToolResult(ev, ignore)

	case TypeTable:
		var p struct {
			header
			ToolUseID    string        `json:"tool_use_id"`
			ContentIndex int           `json:"content_index"`
			ResultSet    *rawResultSet `json:"result_set"`
		}
		if err := json.Unmarshal(ev.Data, &p); err != nil {
			return ignore(p.header, "decoding table: %v", err)
		}
		rs := p.ResultSet.toResultSet()
		if rs.Empty() {
			return ignore(p.header, "table without result set")
		}
		return p.decoded(Table{ToolUseID: p.ToolUseID, ContentIndex: p.ContentIndex, ResultSet: rs})

	case TypeChart:
		var p struct {
			header
			ChartSpec    *string `json:"chart_spec"`
			ToolUseID    string  `json:"tool_use_id"`
			ContentIndex int     `json:"content_index"`
		}
		if err := json.Unmarshal(ev.Data, &p); err != nil {
			return ignore(p.header, "decoding chart: %v", err)
		}
		if p.ChartSpec == nil {
			return ignore(p.header, "chart without chart_spec")
		}
		spec := []byte(*p.ChartSpec)
		if !json.Valid(spec) {
			return ignore(p.header, "chart_spec is not valid JSON")
		}
		return p.decoded(Chart{Spec: json.RawMessage(spec), ToolUseID: p.ToolUseID, ContentIndex: p.ContentIndex})

	case TypeMetadata:
		var p struct {
			header
			MessageID      flexString `json:"message_id"`
			ThreadID       flexString `json:"thread_id"`
			ConversationID flexString `json:"conversation_id"`
		}
		if err := json.Unmarshal(ev.Data, &p); err != nil {
			return ignore(p.header, "decoding metadata: %v", err)
		}
		return p.decoded(Metadata{
			MessageID:      string(p.MessageID),
			ThreadID:       string(p.ThreadID),
			ConversationID: string(p.ConversationID),
		})

	case TypeExecutionTrace:
		var root any
		if err := json.Unmarshal(ev.Data, &root); err != nil {
			return ignore(header{}, "decoding trace: %v", err)
		}
		trace := ExecutionTrace{}
		if list, ok := root.([]any); ok {
			trace.Spans = len(list)
		}
		trace.SQL = findSQLAttribute(root, 0)
		return headerOf(root).decoded(trace)

	case TypeError:
		var p struct {
			header
			Code flexString `json:"code"`
		}
		if err := json.Unmarshal(ev.Data, &p); err != nil || p.Message == nil || *p.Message == "" {
			return ignore(p.header, "error event without message")
		}
		return p.decoded(Failure{Code: string(p.Code), Message: *p.Message})

	default:
		var h header
		_ = json.Unmarshal(ev.Data, &h)
		return ignore(h, "unhandled event type")
	}
}

func decodeToolResult(ev Event, ignore func(header, string, ...any) Decoded) Decoded {
	var p struct {
		header
		Name      string `json:"name"`
		ToolUseID string `json:"tool_use_id"`
		Content   []struct {
			Type string          `json:"type"`
			JSON *toolResultBody `json:"json"`
			Text string          `json:"text"`
		} `json:"content"`
		toolResultBody
	}
	if err := json.Unmarshal(ev.Data, &p); err != nil {
		return ignore(p.header, "decoding tool result: %v", err)
	}

	out := ToolResult{
		Type:      p.Type,
		Name:      p.Name,
		ToolUseID: p.ToolUseID,
		SQL:       p.SQL,
		Text:      p.Text,
		ResultSet: p.ResultSet.toResultSet(),
	}
	for _, c := range p.Content {
		if c.JSON == nil {
			if out.Text == "" {
				out.Text = c.Text
			}
			continue
		}
		if out.SQL == "" {
			out.SQL = c.JSON.SQL
		}
		if out.Text == "" {
			out.Text = c.JSON.Text
		}
		if out.ResultSet.Empty() {
			out.ResultSet = c.JSON.ResultSet.toResultSet()
		}
	}
	return p.decoded(out)
}

const maxTraceDepth = 32

// findSQLAttribute walks a trace looking for the SQL attribute. Spans may
// arrive as JSON-encoded strings, which are decoded on the way down.
func findSQLAttribute(node any, depth int) string {
	if depth > maxTraceDepth {
		return ""
	}
	switch n := node.(type) {
	case string:
		s := strings.TrimSpace(n)
		if s == "" || (s[0] != '{' && s[0] != '[') {
			return ""
		}
		var inner any
		if err := json.Unmarshal([]byte(s), &inner); err != nil {
			return ""
		}
		return findSQLAttribute(inner, depth+1)

	case []any:
		for _, item := range n {
			if sql := findSQLAttribute(item, depth+1); sql != "" {
				return sql
			}
		}

	case map[string]any:
		if key, _ := n["key"].(string); key == SQLQueryAttribute {
			if value, ok := n["value"].(map[string]any); ok {
				if sql, _ := value["stringValue"].(string); sql != "" {
					return sql
				}
			}
		}
		// a span's own attributes come before anything nested in it
		if sql := findSQLAttribute(n["attributes"], depth+1); sql != "" {
			return sql
		}
		for _, k := range slices.Sorted(maps.Keys(n)) {
			if k == "attributes" {
				continue
			}
			if sql := findSQLAttribute(n[k], depth+1); sql != "" {
				return sql
			}
		}
	}
	return ""
}
