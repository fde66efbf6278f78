// ABOUTME: Tests for payload variant decoding
// ABOUTME: Covers each event type plus the shapes that fall through to Ignored

package stream

import (
	"encoding/json"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ev(typ, data string) Event {
	return Event{Type: typ, Data: json.RawMessage(data)}
}

func TestDecodePayload_Deltas(t *testing.T) {
	p := DecodePayload(ev(TypeTextDelta, `{"text": "hi", "content_index": 2}`))
	assert.Equal(t, TextDelta{Text: "hi", ContentIndex: 2}, p)

	p = DecodePayload(ev(TypeThinkingDelta, `{"text": "hmm"}`))
	assert.Equal(t, ThinkingDelta{Text: "hmm"}, p)

	p = DecodePayload(ev(TypeTextDelta, `{"delta": "x"}`))
	assert.IsType(t, Ignored{}, p)

	p = DecodePayload(ev(TypeTextDelta, `["not", "an", "object"]`))
	assert.IsType(t, Ignored{}, p)
}

func TestDecodePayload_ToolResult(t *testing.T) {
	data := `{
		"type": "cortex_analyst_text_to_sql",
		"name": "revenue_model",
		"tool_use_id": "tu_1",
		"content": [{
			"type": "json",
			"json": {
				"sql": "SELECT 1",
				"text": "one row",
				"result_set": {
					"data": [["a", 1], ["b", null]],
					"resultSetMetaData": {"rowType": [{"name": "NAME"}, {"name": "N"}]}
				}
			}
		}]
	}`
	p, ok := DecodePayload(ev(TypeToolResult, data)).(ToolResult)
	require.True(t, ok)
	assert.Equal(t, "cortex_analyst_text_to_sql", p.Type)
	assert.Equal(t, "revenue_model", p.Name)
	assert.Equal(t, "SELECT 1", p.SQL)
	assert.Equal(t, "one row", p.Text)
	require.NotNil(t, p.ResultSet)
	assert.Equal(t, []string{"NAME", "N"}, p.ResultSet.Columns)
	assert.Equal(t, [][]string{{"a", "1"}, {"b", ""}}, p.ResultSet.Rows)
}

func TestDecodePayload_ToolResultTopLevelSQL(t *testing.T) {
	p, ok := DecodePayload(ev(TypeToolResult, `{"type": "sql_exec", "sql": "SELECT 2"}`)).(ToolResult)
	require.True(t, ok)
	assert.Equal(t, "SELECT 2", p.SQL)
	assert.Nil(t, p.ResultSet)
}

func TestDecodePayload_Table(t *testing.T) {
	data := `{"tool_use_id": "tu_2", "content_index": 1, "result_set": {"data": [[1.5, true]], "resultSetMetaData": {"rowType": [{"name": "X"}, {"name": "Y"}]}}}`
	p, ok := DecodePayload(ev(TypeTable, data)).(Table)
	require.True(t, ok)
	assert.Equal(t, "tu_2", p.ToolUseID)
	assert.Equal(t, [][]string{{"1.5", "true"}}, p.ResultSet.Rows)

	assert.IsType(t, Ignored{}, DecodePayload(ev(TypeTable, `{"tool_use_id": "tu_3"}`)))
}

func TestDecodePayload_Chart(t *testing.T) {
	spec := `{"mark": "bar"}`
	data := `{"chart_spec": ` + strconv.Quote(spec) + `, "tool_use_id": "tu_4", "content_index": 3}`
	p, ok := DecodePayload(ev(TypeChart, data)).(Chart)
	require.True(t, ok)
	assert.JSONEq(t, spec, string(p.Spec))
	assert.Equal(t, 3, p.ContentIndex)

	bad := DecodePayload(ev(TypeChart, `{"chart_spec": "{not json", "tool_use_id": "tu_5"}`))
	ig, ok := bad.(Ignored)
	require.True(t, ok)
	assert.Equal(t, TypeChart, ig.Type)
	assert.Contains(t, ig.Reason, "chart_spec")
}

func TestDecodePayload_Metadata(t *testing.T) {
	p := DecodePayload(ev(TypeMetadata, `{"message_id": 42, "thread_id": "T1"}`))
	assert.Equal(t, Metadata{MessageID: "42", ThreadID: "T1"}, p)
}

func TestDecodePayload_ExecutionTrace(t *testing.T) {
	span := `{"name": "analyst", "attributes": [{"key": "other", "value": {"stringValue": "x"}}, {"key": "` +
		SQLQueryAttribute + `", "value": {"stringValue": "SELECT * FROM jobs"}}]}`
	data := `[` + strconv.Quote(`{"name": "root"}`) + `, ` + strconv.Quote(span) + `]`

	p, ok := DecodePayload(ev(TypeExecutionTrace, data)).(ExecutionTrace)
	require.True(t, ok)
	assert.Equal(t, "SELECT * FROM jobs", p.SQL)
	assert.Equal(t, 2, p.Spans)

	p, ok = DecodePayload(ev(TypeExecutionTrace, `["not json", 5]`)).(ExecutionTrace)
	require.True(t, ok)
	assert.Empty(t, p.SQL)
}

func TestDecodePayload_ExecutionTraceIsDeterministic(t *testing.T) {
	attr := func(sql string) string {
		return `{"key": "` + SQLQueryAttribute + `", "value": {"stringValue": "` + sql + `"}}`
	}
	tests := []struct {
		name string
		span string
		want string
	}{
		{
			name: "span attributes before nested events",
			span: `{"events": [{"attributes": [` + attr("SELECT 2") + `]}], "attributes": [` + attr("SELECT 1") + `]}`,
			want: "SELECT 1",
		},
		{
			name: "nested keys in name order",
			span: `{"links": [{"attributes": [` + attr("SELECT 3") + `]}], "events": [{"attributes": [` + attr("SELECT 4") + `]}]}`,
			want: "SELECT 4",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := `[` + strconv.Quote(tt.span) + `]`
			for range 100 {
				p, ok := DecodePayload(ev(TypeExecutionTrace, data)).(ExecutionTrace)
				require.True(t, ok)
				require.Equal(t, tt.want, p.SQL)
			}
		})
	}
}

func TestDecodePayload_StatusAndError(t *testing.T) {
	p := DecodePayload(ev(TypeStatus, `{"status": "planning", "message": "Planning the next steps"}`))
	assert.Equal(t, Status{Status: "planning", Message: "Planning the next steps"}, p)

	assert.IsType(t, Ignored{}, DecodePayload(ev(TypeStatus, `{"status": "planning"}`)))

	f := DecodePayload(ev(TypeError, `{"code": 399504, "message": "quota exceeded"}`))
	assert.Equal(t, Failure{Code: "399504", Message: "quota exceeded"}, f)
}

func TestDecodePayload_UnknownType(t *testing.T) {
	p := DecodePayload(ev("response.something.new", `{}`))
	ig, ok := p.(Ignored)
	require.True(t, ok)
	assert.Equal(t, "response.something.new", ig.Type)
}

func TestDecode_Progress(t *testing.T) {
	d := Decode(ev("response.tool_result.status", `{"status": "executing", "message": "Running SQL", "extra": 1}`))
	require.NotNil(t, d.Progress)
	assert.Equal(t, Status{Status: "executing", Message: "Running SQL"}, *d.Progress)
	assert.IsType(t, Ignored{}, d.Payload)

	assert.Nil(t, Decode(ev("response.other", `{"message": "only message"}`)).Progress)
	assert.Nil(t, Decode(ev("response.other", `[]`)).Progress)
	assert.Nil(t, Decode(ev("response.other", `{"status": 5, "message": "m"}`)).Progress)
}

func TestDecode_CortexTool(t *testing.T) {
	assert.Equal(t, "Cortex_Search", Decode(ev("response.other", `{"type": "Cortex_Search"}`)).CortexTool)
	assert.Empty(t, Decode(ev("response.other", `{"type": "web_search"}`)).CortexTool)
	assert.Empty(t, Decode(ev("response.other", `"cortex"`)).CortexTool)
}

func TestDecode_HeaderComesWithThePayload(t *testing.T) {
	data := `{"type": "cortex_analyst_text_to_sql", "status": "done", "message": "Query finished",
		"content": [{"type": "json", "json": {"sql": "SELECT 1", "result_set": {
			"data": [["North", 12]], "resultSetMetaData": {"rowType": [{"name": "REGION"}, {"name": "N"}]}}}}]}`

	d := Decode(ev(TypeToolResult, data))

	res, ok := d.Payload.(ToolResult)
	require.True(t, ok)
	assert.Equal(t, "SELECT 1", res.SQL)
	assert.Equal(t, [][]string{{"North", "12"}}, res.ResultSet.Rows)
	require.NotNil(t, d.Progress)
	assert.Equal(t, "Query finished", d.Progress.Message)
	assert.Equal(t, "cortex_analyst_text_to_sql", d.CortexTool)
}

func TestDecode_HeaderSurvivesIgnoredShape(t *testing.T) {
	d := Decode(ev(TypeTextDelta, `{"text": 5, "type": "cortex_search", "status": "s", "message": "Searching"}`))

	assert.IsType(t, Ignored{}, d.Payload)
	require.NotNil(t, d.Progress)
	assert.Equal(t, "Searching", d.Progress.Message)
	assert.Equal(t, "cortex_search", d.CortexTool)
}
