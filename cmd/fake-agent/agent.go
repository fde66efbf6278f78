// ABOUTME: Scripted run endpoint that answers in the agent's event-stream dialect.
// ABOUTME: Emits status, thinking, tool use and result, chart, text, trace and metadata events.
package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	sse "github.com/tmaxmax/go-sse"

	"github.com/2389/coven-relay/internal/agentapi"
	"github.com/2389/coven-relay/internal/history"
	"github.com/2389/coven-relay/internal/stream"
)

const demoSQL = `SELECT region, SUM(amount) AS revenue FROM sales WHERE quarter = 'Q3' GROUP BY region ORDER BY revenue DESC`

// step is one scripted event.
type step struct {
	typ  string
	data any
}

func newRouter(token string, delay time.Duration, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Post("/api/v2/databases/{db}/schemas/{schema}/agents/{name}:run", func(w http.ResponseWriter, req *http.Request) {
		handleRun(w, req, token, delay, logger)
	})
	return r
}

func handleRun(w http.ResponseWriter, r *http.Request, token string, delay time.Duration, logger *slog.Logger) {
	got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if got == "" || (token != "" && got != token) {
		http.Error(w, `{"message": "invalid token"}`, http.StatusUnauthorized)
		return
	}

	var body agentapi.RunRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || len(body.Messages) == 0 {
		http.Error(w, `{"message": "messages are required"}`, http.StatusBadRequest)
		return
	}
	question := lastUserText(body.Messages)
	agent := chi.URLParam(r, "name")
	logger.Info("run", "agent", agent, "question", question, "history", len(body.Messages)-1)

	sess, err := sse.Upgrade(w, r)
	if err != nil {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	for _, st := range script(agent, question, len(body.Messages)-1) {
		select {
		case <-r.Context().Done():
			logger.Info("client went away", "agent", agent)
			return
		case <-time.After(delay):
		}
		if err := send(sess, st); err != nil {
			logger.Warn("sending event", "type", st.typ, "error", err)
			return
		}
	}
}

func send(sess *sse.Session, st step) error {
	data, err := json.Marshal(st.data)
	if err != nil {
		return err
	}
	msg := &sse.Message{Type: sse.Type(st.typ)}
	msg.AppendData(string(data))
	if err := sess.Send(msg); err != nil {
		return err
	}
	return sess.Flush()
}

func lastUserText(msgs []history.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == history.RoleUser {
			return msgs[i].Text()
		}
	}
	return ""
}

// script builds the event sequence for one question. Questions mentioning
// "fail" end in an error event instead of an answer.
func script(agent, question string, prior int) []step {
	toolID := "toolu_" + uuid.NewString()[:8]
	steps := []step{
		{stream.TypeMetadata, map[string]any{"message_id": uuid.NewString(), "thread_id": time.Now().Unix()}},
		{stream.TypeStatus, map[string]string{"status": "planning", "message": "Planning the next steps"}},
		{stream.TypeThinkingDelta, map[string]any{"text": fmt.Sprintf("The user asked %q with %d earlier messages.", question, prior)}},
	}
	if strings.Contains(strings.ToLower(question), "fail") {
		return append(steps, step{stream.TypeError, map[string]string{"code": "399504", "message": "simulated agent failure"}})
	}

	chartSpec, _ := json.Marshal(map[string]any{
		"mark":     "bar",
		"encoding": map[string]any{"x": map[string]string{"field": "REGION"}, "y": map[string]string{"field": "REVENUE"}},
	})
	answer := []string{
		fmt.Sprintf("**%s** answered: ", agent),
		"revenue last quarter was led by **North** at 1.2M, ",
		"followed by South and West.",
	}

	steps = append(steps,
		step{stream.TypeToolUse, map[string]string{"type": "cortex_analyst_text_to_sql", "name": "sales_analyst", "tool_use_id": toolID}},
		step{stream.TypeStatus, map[string]string{"status": "executing_tool", "message": "Executing SQL"}},
		step{stream.TypeToolResult, map[string]any{
			"type":        "cortex_analyst_text_to_sql",
			"name":        "sales_analyst",
			"tool_use_id": toolID,
			"content": []any{map[string]any{
				"type": "json",
				"json": map[string]any{
					"sql":  demoSQL,
					"text": "Revenue by region for Q3",
					"result_set": map[string]any{
						"data": [][]any{{"North", 1200000}, {"South", 830000}, {"West", 610500.5}},
						"resultSetMetaData": map[string]any{
							"rowType": []map[string]string{{"name": "REGION"}, {"name": "REVENUE"}},
						},
					},
				},
			}},
		}},
		step{stream.TypeChart, map[string]any{"chart_spec": string(chartSpec), "tool_use_id": toolID, "content_index": 2}},
		step{stream.TypeStatus, map[string]string{"status": "generating", "message": "Generating response"}},
	)
	for _, chunk := range answer {
		steps = append(steps, step{stream.TypeTextDelta, map[string]any{"text": chunk, "content_index": 3}})
	}
	return append(steps,
		step{stream.TypeExecutionTrace, []any{
			map[string]any{"name": "planning", "attributes": map[string]any{}},
			map[string]any{"name": "sql", "attributes": map[string]any{stream.SQLQueryAttribute: demoSQL}},
		}},
		step{stream.TypeResponse, map[string]any{"role": "assistant"}},
	)
}
