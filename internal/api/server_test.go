// ABOUTME: Tests for the relay HTTP API routes, auth and event streaming
// ABOUTME: Drives the chi router through httptest with canned agent streams

package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sse "github.com/tmaxmax/go-sse"

	"github.com/2389/coven-relay/internal/auth"
	"github.com/2389/coven-relay/internal/history"
	"github.com/2389/coven-relay/internal/relay"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type cannedOpener struct {
	body  string
	err   error
	agent string
}

func (o *cannedOpener) Open(_ context.Context, agent string, _ []history.Message) (io.ReadCloser, error) {
	o.agent = agent
	if o.err != nil {
		return nil, o.err
	}
	return io.NopCloser(strings.NewReader(o.body)), nil
}

const agentStream = `event: response.status
data: {"status": "planning", "message": "Planning the next steps"}

event: response.text.delta
data: {"text": "42 customers"}

event: metadata
data: {"thread_id": "conv-1"}
`

func newTestServer(t *testing.T, opener relay.Opener, opts Options) (*httptest.Server, history.Store) {
	t.Helper()
	store := history.NewMemoryStore(history.DefaultMaxMessages)
	session := relay.NewSession(opener, nil, store, relay.DefaultConfig(), nil)
	srv := httptest.NewServer(New(session, opts, nil).Handler())
	t.Cleanup(srv.Close)
	return srv, store
}

func postAsk(t *testing.T, srv *httptest.Server, body string, header http.Header) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/ask", strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, &cannedOpener{}, Options{})

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", string(body))
}

func TestAsk_JSON(t *testing.T) {
	opener := &cannedOpener{body: agentStream}
	srv, store := newTestServer(t, opener, Options{})

	resp := postAsk(t, srv, `{"question": "how many customers?", "agent": "contracts", "thread_id": "t-1"}`, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, "42 customers", got["answer"])
	assert.Equal(t, "complete", got["state"])
	assert.Equal(t, "t-1", got["thread_id"])
	assert.Equal(t, "contracts", got["selector"])
	assert.Equal(t, "conv-1", got["conversation_id"])
	assert.Equal(t, true, got["first_exchange"])
	assert.NotContains(t, got, "error")
	assert.Equal(t, "ACME_CONTRACTS_AGENT", opener.agent)

	assert.True(t, store.Has(context.Background(), "t-1"))
}

func TestAsk_Validation(t *testing.T) {
	srv, _ := newTestServer(t, &cannedOpener{body: agentStream}, Options{})

	for _, body := range []string{`{`, `{"question": "   "}`} {
		resp := postAsk(t, srv, body, nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, body)
	}
}

func TestAsk_AgentFailure(t *testing.T) {
	srv, _ := newTestServer(t, &cannedOpener{err: errors.New("dial tcp: connection refused")}, Options{})

	resp := postAsk(t, srv, `{"question": "q"}`, nil)
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)

	var got AskResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, relay.StateFailed, got.State)
	assert.Contains(t, got.Error, "connection refused")
	assert.True(t, strings.HasPrefix(got.Answer, "Sorry, I encountered an error"))
}

func TestAsk_EventStream(t *testing.T) {
	srv, _ := newTestServer(t, &cannedOpener{body: agentStream}, Options{})

	resp := postAsk(t, srv, `{"question": "how many?"}`, http.Header{"Accept": {"text/event-stream"}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	var types []string
	var result AskResponse
	var progress ProgressEvent
	for ev, err := range sse.Read(resp.Body, nil) {
		require.NoError(t, err)
		types = append(types, ev.Type)
		switch ev.Type {
		case "progress":
			require.NoError(t, json.Unmarshal([]byte(ev.Data), &progress))
		case "result":
			require.NoError(t, json.Unmarshal([]byte(ev.Data), &result))
		}
	}

	assert.Equal(t, []string{"progress", "result"}, types)
	assert.Equal(t, "Planning the next steps", progress.Message)
	assert.Equal(t, "42 customers", result.Answer)
	assert.NotEmpty(t, result.ThreadID, "a thread id is assigned when none is given")
}

func TestThreadsAndAgents(t *testing.T) {
	srv, _ := newTestServer(t, &cannedOpener{body: agentStream}, Options{})
	postAsk(t, srv, `{"question": "how many?", "thread_id": "t-9"}`, nil)

	resp, err := http.Get(srv.URL + "/api/threads/t-9")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var thread ThreadResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&thread))
	require.Len(t, thread.Messages, 2)
	assert.Equal(t, "how many?", thread.Messages[0].Text())
	assert.Equal(t, "42 customers", thread.Messages[1].Text())

	missing, err := http.Get(srv.URL + "/api/threads/nope")
	require.NoError(t, err)
	defer missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)

	agents, err := http.Get(srv.URL + "/api/agents")
	require.NoError(t, err)
	defer agents.Body.Close()
	var list AgentsResponse
	require.NoError(t, json.NewDecoder(agents.Body).Decode(&list))
	assert.Equal(t, "intelligence", list.Primary)
	assert.Len(t, list.Agents, 3)
}

func TestAuth(t *testing.T) {
	verifier, err := auth.NewJWTVerifier([]byte(testSecret))
	require.NoError(t, err)
	srv, _ := newTestServer(t, &cannedOpener{body: agentStream}, Options{Verifier: verifier})

	readOnly, err := verifier.Generate("reader", time.Hour, "read")
	require.NoError(t, err)
	asker, err := verifier.Generate("asker", time.Hour, ScopeAsk)
	require.NoError(t, err)

	bearer := func(tok string) http.Header {
		return http.Header{"Authorization": {"Bearer " + tok}}
	}

	tests := []struct {
		name   string
		header http.Header
		want   int
	}{
		{"no token", nil, http.StatusUnauthorized},
		{"garbage token", bearer("not-a-jwt"), http.StatusUnauthorized},
		{"missing scope", bearer(readOnly), http.StatusForbidden},
		{"ask scope", bearer(asker), http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postAsk(t, srv, `{"question": "q"}`, tt.header)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}

	health, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer health.Body.Close()
	assert.Equal(t, http.StatusOK, health.StatusCode, "health stays public")

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/agents", nil)
	req.Header.Set("Authorization", "Bearer "+readOnly)
	agents, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer agents.Body.Close()
	assert.Equal(t, http.StatusOK, agents.StatusCode)
}

func TestCORS(t *testing.T) {
	srv, _ := newTestServer(t, &cannedOpener{}, Options{CORSOrigins: []string{"https://dash.example.com"}})

	req, _ := http.NewRequest(http.MethodOptions, srv.URL+"/api/ask", nil)
	req.Header.Set("Origin", "https://dash.example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "https://dash.example.com", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestResolveTailscaleAuthKey(t *testing.T) {
	t.Setenv("TS_AUTHKEY", "")
	_, err := resolveTailscaleAuthKey("")
	require.Error(t, err)

	key, err := resolveTailscaleAuthKey("tskey-config")
	require.NoError(t, err)
	assert.Equal(t, "tskey-config", key)

	t.Setenv("TS_AUTHKEY", "tskey-env")
	key, err = resolveTailscaleAuthKey("")
	require.NoError(t, err)
	assert.Equal(t, "tskey-env", key)
}

func TestResolveTailscaleStateDir(t *testing.T) {
	dir, err := resolveTailscaleStateDir("/var/lib/relay-ts")
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/relay-ts", dir)

	t.Setenv("HOME", "/home/relay")
	dir, err = resolveTailscaleStateDir("")
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("%s/.local/share/coven-relay/tailscale", "/home/relay"), dir)
}

func TestRun_ShutsDownOnCancel(t *testing.T) {
	session := relay.NewSession(&cannedOpener{}, nil, nil, relay.DefaultConfig(), nil)
	s := New(session, Options{Addr: "127.0.0.1:0"}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
