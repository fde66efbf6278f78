// ABOUTME: Tests for the agent run client against an httptest server
// ABOUTME: Checks URL layout, headers, request body and status errors

package agentapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-relay/internal/history"
)

func TestClient_Open(t *testing.T) {
	var gotPath string
	var gotHeaders http.Header
	var gotBody RunRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotHeaders = r.Header.Clone()
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, "event: response.text.delta\ndata: {\"text\": \"hi\"}\n\n")
	}))
	defer srv.Close()

	c, err := NewClient(Config{BaseURL: srv.URL + "/", Token: "pat-123"}, nil)
	require.NoError(t, err)

	msgs := []history.Message{
		history.NewTextMessage(history.RoleUser, "earlier"),
		history.NewTextMessage(history.RoleAssistant, "reply"),
		history.NewTextMessage(history.RoleUser, "how many customers?"),
	}
	body, err := c.Open(context.Background(), "ACME_INTELLIGENCE_AGENT", msgs)
	require.NoError(t, err)
	raw, _ := io.ReadAll(body)
	body.Close()

	assert.Contains(t, string(raw), "response.text.delta")
	assert.Equal(t, "/api/v2/databases/SNOWFLAKE_INTELLIGENCE/schemas/AGENTS/agents/ACME_INTELLIGENCE_AGENT:run", gotPath)
	assert.Equal(t, "Bearer pat-123", gotHeaders.Get("Authorization"))
	assert.Equal(t, "PROGRAMMATIC_ACCESS_TOKEN", gotHeaders.Get("X-Snowflake-Authorization-Token-Type"))
	assert.Equal(t, "application/json", gotHeaders.Get("Content-Type"))
	require.Len(t, gotBody.Messages, 3)
	assert.Equal(t, "how many customers?", gotBody.Messages[2].Text())
	assert.Equal(t, "text", gotBody.Messages[2].Content[0].Type)
}

func TestClient_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, strings.Repeat("denied ", 1000), http.StatusForbidden)
	}))
	defer srv.Close()

	c, err := NewClient(Config{BaseURL: srv.URL, Token: "t"}, nil)
	require.NoError(t, err)

	_, err = c.Open(context.Background(), "X", nil)
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusForbidden, se.Code)
	assert.LessOrEqual(t, len(se.Body), maxErrorBody)
	assert.Contains(t, se.Error(), "403")
}

func TestClient_ConnectionError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := NewClient(Config{BaseURL: url, Token: "t"}, nil)
	require.NoError(t, err)
	_, err = c.Open(context.Background(), "X", nil)
	assert.Error(t, err)
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient(Config{Token: "t"}, nil)
	assert.Error(t, err)

	_, err = NewClient(Config{Account: "acme"}, nil)
	assert.Error(t, err)

	c, err := NewClient(Config{Account: "acme-xy12345", Token: "t", Database: "DB", Schema: "S"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "https://acme-xy12345.snowflakecomputing.com/api/v2/databases/DB/schemas/S/agents/A:run", c.RunURL("A"))
}
