// ABOUTME: Tests for agent selector resolution
// ABOUTME: Covers fallback to primary, case folding and validation

package agentapi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalog_Resolve(t *testing.T) {
	c := DefaultCatalog()

	name, used := c.Resolve("contracts")
	assert.Equal(t, "ACME_CONTRACTS_AGENT", name)
	assert.Equal(t, "contracts", used)

	name, used = c.Resolve("  PERF ")
	assert.Equal(t, "DATA_ENGINEER_ASSISTANT", name)
	assert.Equal(t, "perf", used)

	name, used = c.Resolve("")
	assert.Equal(t, "ACME_INTELLIGENCE_AGENT", name)
	assert.Equal(t, "intelligence", used)

	name, _ = c.Resolve("nonexistent")
	assert.Equal(t, "ACME_INTELLIGENCE_AGENT", name)
	assert.False(t, c.Known("nonexistent"))
}

func TestCatalog_Entries(t *testing.T) {
	entries := DefaultCatalog().Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, "contracts", entries[0].Selector)
	assert.Equal(t, "intelligence", entries[1].Selector)
	assert.True(t, entries[1].Primary)
}

func TestNewCatalog_Errors(t *testing.T) {
	_, err := NewCatalog("", nil)
	assert.Error(t, err)

	_, err = NewCatalog("missing", map[string]string{"a": "A"})
	assert.Error(t, err)

	_, err = NewCatalog("a", map[string]string{"a": " "})
	assert.Error(t, err)

	c, err := NewCatalog("", map[string]string{"Intelligence": "X"})
	require.NoError(t, err)
	assert.Equal(t, "intelligence", c.Primary())
}
