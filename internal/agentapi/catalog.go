// ABOUTME: Maps short agent selectors to hosted agent names
// ABOUTME: Unknown selectors resolve to the primary agent

package agentapi

import (
	"fmt"
	"sort"
	"strings"
)

// DefaultPrimary is the selector used when none is given.
const DefaultPrimary = "intelligence"

// DefaultAgents is the selector table used when none is configured.
var DefaultAgents = map[string]string{
	"intelligence": "ACME_INTELLIGENCE_AGENT",
	"contracts":    "ACME_CONTRACTS_AGENT",
	"perf":         "DATA_ENGINEER_ASSISTANT",
}

// Entry is one catalog row.
type Entry struct {
	Selector string `json:"selector"`
	Name     string `json:"name"`
	Primary  bool   `json:"primary"`
}

// Catalog resolves selectors. It is immutable after construction.
type Catalog struct {
	primary string
	agents  map[string]string
}

// NewCatalog validates agents and primary. Selectors are case-insensitive.
func NewCatalog(primary string, agents map[string]string) (*Catalog, error) {
	if len(agents) == 0 {
		return nil, fmt.Errorf("agent catalog is empty")
	}
	c := &Catalog{
		primary: strings.ToLower(strings.TrimSpace(primary)),
		agents:  make(map[string]string, len(agents)),
	}
	for sel, name := range agents {
		sel = strings.ToLower(strings.TrimSpace(sel))
		if sel == "" || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("agent catalog entry %q -> %q is incomplete", sel, name)
		}
		c.agents[sel] = strings.TrimSpace(name)
	}
	if c.primary == "" {
		c.primary = DefaultPrimary
	}
	if _, ok := c.agents[c.primary]; !ok {
		return nil, fmt.Errorf("primary agent %q is not in the catalog", c.primary)
	}
	return c, nil
}

// DefaultCatalog returns the built-in selector table.
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(DefaultPrimary, DefaultAgents)
	if err != nil {
		panic(err)
	}
	return c
}

// Resolve returns the agent name for selector and the selector actually
// used, which is the primary when selector is empty or unknown.
func (c *Catalog) Resolve(selector string) (name, used string) {
	sel := strings.ToLower(strings.TrimSpace(selector))
	if n, ok := c.agents[sel]; ok {
		return n, sel
	}
	return c.agents[c.primary], c.primary
}

// Known reports whether selector names a catalog entry.
func (c *Catalog) Known(selector string) bool {
	_, ok := c.agents[strings.ToLower(strings.TrimSpace(selector))]
	return ok
}

// Primary returns the primary selector.
func (c *Catalog) Primary() string {
	return c.primary
}

// Entries lists the catalog sorted by selector.
func (c *Catalog) Entries() []Entry {
	out := make([]Entry, 0, len(c.agents))
	for sel, name := range c.agents {
		out = append(out, Entry{Selector: sel, Name: name, Primary: sel == c.primary})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Selector < out[j].Selector })
	return out
}
