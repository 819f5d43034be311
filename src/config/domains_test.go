package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuiltinCatalog(t *testing.T) {
	c, err := LoadCatalog("", "agent_default")
	require.NoError(t, err)

	for _, d := range AllDomains {
		dc := c.Domain(d)
		assert.NotEmpty(t, dc.SystemPrompt, d)
		assert.NotEmpty(t, dc.Greeting, d)
		assert.NotEmpty(t, dc.Intents, d)
	}

	generic := c.Domain(DomainGeneric)
	require.Len(t, generic.Intents, 3)
	esc := generic.Intents[0]
	assert.Equal(t, "escalate", esc.Name)
	assert.Equal(t, "/escalate", esc.Webhook)
	assert.InDelta(t, 0.75, esc.Threshold, 1e-9)
	assert.Contains(t, esc.Keywords, "real person")
	assert.Len(t, esc.Examples, 5)

	assert.Equal(t, 0.74, generic.Intents[2].Threshold)

	hc := c.Domain(DomainHealthcare)
	last := hc.Intents[len(hc.Intents)-1]
	assert.Equal(t, "contact_info", last.Name)
	assert.Empty(t, last.Examples, "keyword-only intent")
}

func TestCatalogFallbacks(t *testing.T) {
	c, err := LoadCatalog("", "agent_default")
	require.NoError(t, err)

	assert.Equal(t, c.Domain(DomainGeneric).Greeting, c.Domain(Domain("nope")).Greeting)

	v := c.Voice("voice_missing")
	assert.Equal(t, "default", v.ID)
	assert.Equal(t, "Cimo", v.Name)
	assert.Equal(t, "agent_default", v.AgentID)
}

func TestCatalogOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "domains.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
voices:
  - id: voice_sarah
    agent_id: agent_sarah
    name: Sarah
    language: English (US)
    gender: female
    description: Friendly American female voice
domains:
  fintech:
    system_prompt: Be brief.
    greeting: Bank support here.
    intents:
      - name: card
        webhook: /card-issue
        keywords: [card]
`), 0o600))

	c, err := LoadCatalog(path, "agent_default")
	require.NoError(t, err)

	assert.Equal(t, "Bank support here.", c.Domain(DomainFintech).Greeting)
	assert.Len(t, c.Voices(), 2)
	assert.Equal(t, "agent_sarah", c.Voice("voice_sarah").AgentID)
	assert.NotEqual(t, "Bank support here.", c.Domain(DomainGeneric).Greeting)
}

func TestCatalogRejectsInvalidOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "domains.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
domains:
  casino:
    system_prompt: x
    greeting: y
`), 0o600))

	_, err := LoadCatalog(path, "agent_default")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "casino")
}

func TestParseDomain(t *testing.T) {
	d, err := ParseDomain(" RealEstate ")
	require.NoError(t, err)
	assert.Equal(t, DomainRealEstate, d)

	_, err = ParseDomain("")
	assert.Error(t, err)
}
