package config

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Domain identifies a business vertical. The set is closed.
type Domain string

const (
	DomainIGaming    Domain = "igaming"
	DomainECommerce  Domain = "ecommerce"
	DomainHealthcare Domain = "healthcare"
	DomainFintech    Domain = "fintech"
	DomainRealEstate Domain = "realestate"
	DomainGeneric    Domain = "generic"
)

// AllDomains lists every known domain in a stable order.
var AllDomains = []Domain{
	DomainIGaming,
	DomainECommerce,
	DomainHealthcare,
	DomainFintech,
	DomainRealEstate,
	DomainGeneric,
}

// ParseDomain validates a domain name. Matching is case-insensitive.
func ParseDomain(s string) (Domain, error) {
	d := Domain(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range AllDomains {
		if d == known {
			return d, nil
		}
	}
	return "", fmt.Errorf("unknown domain %q", s)
}

// IntentConfig describes one detectable intent. Intents without examples are
// keyword-only.
type IntentConfig struct {
	Name      string   `yaml:"name"`
	Webhook   string   `yaml:"webhook"`
	Threshold float64  `yaml:"threshold"`
	Keywords  []string `yaml:"keywords"`
	Examples  []string `yaml:"examples"`
}

// DomainConfig is the per-domain prompt, greeting and intent table.
type DomainConfig struct {
	SystemPrompt string         `yaml:"system_prompt"`
	Greeting     string         `yaml:"greeting"`
	Intents      []IntentConfig `yaml:"intents"`
}

// VoiceAgent maps a selectable voice onto a telephony agent.
type VoiceAgent struct {
	ID          string `yaml:"id" json:"id"`
	AgentID     string `yaml:"agent_id" json:"-"`
	Name        string `yaml:"name" json:"name"`
	Language    string `yaml:"language" json:"language"`
	Gender      string `yaml:"gender" json:"gender"`
	Description string `yaml:"description" json:"description"`
	PreviewURL  string `yaml:"preview_url" json:"preview_url,omitempty"`
}

type catalogFile struct {
	Voices  []VoiceAgent            `yaml:"voices"`
	Domains map[string]DomainConfig `yaml:"domains"`
}

//go:embed domains.yaml
var builtinCatalog []byte

// Catalog is the immutable domain and voice lookup table.
type Catalog struct {
	domains map[Domain]DomainConfig
	voices  []VoiceAgent
}

// LoadCatalog parses the built-in catalog and applies the optional override
// file. defaultAgentID fills voices that do not name an agent.
func LoadCatalog(overridePath, defaultAgentID string) (*Catalog, error) {
	var base catalogFile
	if err := yaml.Unmarshal(builtinCatalog, &base); err != nil {
		return nil, fmt.Errorf("parse built-in domains: %w", err)
	}

	if overridePath != "" {
		raw, err := os.ReadFile(overridePath)
		if err != nil {
			return nil, fmt.Errorf("read domains file: %w", err)
		}
		var extra catalogFile
		if err := yaml.Unmarshal(raw, &extra); err != nil {
			return nil, fmt.Errorf("parse domains file %s: %w", overridePath, err)
		}
		for name, dc := range extra.Domains {
			base.Domains[name] = dc
		}
		base.Voices = mergeVoices(base.Voices, extra.Voices)
	}

	return newCatalog(base, defaultAgentID)
}

func mergeVoices(base, extra []VoiceAgent) []VoiceAgent {
	out := append([]VoiceAgent(nil), base...)
	for _, v := range extra {
		replaced := false
		for i := range out {
			if out[i].ID == v.ID {
				out[i] = v
				replaced = true
				break
			}
		}
		if !replaced {
			out = append(out, v)
		}
	}
	return out
}

func newCatalog(f catalogFile, defaultAgentID string) (*Catalog, error) {
	c := &Catalog{domains: make(map[Domain]DomainConfig, len(f.Domains))}

	names := make([]string, 0, len(f.Domains))
	for name := range f.Domains {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		d, err := ParseDomain(name)
		if err != nil {
			return nil, err
		}
		dc := f.Domains[name]
		if err := validateDomain(d, dc); err != nil {
			return nil, err
		}
		c.domains[d] = dc
	}
	if _, ok := c.domains[DomainGeneric]; !ok {
		return nil, fmt.Errorf("domain %q must be defined", DomainGeneric)
	}

	hasDefault := false
	for _, v := range f.Voices {
		if v.ID == "" {
			return nil, fmt.Errorf("voice entry without id")
		}
		if v.AgentID == "" {
			v.AgentID = defaultAgentID
		}
		if v.ID == "default" {
			hasDefault = true
		}
		c.voices = append(c.voices, v)
	}
	if !hasDefault {
		return nil, fmt.Errorf("voice %q must be defined", "default")
	}
	return c, nil
}

func validateDomain(d Domain, dc DomainConfig) error {
	if strings.TrimSpace(dc.SystemPrompt) == "" {
		return fmt.Errorf("domain %s: system_prompt is required", d)
	}
	if strings.TrimSpace(dc.Greeting) == "" {
		return fmt.Errorf("domain %s: greeting is required", d)
	}
	seen := make(map[string]struct{}, len(dc.Intents))
	for _, in := range dc.Intents {
		if in.Name == "" {
			return fmt.Errorf("domain %s: intent without name", d)
		}
		if _, dup := seen[in.Name]; dup {
			return fmt.Errorf("domain %s: duplicate intent %q", d, in.Name)
		}
		seen[in.Name] = struct{}{}
		if !strings.HasPrefix(in.Webhook, "/") {
			return fmt.Errorf("domain %s: intent %q webhook must start with /", d, in.Name)
		}
		if len(in.Examples) > 0 && (in.Threshold <= 0 || in.Threshold > 1) {
			return fmt.Errorf("domain %s: intent %q threshold must be in (0, 1]", d, in.Name)
		}
	}
	return nil
}

// Domain returns the configuration for d, falling back to generic.
func (c *Catalog) Domain(d Domain) DomainConfig {
	if dc, ok := c.domains[d]; ok {
		return dc
	}
	return c.domains[DomainGeneric]
}

// Voice returns the voice agent for id, falling back to the default voice.
func (c *Catalog) Voice(id string) VoiceAgent {
	var fallback VoiceAgent
	for _, v := range c.voices {
		if v.ID == id {
			return v
		}
		if v.ID == "default" {
			fallback = v
		}
	}
	return fallback
}

// Voices returns all configured voices in declaration order.
func (c *Catalog) Voices() []VoiceAgent {
	return append([]VoiceAgent(nil), c.voices...)
}
