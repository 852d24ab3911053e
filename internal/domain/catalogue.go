// Package domain holds the experiment domains and their prompt catalogue.
package domain

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed domains.yaml
var defaultCatalogue []byte

// Prompt keys
const (
	PromptSingle                   = "single"
	PromptDualBase                 = "dual_base"
	PromptConsensusBase            = "consensus_base"
	PromptAdversarialSecret        = "adversarial_secret_instructions"
	PromptDualInterim              = "dual_interim_format"
	PromptDualFinal                = "dual_final_format"
	PromptAdversarialStandardFinal = "adversarial_standard_final_format"
	PromptConsensusInterim         = "consensus_interim_format"
	PromptConsensusFinal           = "consensus_final_format"
	PromptAdversarialInterim       = "adversarial_interim_format"
	PromptAdversarialFinal         = "adversarial_final_format"
	PromptRoundOne                 = "round_1_user_message"
	PromptSubsequentRound          = "subsequent_round_user_message"
)

var requiredPrompts = []string{
	PromptSingle, PromptDualBase, PromptConsensusBase, PromptAdversarialSecret,
	PromptDualInterim, PromptDualFinal, PromptAdversarialStandardFinal,
	PromptConsensusInterim, PromptConsensusFinal, PromptAdversarialInterim,
	PromptAdversarialFinal, PromptRoundOne, PromptSubsequentRound,
}

// Prompts maps a prompt key to its template text.
type Prompts map[string]string

// Render substitutes {placeholder} values into the named template.
func (p Prompts) Render(key string, vars map[string]string) string {
	tmpl := p[key]
	if len(vars) == 0 {
		return tmpl
	}
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}

// Domain is one experiment domain.
type Domain struct {
	Name            string   `yaml:"name" json:"name"`
	DisplayName     string   `yaml:"display_name" json:"displayName"`
	Enabled         bool     `yaml:"enabled" json:"enabled"`
	ContentFields   []string `yaml:"content_fields" json:"contentFields"`
	ExperimentTypes []string `yaml:"experiment_types" json:"experimentTypes"`
	ContextStrategy string   `yaml:"context_strategy" json:"contextStrategy"`
	Metrics         []string `yaml:"metrics" json:"metrics"`
	Prompts         Prompts  `yaml:"prompts" json:"-"`
}

type catalogueFile struct {
	Defaults Prompts  `yaml:"defaults"`
	Domains  []Domain `yaml:"domains"`
}

// Catalogue is the set of known domains. Enabled flags can change at runtime.
type Catalogue struct {
	mu       sync.RWMutex
	defaults Prompts
	domains  map[string]*Domain
}

// Load parses the embedded catalogue and disables the named domains.
func Load(disabled ...string) (*Catalogue, error) {
	c, err := Parse(defaultCatalogue)
	if err != nil {
		return nil, err
	}
	for _, name := range disabled {
		if name == "" {
			continue
		}
		if err := c.SetEnabled(name, false); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Parse builds a catalogue from YAML.
func Parse(data []byte) (*Catalogue, error) {
	var f catalogueFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse domain catalogue: %w", err)
	}

	for _, key := range requiredPrompts {
		if f.Defaults[key] == "" {
			return nil, fmt.Errorf("domain catalogue is missing default prompt %q", key)
		}
	}

	c := &Catalogue{
		defaults: f.Defaults,
		domains:  make(map[string]*Domain, len(f.Domains)),
	}
	for i := range f.Domains {
		d := f.Domains[i]
		if d.Name == "" {
			return nil, fmt.Errorf("domain catalogue entry %d has no name", i)
		}
		c.domains[d.Name] = &d
	}
	return c, nil
}

// Names returns the domain names in sorted order.
func (c *Catalogue) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.domains))
	for name := range c.domains {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Get returns a copy of the named domain.
func (c *Catalogue) Get(name string) (Domain, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	d, ok := c.domains[name]
	if !ok {
		return Domain{}, false
	}
	return *d, true
}

// SetEnabled toggles a domain.
func (c *Catalogue) SetEnabled(name string, enabled bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	d, ok := c.domains[name]
	if !ok {
		return fmt.Errorf("domain %q not found", name)
	}
	d.Enabled = enabled
	return nil
}

// Defaults returns the shared prompt set.
func (c *Catalogue) Defaults() Prompts {
	return c.PromptsFor("")
}

// PromptsFor returns the domain's prompts layered over the defaults.
// An unknown name yields the defaults.
func (c *Catalogue) PromptsFor(name string) Prompts {
	c.mu.RLock()
	defer c.mu.RUnlock()

	merged := make(Prompts, len(c.defaults))
	for k, v := range c.defaults {
		merged[k] = v
	}
	if d, ok := c.domains[name]; ok {
		for k, v := range d.Prompts {
			merged[k] = v
		}
	}
	return merged
}
