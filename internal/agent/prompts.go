package agent

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed prompts.yaml
var defaultPrompts []byte

// Prompt is one versioned catalog entry. Wording is data: placeholders in
// braces such as {reference} are substituted at render time.
type Prompt struct {
	Version     string  `yaml:"version"`
	Tier        string  `yaml:"tier"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
	System      string  `yaml:"system"`
	User        string  `yaml:"user"`
}

type catalogFile struct {
	Prompts map[string]Prompt `yaml:"prompts"`
}

// Catalog holds the prompts used by the analysis nodes.
type Catalog struct {
	prompts map[string]Prompt
}

// DefaultCatalog returns the embedded catalog.
func DefaultCatalog() (*Catalog, error) {
	return parseCatalog(defaultPrompts, nil)
}

// LoadCatalog returns the embedded catalog overlaid with the entries of the
// file at path. An empty path yields the embedded catalog.
func LoadCatalog(path string) (*Catalog, error) {
	base, err := DefaultCatalog()
	if err != nil {
		return nil, err
	}
	if path == "" {
		return base, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read prompt catalog: %w", err)
	}
	return parseCatalog(data, base.prompts)
}

func parseCatalog(data []byte, base map[string]Prompt) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse prompt catalog: %w", err)
	}
	prompts := make(map[string]Prompt, len(base)+len(f.Prompts))
	for k, v := range base {
		prompts[k] = v
	}
	for k, v := range f.Prompts {
		if v.Version == "" {
			return nil, fmt.Errorf("prompt %q has no version", k)
		}
		prompts[k] = v
	}
	return &Catalog{prompts: prompts}, nil
}

// Get returns the named prompt.
func (c *Catalog) Get(name string) (Prompt, bool) {
	p, ok := c.prompts[name]
	return p, ok
}

// Names lists the catalog entries.
func (c *Catalog) Names() []string {
	out := make([]string, 0, len(c.prompts))
	for k := range c.prompts {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// render substitutes {key} placeholders. Unknown placeholders and any other
// braces, such as JSON examples in the wording, are left untouched.
func render(text string, vars map[string]string) string {
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(text)
}
