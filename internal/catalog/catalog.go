// ABOUTME: Static demo catalog of documentation updates, gaps, and seed content
// ABOUTME: Parsed once at startup from an embedded TOML data file

package catalog

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
)

//go:embed data.toml
var rawData []byte

// Gap types.
const (
	GapTypeStaleness    = "STALENESS"
	GapTypeUndocumented = "UNDOCUMENTED"
	GapTypeObsolete     = "OBSOLETE"
)

// Gap severities.
const (
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"
	SeverityLow      = "low"
)

// Catalog holds every piece of canned demo data. It is loaded once at process
// start and never mutated.
type Catalog struct {
	Updates []Update `toml:"update"`
	GapList []Gap    `toml:"gap"`
	Seeds   []Seed   `toml:"seed"`
	Trigger Trigger  `toml:"trigger"`
}

// Update maps one source file to its prepared documentation updates.
type Update struct {
	Source string      `toml:"source"`
	Docs   []DocUpdate `toml:"docs"`
}

// DocUpdate is one prepared documentation file revision.
type DocUpdate struct {
	Path    string `toml:"path"`
	Content string `toml:"content"`
}

// Gap is one predetermined documentation gap finding.
type Gap struct {
	ID          string `toml:"id" json:"id"`
	Type        string `toml:"type" json:"type"`
	Severity    string `toml:"severity" json:"severity"`
	File        string `toml:"file" json:"file"`
	Description string `toml:"description" json:"description"`
	Evidence    string `toml:"evidence" json:"evidence,omitempty"`
	Fix         Fix    `toml:"fix" json:"suggestedFix"`
}

// Fix is the suggested text replacement for a gap.
type Fix struct {
	File   string `toml:"file" json:"file"`
	Before string `toml:"before" json:"before"`
	After  string `toml:"after" json:"after"`
}

// Seed is the initial content of one repository file, restored by reset.
type Seed struct {
	Repo    string `toml:"repo"` // "docs" or "code"
	Path    string `toml:"path"`
	Content string `toml:"content"`
}

// Trigger is the canned code change pushed by the demo trigger endpoint.
type Trigger struct {
	File              string   `toml:"file"`
	Content           string   `toml:"content"`
	ChangedFiles      []string `toml:"changed_files"`
	WebhookDelayUnits int      `toml:"webhook_delay_units"`
}

// Load parses the embedded catalog data.
func Load() (*Catalog, error) {
	var c Catalog
	if err := toml.Unmarshal(rawData, &c); err != nil {
		return nil, fmt.Errorf("parsing catalog data: %w", err)
	}
	if err := c.validate(); err != nil {
		return nil, fmt.Errorf("invalid catalog data: %w", err)
	}
	return &c, nil
}

// validate checks internal consistency of the catalog.
func (c *Catalog) validate() error {
	seen := make(map[string]bool, len(c.GapList))
	for _, g := range c.GapList {
		if g.ID == "" {
			return fmt.Errorf("gap with empty id")
		}
		if seen[g.ID] {
			return fmt.Errorf("duplicate gap id %q", g.ID)
		}
		seen[g.ID] = true

		switch g.Type {
		case GapTypeStaleness, GapTypeUndocumented, GapTypeObsolete:
		default:
			return fmt.Errorf("gap %s: unknown type %q", g.ID, g.Type)
		}
		switch g.Severity {
		case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow:
		default:
			return fmt.Errorf("gap %s: unknown severity %q", g.ID, g.Severity)
		}
		if g.Fix.File == "" || g.Fix.Before == "" {
			return fmt.Errorf("gap %s: fix requires file and before text", g.ID)
		}
	}

	for _, u := range c.Updates {
		if u.Source == "" || len(u.Docs) == 0 {
			return fmt.Errorf("update entry requires source and at least one doc")
		}
	}
	return nil
}

// UpdatesFor returns the prepared documentation updates for the given changed
// source paths, in input order, deduplicated by documentation path (a doc file
// mapped by two inputs appears once). Paths with no mapping are ignored.
func (c *Catalog) UpdatesFor(paths []string) []DocUpdate {
	var out []DocUpdate
	seen := make(map[string]bool)
	for _, p := range paths {
		for _, u := range c.Updates {
			if u.Source != p {
				continue
			}
			for _, d := range u.Docs {
				if seen[d.Path] {
					continue
				}
				seen[d.Path] = true
				out = append(out, d)
			}
		}
	}
	return out
}

// Gaps returns the full static gap list.
func (c *Catalog) Gaps() []Gap {
	return c.GapList
}

// GapByID looks up one gap. The second return is false for unknown ids.
func (c *Catalog) GapByID(id string) (Gap, bool) {
	for _, g := range c.GapList {
		if g.ID == id {
			return g, true
		}
	}
	return Gap{}, false
}

// SeedContent returns the initial content for a repository file, if known.
func (c *Catalog) SeedContent(path string) (string, bool) {
	for _, s := range c.Seeds {
		if s.Path == path {
			return s.Content, true
		}
	}
	return "", false
}

// Apply replaces the first occurrence of the gap's literal before text with
// its after text. If the before text does not occur, the input is returned
// unchanged; callers that need to detect a failed match must compare the
// result to the input.
func (g Gap) Apply(content string) string {
	return strings.Replace(content, g.Fix.Before, g.Fix.After, 1)
}
