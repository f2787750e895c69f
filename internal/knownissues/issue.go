// Package knownissues is the catalog of recognizable failure patterns. It
// scores free text against the catalog and appends matching issues to a
// problem statement before the diagnostic loop starts.
package knownissues

import (
	"fmt"
	"strings"
)

// Category groups issues by subsystem.
type Category string

const (
	CategorySystem        Category = "system"
	CategoryContainer     Category = "container"
	CategoryKubernetes    Category = "kubernetes"
	CategoryCgroups       Category = "cgroups"
	CategorySystemd       Category = "systemd"
	CategoryJournal       Category = "journal"
	CategoryNetwork       Category = "network"
	CategoryStorage       Category = "storage"
	CategorySecurity      Category = "security"
	CategoryPerformance   Category = "performance"
	CategoryConfiguration Category = "configuration"
)

// Categories lists every valid category.
func Categories() []Category {
	return []Category{
		CategorySystem, CategoryContainer, CategoryKubernetes, CategoryCgroups,
		CategorySystemd, CategoryJournal, CategoryNetwork, CategoryStorage,
		CategorySecurity, CategoryPerformance, CategoryConfiguration,
	}
}

// ParseCategory validates a category name. Matching is case-insensitive.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Categories() {
		if c == known {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown category %q", s)
}

// Severity ranks the impact of an issue.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// Issue is one known failure pattern.
type Issue struct {
	ID          string   `yaml:"id" json:"id"`
	Title       string   `yaml:"title" json:"title"`
	Description string   `yaml:"description" json:"description"`
	Category    Category `yaml:"category" json:"category"`
	Severity    Severity `yaml:"severity" json:"severity"`

	// Patterns are phrases expected verbatim in command output.
	Patterns []string `yaml:"patterns,omitempty" json:"patterns,omitempty"`
	Keywords []string `yaml:"keywords,omitempty" json:"keywords,omitempty"`
	Symptoms []string `yaml:"symptoms,omitempty" json:"symptoms,omitempty"`

	VerificationCommands []string `yaml:"verification_commands,omitempty" json:"verification_commands,omitempty"`
	FixCommands          []string `yaml:"fix_commands,omitempty" json:"fix_commands,omitempty"`
	Prerequisites        []string `yaml:"prerequisites,omitempty" json:"prerequisites,omitempty"`
	// Distribution restricts the issue to one Linux distribution.
	Distribution string   `yaml:"distribution,omitempty" json:"distribution,omitempty"`
	Tags         []string `yaml:"tags,omitempty" json:"tags,omitempty"`
	NextSteps    []string `yaml:"next_steps,omitempty" json:"next_steps,omitempty"`

	// KubernetesVersions is a version constraint such as ">= 1.25, < 1.29".
	// The issue is skipped on clusters outside the range.
	KubernetesVersions string `yaml:"kubernetes_versions,omitempty" json:"kubernetes_versions,omitempty"`
}

// Validate checks the fields required to index an issue.
func (i Issue) Validate() error {
	if strings.TrimSpace(i.ID) == "" {
		return fmt.Errorf("issue id is required")
	}
	if strings.TrimSpace(i.Title) == "" {
		return fmt.Errorf("issue %q: title is required", i.ID)
	}
	if _, err := ParseCategory(string(i.Category)); err != nil {
		return fmt.Errorf("issue %q: %w", i.ID, err)
	}
	switch i.Severity {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityInfo:
	default:
		return fmt.Errorf("issue %q: unknown severity %q", i.ID, i.Severity)
	}
	return nil
}

// Format renders the issue as a prompt section.
func (i Issue) Format() string {
	var b strings.Builder
	fmt.Fprintf(&b, "KNOWN ISSUE: %s\n", i.Title)
	fmt.Fprintf(&b, "Category: %s\n", i.Category)
	fmt.Fprintf(&b, "Severity: %s\n", i.Severity)
	fmt.Fprintf(&b, "Description: %s\n", i.Description)
	b.WriteString("Next Steps:\n")
	writeLines(&b, i.NextSteps)
	b.WriteString("Verification Commands:\n")
	writeLines(&b, i.VerificationCommands)
	b.WriteString("Fix Commands:\n")
	writeLines(&b, i.FixCommands)
	return b.String()
}

func writeLines(b *strings.Builder, lines []string) {
	for _, l := range lines {
		b.WriteString(l)
		b.WriteByte('\n')
	}
}

// Match is an issue scored against some text.
type Match struct {
	Issue           Issue    `json:"issue"`
	Confidence      float64  `json:"confidence"`
	MatchedPatterns []string `json:"matched_patterns,omitempty"`
	MatchedKeywords []string `json:"matched_keywords,omitempty"`
}
