package knownissues

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/hashicorp/go-version"
	"gopkg.in/yaml.v3"

	"github.com/moolen/raid/internal/logging"
)

// Scoring weights applied per matched element.
const (
	patternWeight = 0.4
	keywordWeight = 0.2
	symptomWeight = 0.3
	tagWeight     = 0.1

	// minConfidence is the floor for Match results.
	minConfidence = 0.1
	// RelevantConfidence is the floor for Relevant and Enrich.
	RelevantConfidence = 0.3
)

// ErrNotFound is returned by Get for unknown ids.
var ErrNotFound = errors.New("known issue not found")

//go:embed defaults.yaml
var defaultCatalog []byte

type catalogFile struct {
	Issues []Issue `yaml:"issues"`
}

// Database holds the default catalog plus any custom issues. It is safe for
// concurrent use.
type Database struct {
	mu             sync.RWMutex
	defaults       map[string]Issue
	custom         map[string]Issue
	clusterVersion *version.Version
	logger         *logging.Logger
}

// New returns a database seeded with the embedded default catalog.
func New() (*Database, error) {
	issues, err := parseCatalog(defaultCatalog)
	if err != nil {
		return nil, fmt.Errorf("failed to load default catalog: %w", err)
	}
	db := &Database{
		defaults: make(map[string]Issue, len(issues)),
		custom:   make(map[string]Issue),
		logger:   logging.GetLogger("knownissues"),
	}
	for _, issue := range issues {
		db.defaults[issue.ID] = issue
	}
	return db, nil
}

func parseCatalog(data []byte) ([]Issue, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(f.Issues))
	for _, issue := range f.Issues {
		if err := issue.Validate(); err != nil {
			return nil, err
		}
		if seen[issue.ID] {
			return nil, fmt.Errorf("duplicate issue id %q", issue.ID)
		}
		seen[issue.ID] = true
	}
	return f.Issues, nil
}

// Add inserts or replaces an issue.
func (db *Database) Add(issue Issue) error {
	if err := issue.Validate(); err != nil {
		return err
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	db.custom[issue.ID] = issue
	return nil
}

// LoadFile replaces the custom issues with the catalog at path. Custom
// issues override defaults with the same id. On error the previous custom
// set is kept.
func (db *Database) LoadFile(path string) (int, error) {
	// #nosec G304 -- catalog path is operator configuration
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read known issues from %q: %w", path, err)
	}
	issues, err := parseCatalog(data)
	if err != nil {
		return 0, fmt.Errorf("invalid known issues file %q: %w", path, err)
	}

	custom := make(map[string]Issue, len(issues))
	for _, issue := range issues {
		custom[issue.ID] = issue
	}

	db.mu.Lock()
	db.custom = custom
	db.mu.Unlock()

	db.logger.Debug("loaded %d custom known issues from %s", len(issues), path)
	return len(issues), nil
}

// SetClusterVersion sets the Kubernetes version used to filter issues with
// a KubernetesVersions constraint. An empty string clears it.
func (db *Database) SetClusterVersion(v string) error {
	if v == "" {
		db.mu.Lock()
		db.clusterVersion = nil
		db.mu.Unlock()
		return nil
	}
	parsed, err := version.NewVersion(v)
	if err != nil {
		return fmt.Errorf("invalid cluster version %q: %w", v, err)
	}
	db.mu.Lock()
	db.clusterVersion = parsed
	db.mu.Unlock()
	return nil
}

// applicable reports whether the issue applies to the current cluster.
// Issues are kept when the version is unknown. Caller holds the read lock.
func (db *Database) applicable(issue Issue) bool {
	if issue.KubernetesVersions == "" || db.clusterVersion == nil {
		return true
	}
	constraints, err := version.NewConstraint(issue.KubernetesVersions)
	if err != nil {
		db.logger.Warn("issue %s has an invalid kubernetes_versions constraint: %v", issue.ID, err)
		return true
	}
	return constraints.Check(db.clusterVersion.Core())
}

// merged returns defaults overlaid with custom issues. Caller holds the
// read lock.
func (db *Database) merged() map[string]Issue {
	out := make(map[string]Issue, len(db.defaults)+len(db.custom))
	for id, issue := range db.defaults {
		out[id] = issue
	}
	for id, issue := range db.custom {
		out[id] = issue
	}
	return out
}

// Get returns the issue with the given id.
func (db *Database) Get(id string) (Issue, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if issue, ok := db.custom[id]; ok {
		return issue, nil
	}
	if issue, ok := db.defaults[id]; ok {
		return issue, nil
	}
	return Issue{}, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// All returns every issue sorted by id.
func (db *Database) All() []Issue {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return sortedIssues(db.merged())
}

func sortedIssues(m map[string]Issue) []Issue {
	out := make([]Issue, 0, len(m))
	for _, issue := range m {
		out = append(out, issue)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Search returns issues whose title or description contains query, or whose
// keywords or tags occur in query. Matching is case-insensitive.
func (db *Database) Search(query string) []Issue {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil
	}

	db.mu.RLock()
	defer db.mu.RUnlock()

	var out []Issue
	for _, issue := range sortedIssues(db.merged()) {
		if strings.Contains(strings.ToLower(issue.Title), q) ||
			strings.Contains(strings.ToLower(issue.Description), q) ||
			containsAny(q, issue.Keywords) ||
			containsAny(q, issue.Tags) {
			out = append(out, issue)
		}
	}
	return out
}

func containsAny(text string, needles []string) bool {
	for _, n := range needles {
		if n != "" && strings.Contains(text, strings.ToLower(n)) {
			return true
		}
	}
	return false
}

// Match scores every applicable issue against text. An empty category
// matches all categories. Results above the minimum confidence are returned
// highest first.
func (db *Database) Match(text string, category Category) []Match {
	lower := strings.ToLower(text)

	db.mu.RLock()
	defer db.mu.RUnlock()

	var matches []Match
	for _, issue := range sortedIssues(db.merged()) {
		if category != "" && issue.Category != category {
			continue
		}
		if !db.applicable(issue) {
			continue
		}

		m := Match{Issue: issue}
		for _, p := range issue.Patterns {
			if strings.Contains(lower, strings.ToLower(p)) {
				m.Confidence += patternWeight
				m.MatchedPatterns = append(m.MatchedPatterns, p)
			}
		}
		for _, k := range issue.Keywords {
			if strings.Contains(lower, strings.ToLower(k)) {
				m.Confidence += keywordWeight
				m.MatchedKeywords = append(m.MatchedKeywords, k)
			}
		}
		for _, s := range issue.Symptoms {
			if strings.Contains(lower, strings.ToLower(s)) {
				m.Confidence += symptomWeight
			}
		}
		for _, t := range issue.Tags {
			if strings.Contains(lower, strings.ToLower(t)) {
				m.Confidence += tagWeight
			}
		}

		if m.Confidence > minConfidence {
			matches = append(matches, m)
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Confidence > matches[j].Confidence
	})
	return matches
}

// Relevant returns the issues matching text with a confidence above
// RelevantConfidence.
func (db *Database) Relevant(text string) []Issue {
	var out []Issue
	for _, m := range db.Match(text, "") {
		if m.Confidence > RelevantConfidence {
			out = append(out, m.Issue)
		}
	}
	return out
}

// Enrich appends the relevant issues to a problem statement. Text without
// relevant issues is returned unchanged.
func (db *Database) Enrich(text string) string {
	relevant := db.Relevant(text)
	if len(relevant) == 0 {
		return text
	}

	var b strings.Builder
	b.WriteString(text)
	b.WriteString("\n\nKNOWN ISSUES THAT MAY BE RELEVANT:\n")
	for _, issue := range relevant {
		fmt.Fprintf(&b, "- %s: %s\n", issue.Title, issue.Description)
	}
	b.WriteString("\nConsider these known issues when analyzing the system state.\n")
	return b.String()
}
