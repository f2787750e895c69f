package knownissues

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *Database {
	t.Helper()
	db, err := New()
	require.NoError(t, err)
	return db
}

func writeCatalog(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "issues.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaultCatalog(t *testing.T) {
	db := newTestDB(t)
	all := db.All()
	require.Len(t, all, 12)

	ids := make([]string, len(all))
	for i, issue := range all {
		ids[i] = issue.ID
		assert.NoError(t, issue.Validate())
	}
	assert.IsIncreasing(t, ids)
	assert.Contains(t, ids, "k8s-pod-crashloop")
	assert.Contains(t, ids, "k8s-image-pull")
	assert.Contains(t, ids, "disk-space-full")
}

func TestGet(t *testing.T) {
	db := newTestDB(t)

	issue, err := db.Get("container-oom")
	require.NoError(t, err)
	assert.Equal(t, "Container Out of Memory", issue.Title)
	assert.Equal(t, CategoryContainer, issue.Category)
	assert.Equal(t, SeverityCritical, issue.Severity)

	_, err = db.Get("nope")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestSearch(t *testing.T) {
	db := newTestDB(t)

	tests := []struct {
		query string
		want  string
	}{
		{"CrashLoopBackOff", "k8s-pod-crashloop"},
		{"disk", "disk-space-full"},
		{"my ssh server is slow", "failed-login-attempts"},
		{"critically low", "disk-space-full"},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			var ids []string
			for _, issue := range db.Search(tt.query) {
				ids = append(ids, issue.ID)
			}
			assert.Contains(t, ids, tt.want)
		})
	}

	assert.Empty(t, db.Search("   "))
	assert.Empty(t, db.Search("zzzz"))
}

func TestMatchScoring(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.Add(Issue{
		ID:       "custom",
		Title:    "Custom",
		Category: CategoryStorage,
		Severity: SeverityLow,
		Patterns: []string{"inode exhaustion"},
		Keywords: []string{"inode"},
		Symptoms: []string{"cannot create files"},
		Tags:     []string{"fs"},
	}))

	matches := db.Match("INODE EXHAUSTION: cannot create files on fs", CategoryStorage)
	require.NotEmpty(t, matches)
	top := matches[0]
	assert.Equal(t, "custom", top.Issue.ID)
	assert.InDelta(t, 0.4+0.2+0.3+0.1, top.Confidence, 1e-9)
	assert.Equal(t, []string{"inode exhaustion"}, top.MatchedPatterns)
	assert.Equal(t, []string{"inode"}, top.MatchedKeywords)

	for _, m := range matches {
		assert.Equal(t, CategoryStorage, m.Issue.Category)
	}
}

func TestMatchOrderingAndThreshold(t *testing.T) {
	db := newTestDB(t)

	matches := db.Match("pod web is in CrashLoopBackOff with a high restart count", "")
	require.NotEmpty(t, matches)
	assert.Equal(t, "k8s-pod-crashloop", matches[0].Issue.ID)
	for i := 1; i < len(matches); i++ {
		assert.GreaterOrEqual(t, matches[i-1].Confidence, matches[i].Confidence)
	}
	for _, m := range matches {
		assert.Greater(t, m.Confidence, 0.1)
	}

	// A single tag hit scores exactly the floor and is dropped.
	require.NoError(t, db.Add(Issue{ID: "tag-only", Title: "T", Category: CategorySystem, Severity: SeverityInfo, Tags: []string{"qwerty"}}))
	for _, m := range db.Match("qwerty", "") {
		assert.NotEqual(t, "tag-only", m.Issue.ID)
	}
}

func TestRelevantAndEnrich(t *testing.T) {
	db := newTestDB(t)

	relevant := db.Relevant("kubelet says: Back-off restarting failed container web")
	require.NotEmpty(t, relevant)
	assert.Equal(t, "k8s-pod-crashloop", relevant[0].ID)

	problem := "my pod is in crashloopbackoff"
	enriched := db.Enrich(problem)
	assert.True(t, strings.HasPrefix(enriched, problem))
	assert.Contains(t, enriched, "KNOWN ISSUES THAT MAY BE RELEVANT:")
	assert.Contains(t, enriched, "- Kubernetes Pod CrashLoopBackOff: Pod is in CrashLoopBackOff state")
	assert.Contains(t, enriched, "Consider these known issues when analyzing the system state.")

	assert.Equal(t, "hello there", db.Enrich("hello there"))
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	db := newTestDB(t)
	path := writeCatalog(t, `issues:
  - id: disk-space-full
    title: Disk Space Full (site)
    description: Our volumes fill up.
    category: storage
    severity: high
  - id: site-nfs-stale
    title: Stale NFS handle
    description: NFS mounts go stale after failover.
    category: storage
    severity: medium
    patterns: ["stale file handle"]
`)

	n, err := db.LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, db.All(), 13)

	issue, err := db.Get("disk-space-full")
	require.NoError(t, err)
	assert.Equal(t, "Disk Space Full (site)", issue.Title)

	matches := db.Match("Stale file handle on /mnt/data", "")
	require.NotEmpty(t, matches)
	assert.Equal(t, "site-nfs-stale", matches[0].Issue.ID)

	// Reloading replaces the previous custom set.
	require.NoError(t, os.WriteFile(path, []byte("issues: []\n"), 0o600))
	_, err = db.LoadFile(path)
	require.NoError(t, err)
	assert.Len(t, db.All(), 12)
	issue, _ = db.Get("disk-space-full")
	assert.Equal(t, "Disk Space Full", issue.Title)
}

func TestLoadFileErrors(t *testing.T) {
	db := newTestDB(t)
	good := writeCatalog(t, "issues:\n  - {id: a, title: A, category: system, severity: low}\n")
	_, err := db.LoadFile(good)
	require.NoError(t, err)

	tests := map[string]string{
		"bad yaml":         "issues: [",
		"missing id":       "issues:\n  - {title: A, category: system, severity: low}\n",
		"unknown category": "issues:\n  - {id: b, title: B, category: gpu, severity: low}\n",
		"unknown severity": "issues:\n  - {id: b, title: B, category: system, severity: urgent}\n",
		"duplicate ids":    "issues:\n  - {id: b, title: B, category: system, severity: low}\n  - {id: b, title: C, category: system, severity: low}\n",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := db.LoadFile(writeCatalog(t, content))
			assert.Error(t, err)
			_, err = db.Get("a")
			assert.NoError(t, err, "previous custom issues must survive a failed load")
		})
	}

	_, err = db.LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestClusterVersionGating(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.Add(Issue{
		ID:                 "legacy-psp",
		Title:              "PodSecurityPolicy removed",
		Category:           CategoryKubernetes,
		Severity:           SeverityHigh,
		Patterns:           []string{"podsecuritypolicy"},
		KubernetesVersions: ">= 1.25",
	}))

	hasPSP := func() bool {
		for _, m := range db.Match("error: no matches for kind PodSecurityPolicy", "") {
			if m.Issue.ID == "legacy-psp" {
				return true
			}
		}
		return false
	}

	assert.True(t, hasPSP(), "unknown cluster version keeps the issue")

	require.NoError(t, db.SetClusterVersion("v1.24.9"))
	assert.False(t, hasPSP())

	require.NoError(t, db.SetClusterVersion("v1.29.3+k3s1"))
	assert.True(t, hasPSP())

	require.NoError(t, db.SetClusterVersion(""))
	assert.True(t, hasPSP())

	assert.Error(t, db.SetClusterVersion("not-a-version"))
}

func TestAddValidates(t *testing.T) {
	db := newTestDB(t)
	assert.Error(t, db.Add(Issue{ID: "x"}))
	assert.Error(t, db.Add(Issue{ID: "x", Title: "X", Category: CategorySystem}))
}

func TestParseCategory(t *testing.T) {
	c, err := ParseCategory(" Kubernetes ")
	require.NoError(t, err)
	assert.Equal(t, CategoryKubernetes, c)

	_, err = ParseCategory("gpu")
	assert.Error(t, err)
}

func TestIssueFormat(t *testing.T) {
	db := newTestDB(t)
	issue, err := db.Get("systemd-failed-units")
	require.NoError(t, err)

	out := issue.Format()
	assert.True(t, strings.HasPrefix(out, "KNOWN ISSUE: Systemd Failed Units\n"))
	assert.Contains(t, out, "Category: systemd\n")
	assert.Contains(t, out, "Severity: high\n")
	assert.Contains(t, out, "Verification Commands:\nsystemctl --failed\n")
	assert.Contains(t, out, "Fix Commands:\nRestart failed unit: systemctl restart <unit-name>\n")
}
