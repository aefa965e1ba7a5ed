package report

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alavret/sync-deps-from-hub-v2/pkg/assign"
	"github.com/alavret/sync-deps-from-hub-v2/pkg/hierarchy"
	"github.com/alavret/sync-deps-from-hub-v2/pkg/reconcile"
	syncpkg "github.com/alavret/sync-deps-from-hub-v2/pkg/sync"
)

func sampleResult() *syncpkg.Result {
	plan := &reconcile.Plan{}
	plan.Add(reconcile.Change{Type: reconcile.ChangeCreate, Path: "Company;Sales", ExternalID: "g-sales", ParentID: 10})
	plan.Add(reconcile.Change{Type: reconcile.ChangeDelete, Path: "Company;Legacy", RemoteID: 21})

	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &syncpkg.Result{
		Status: syncpkg.StatusPartial,
		Hierarchy: &hierarchy.Hierarchy{
			Nodes: []hierarchy.Node{{Name: "Company", Path: []string{"Company"}, Level: 1}},
			Memberships: []hierarchy.Membership{
				{NodePath: []string{"Company"}, Email: "alice@example.com"},
			},
		},
		Validation: &hierarchy.Report{
			Warnings: []hierarchy.Issue{{Code: hierarchy.CodeEmptyExternalID, Subject: "Company;Temp"}},
		},
		Reconcile: &reconcile.Result{
			Plan:            plan,
			Applied:         1,
			SkippedSubtrees: []string{"Company;Broken"},
		},
		Assign: &assign.Result{
			Changes: []assign.Change{
				{Type: assign.ChangeAssign, Email: "alice@example.com", ToID: 42},
				{Type: assign.ChangeUnassign, Email: "gone@example.com", ToID: 1},
			},
			Conflicts: []assign.Conflict{{Alias: "petrov", KeptPath: "Company;Sales", LostPath: "Company;HR"}},
			Unmatched: []string{"nobody <nobody@example.com>"},
		},
		Started:  started,
		Finished: started.Add(3 * time.Second),
	}
}

func TestWriteRendersAllSections(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, sampleResult()))

	out := buf.String()
	assert.Contains(t, out, "# Directory sync report")
	assert.Contains(t, out, "**partial**")
	assert.Contains(t, out, "## Source hierarchy")
	assert.Contains(t, out, "## Validation issues")
	assert.Contains(t, out, "## Tree changes")
	assert.Contains(t, out, "Company;Sales")
	assert.Contains(t, out, "### Skipped subtrees")
	assert.Contains(t, out, "## Membership changes")
	assert.Contains(t, out, "1 users assigned")
	assert.Contains(t, out, "### Duplicate claims")
	assert.Contains(t, out, "petrov")
}

func TestWriteEmptyPlan(t *testing.T) {
	result := sampleResult()
	result.Reconcile = &reconcile.Result{Plan: &reconcile.Plan{}}
	result.Validation = &hierarchy.Report{}

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, result))

	out := buf.String()
	assert.Contains(t, out, "No structural changes.")
	assert.NotContains(t, out, "## Validation issues")
}

func TestSaveWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.md")
	require.NoError(t, Save(path, sampleResult()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "# Directory sync report")
}
