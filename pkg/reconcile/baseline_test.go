package reconcile

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alavret/sync-deps-from-hub-v2/pkg/directory"
	"github.com/alavret/sync-deps-from-hub-v2/pkg/hierarchy"
)

func TestLoadBaselineRebuildsPaths(t *testing.T) {
	svc := newFakeService()
	svc.addDepartment(directory.Department{ID: 10, ParentID: 1, Name: "Company", ExternalID: "g-root", Label: "company"})
	svc.addDepartment(directory.Department{ID: 11, ParentID: 10, Name: "Sales", ExternalID: "g-sales"})
	svc.addDepartment(directory.Department{ID: 12, ParentID: 11, Name: "Inside Sales"})

	b, err := LoadBaseline(context.Background(), svc)
	require.NoError(t, err)

	require.Len(t, b.Nodes, 3, "root is excluded from the baseline")
	assert.False(t, b.Empty())

	sales, ok := b.ByExternalID("g-sales")
	require.True(t, ok)
	assert.Equal(t, []string{"Company", "Sales"}, sales.Path)
	assert.Equal(t, "Company;Sales", sales.PathKey())
	assert.Equal(t, 2, sales.Depth)
	assert.Equal(t, "g-root", sales.ParentExternalID)

	company, ok := b.ByID(10)
	require.True(t, ok)
	assert.Equal(t, hierarchy.RootExternalID, company.ParentExternalID)
	assert.Equal(t, "company", company.Label)

	inside, ok := b.ByID(12)
	require.True(t, ok)
	assert.Equal(t, 3, inside.Depth)
	assert.Equal(t, "g-sales", inside.ParentExternalID)
	assert.Empty(t, inside.ExternalID)
}

func TestLoadBaselineIgnoresEmptyExternalIDLookups(t *testing.T) {
	svc := newFakeService()
	svc.addDepartment(directory.Department{ID: 12, ParentID: 1, Name: "Unmanaged"})

	b, err := LoadBaseline(context.Background(), svc)
	require.NoError(t, err)

	_, ok := b.ByExternalID("")
	assert.False(t, ok, "empty identifiers never match")
}

func TestLoadBaselineSkipsBrokenParentChains(t *testing.T) {
	svc := newFakeService()
	svc.addDepartment(directory.Department{ID: 10, ParentID: 1, Name: "Company", ExternalID: "g-root"})
	// Parent 99 does not exist.
	svc.addDepartment(directory.Department{ID: 11, ParentID: 99, Name: "Lost", ExternalID: "g-lost"})

	b, err := LoadBaseline(context.Background(), svc)
	require.NoError(t, err)

	require.Len(t, b.Nodes, 1)
	_, ok := b.ByExternalID("g-lost")
	assert.False(t, ok)
}

func TestLoadBaselineSurvivesParentCycles(t *testing.T) {
	svc := newFakeService()
	svc.addDepartment(directory.Department{ID: 10, ParentID: 11, Name: "A", ExternalID: "g-a"})
	svc.addDepartment(directory.Department{ID: 11, ParentID: 10, Name: "B", ExternalID: "g-b"})

	b, err := LoadBaseline(context.Background(), svc)
	require.NoError(t, err)
	assert.Empty(t, b.Nodes, "cycle members are dropped, not looped on")
}
