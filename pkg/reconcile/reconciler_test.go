package reconcile

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alavret/sync-deps-from-hub-v2/pkg/directory"
	syncerrors "github.com/alavret/sync-deps-from-hub-v2/pkg/errors"
	"github.com/alavret/sync-deps-from-hub-v2/pkg/hierarchy"
)

func node(extID, parentExtID string, level int, path ...string) hierarchy.Node {
	return hierarchy.Node{
		Name:             path[len(path)-1],
		Path:             path,
		ExternalID:       extID,
		ParentExternalID: parentExtID,
		Level:            level,
	}
}

// companyHierarchy is Company -> {Sales, EMEA -> Team}.
func companyHierarchy() *hierarchy.Hierarchy {
	return &hierarchy.Hierarchy{
		Nodes: []hierarchy.Node{
			node("g-root", hierarchy.RootExternalID, 1, "Company"),
			node("g-sales", "g-root", 2, "Company", "Sales"),
			node("g-emea", "g-root", 2, "Company", "EMEA"),
			node("g-team", "g-emea", 3, "Company", "EMEA", "Team"),
		},
	}
}

func TestConvergeCreatesMissingDepartments(t *testing.T) {
	svc := newFakeService()
	r := New(svc)

	result, err := r.Converge(context.Background(), companyHierarchy())
	require.NoError(t, err)

	assert.Equal(t, 4, result.Plan.Count(ChangeCreate))
	assert.Equal(t, 4, result.Applied)
	assert.Empty(t, result.Failures)
	assert.False(t, result.Partial())

	// Parents created before children.
	creates := result.Plan.ByType(ChangeCreate)
	require.Len(t, creates, 4)
	assert.Equal(t, "Company", creates[0].Path)
	assert.Equal(t, "Company;EMEA;Team", creates[3].Path)

	// Every node converged to a real remote id.
	require.Len(t, result.Converged, 4)
	for path, id := range result.Converged {
		assert.Positive(t, id, "path %s", path)
	}

	// The child hangs under the department created for its parent.
	teamID := result.Converged["Company;EMEA;Team"]
	emeaID := result.Converged["Company;EMEA"]
	assert.Equal(t, emeaID, svc.departments[teamID].ParentID)
	assert.Equal(t, directory.RootDepartmentID, svc.departments[result.Converged["Company"]].ParentID)
}

func TestConvergeIsIdempotent(t *testing.T) {
	svc := newFakeService()
	r := New(svc)
	ctx := context.Background()

	first, err := r.Converge(ctx, companyHierarchy())
	require.NoError(t, err)
	require.True(t, first.Plan.HasChanges())

	second, err := r.Converge(ctx, companyHierarchy())
	require.NoError(t, err)

	assert.False(t, second.Plan.HasChanges(), "second run should find nothing to do: %s", second.Plan)
	assert.Zero(t, second.Applied)
	assert.Equal(t, first.Converged, second.Converged)
}

func TestConvergeRenamesAndRelabelsInPlace(t *testing.T) {
	svc := newFakeService()
	svc.addDepartment(directory.Department{ID: 10, ParentID: 1, Name: "Company", ExternalID: "g-root"})
	svc.addDepartment(directory.Department{ID: 11, ParentID: 10, Name: "Sales Dept", ExternalID: "g-sales", Label: "old-sales"})

	h := &hierarchy.Hierarchy{
		Nodes: []hierarchy.Node{
			node("g-root", hierarchy.RootExternalID, 1, "Company"),
			{
				Name:             "Sales",
				Path:             []string{"Company", "Sales"},
				ExternalID:       "g-sales",
				ParentExternalID: "g-root",
				MailAlias:        "sales",
				Level:            2,
			},
		},
	}

	result, err := New(svc).Converge(context.Background(), h)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Plan.Count(ChangeRename))
	assert.Equal(t, 1, result.Plan.Count(ChangeRelabel))
	assert.Zero(t, result.Plan.Count(ChangeCreate))

	renames := result.Plan.ByType(ChangeRename)
	assert.Equal(t, "Sales Dept", renames[0].OldValue)
	assert.Equal(t, "Sales", renames[0].NewValue)

	got := svc.departments[11]
	assert.Equal(t, "Sales", got.Name)
	assert.Equal(t, "sales", got.Label)
	assert.Equal(t, int64(10), got.ParentID, "in-place update must not move the department")
}

func TestConvergeDefersReparentUntilParentExists(t *testing.T) {
	// Team exists remotely under Company; the source moves it under EMEA,
	// which does not exist yet. The move must come after EMEA's create.
	svc := newFakeService()
	svc.addDepartment(directory.Department{ID: 10, ParentID: 1, Name: "Company", ExternalID: "g-root"})
	svc.addDepartment(directory.Department{ID: 11, ParentID: 10, Name: "Team", ExternalID: "g-team"})

	h := &hierarchy.Hierarchy{
		Nodes: []hierarchy.Node{
			node("g-root", hierarchy.RootExternalID, 1, "Company"),
			node("g-emea", "g-root", 2, "Company", "EMEA"),
			node("g-team", "g-emea", 3, "Company", "EMEA", "Team"),
		},
	}

	result, err := New(svc).Converge(context.Background(), h)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Plan.Count(ChangeCreate))
	assert.Equal(t, 1, result.Plan.Count(ChangeReparent))
	assert.Empty(t, result.Failures)

	moves := result.Plan.ByType(ChangeReparent)
	assert.Equal(t, "g-root", moves[0].OldValue)
	assert.Equal(t, "g-emea", moves[0].NewValue)

	emeaID := result.Converged["Company;EMEA"]
	assert.Equal(t, emeaID, svc.departments[11].ParentID)
}

func TestConvergeDeletesOrphansDeepestFirst(t *testing.T) {
	svc := newFakeService()
	svc.addDepartment(directory.Department{ID: 10, ParentID: 1, Name: "Company", ExternalID: "g-root"})
	// Stale managed subtree with an unmanaged child holding a user.
	svc.addDepartment(directory.Department{ID: 20, ParentID: 10, Name: "Legacy", ExternalID: "g-legacy"})
	svc.addDepartment(directory.Department{ID: 21, ParentID: 20, Name: "Scratch"})
	svc.addUser(directory.User{ID: "u1", Nickname: "ivanov", Email: "ivanov@example.com", DepartmentID: 21})

	h := &hierarchy.Hierarchy{
		Nodes: []hierarchy.Node{node("g-root", hierarchy.RootExternalID, 1, "Company")},
	}

	result, err := New(svc).Converge(context.Background(), h)
	require.NoError(t, err)

	deletes := result.Plan.ByType(ChangeDelete)
	require.Len(t, deletes, 2)
	assert.Equal(t, int64(21), deletes[0].RemoteID, "deeper department goes first")
	assert.Equal(t, int64(20), deletes[1].RemoteID)

	assert.NotContains(t, svc.departments, int64(20))
	assert.NotContains(t, svc.departments, int64(21))
	assert.Equal(t, directory.RootDepartmentID, svc.users["u1"].DepartmentID, "user re-homed before delete")
}

func TestConvergeTreatsMissingDepartmentDeleteAsDone(t *testing.T) {
	svc := newFakeService()
	svc.addDepartment(directory.Department{ID: 10, ParentID: 1, Name: "Company", ExternalID: "g-root"})
	svc.addDepartment(directory.Department{ID: 20, ParentID: 10, Name: "Legacy", ExternalID: "g-legacy"})
	svc.deleteErrByID[20] = syncerrors.NewAPIError("y360", 404, "department not found")

	h := &hierarchy.Hierarchy{
		Nodes: []hierarchy.Node{node("g-root", hierarchy.RootExternalID, 1, "Company")},
	}

	result, err := New(svc).Converge(context.Background(), h)
	require.NoError(t, err)

	assert.Empty(t, result.Failures, "a department already gone remotely is converged, not failed")
	assert.False(t, result.Partial())
}

func TestConvergeLeavesRobotsInDoomedDepartment(t *testing.T) {
	svc := newFakeService()
	svc.addDepartment(directory.Department{ID: 10, ParentID: 1, Name: "Company", ExternalID: "g-root"})
	svc.addDepartment(directory.Department{ID: 20, ParentID: 10, Name: "Legacy", ExternalID: "g-legacy"})
	svc.addUser(directory.User{ID: "u1", Nickname: "ivanov", Email: "ivanov@example.com", DepartmentID: 20})
	svc.addUser(directory.User{ID: "r1", Nickname: "robot-backup", Email: "robot@example.com", DepartmentID: 20, IsRobot: true})

	h := &hierarchy.Hierarchy{
		Nodes: []hierarchy.Node{node("g-root", hierarchy.RootExternalID, 1, "Company")},
	}

	_, err := New(svc).Converge(context.Background(), h)
	require.NoError(t, err)

	assert.Contains(t, svc.calls, "assign u1 -> 1")
	assert.NotContains(t, svc.calls, "assign r1 -> 1", "service accounts stay put")
	assert.Equal(t, int64(20), svc.users["r1"].DepartmentID)
}

func TestConvergeRetainsUnmanagedDepartments(t *testing.T) {
	svc := newFakeService()
	svc.addDepartment(directory.Department{ID: 10, ParentID: 1, Name: "Company", ExternalID: "g-root"})
	svc.addDepartment(directory.Department{ID: 30, ParentID: 1, Name: "Manual"})

	h := &hierarchy.Hierarchy{
		Nodes: []hierarchy.Node{node("g-root", hierarchy.RootExternalID, 1, "Company")},
	}

	result, err := New(svc, WithRetainUnmanaged(true)).Converge(context.Background(), h)
	require.NoError(t, err)

	assert.Zero(t, result.Plan.Count(ChangeDelete))
	assert.Contains(t, svc.departments, int64(30))
}

func TestConvergeSkipsDeletesWithoutBaseline(t *testing.T) {
	svc := newFakeService()
	svc.listDepartmentsErr = errors.New("upstream unavailable")

	result, err := New(svc, WithDryRun(true)).Converge(context.Background(), companyHierarchy())
	require.NoError(t, err)

	assert.True(t, result.BaselineEmpty)
	assert.Zero(t, result.Plan.Count(ChangeDelete))
	assert.Equal(t, 4, result.Plan.Count(ChangeCreate), "creates are still planned against an empty baseline")
}

func TestConvergeDryRunPlansWithoutMutating(t *testing.T) {
	svc := newFakeService()
	svc.addDepartment(directory.Department{ID: 10, ParentID: 1, Name: "Company", ExternalID: "g-root"})
	svc.addDepartment(directory.Department{ID: 20, ParentID: 10, Name: "Legacy", ExternalID: "g-legacy"})

	dry, err := New(svc, WithDryRun(true)).Converge(context.Background(), companyHierarchy())
	require.NoError(t, err)

	assert.Zero(t, dry.Applied)
	assert.Empty(t, svc.calls, "dry run must not touch the service beyond reads")
	require.Len(t, svc.departments, 3)

	// Planned creates resolve children through synthetic parent ids.
	assert.Negative(t, dry.Converged["Company;EMEA"])
	assert.Negative(t, dry.Converged["Company;EMEA;Team"])
	assert.Empty(t, dry.SkippedSubtrees)

	// The live run computes the same plan shape.
	live, err := New(svc).Converge(context.Background(), companyHierarchy())
	require.NoError(t, err)
	require.Len(t, live.Plan.Changes, len(dry.Plan.Changes))
	for i := range dry.Plan.Changes {
		assert.Equal(t, dry.Plan.Changes[i].Type, live.Plan.Changes[i].Type, "change %d", i)
		assert.Equal(t, dry.Plan.Changes[i].Path, live.Plan.Changes[i].Path, "change %d", i)
	}
}

func TestConvergeSkipsSubtreeAfterFailedCreate(t *testing.T) {
	svc := newFakeService()
	svc.createErrByName["EMEA"] = errors.New("quota exceeded")

	result, err := New(svc).Converge(context.Background(), companyHierarchy())
	require.NoError(t, err)

	assert.True(t, result.Partial())
	require.Len(t, result.Failures, 1)
	assert.Contains(t, result.SkippedSubtrees, "Company;EMEA")

	// Team was never attempted; siblings outside the subtree still landed.
	assert.NotContains(t, result.Converged, "Company;EMEA;Team")
	assert.Contains(t, result.Converged, "Company;Sales")
	for _, call := range svc.calls {
		assert.NotEqual(t, "create Team", call)
	}
}

func TestConvergeLeavesDepartmentWhenEvacuationFails(t *testing.T) {
	svc := newFakeService()
	svc.addDepartment(directory.Department{ID: 10, ParentID: 1, Name: "Company", ExternalID: "g-root"})
	svc.addDepartment(directory.Department{ID: 20, ParentID: 10, Name: "Legacy", ExternalID: "g-legacy"})
	svc.addUser(directory.User{ID: "u1", Email: "ivanov@example.com", DepartmentID: 20})

	h := &hierarchy.Hierarchy{
		Nodes: []hierarchy.Node{node("g-root", hierarchy.RootExternalID, 1, "Company")},
	}

	broken := &assignFailingService{fakeService: svc}
	result, err := New(broken).Converge(context.Background(), h)
	require.NoError(t, err)

	assert.True(t, result.Partial())
	assert.Contains(t, svc.departments, int64(20), "department stays when its users cannot be moved")
}

// assignFailingService fails every user assignment.
type assignFailingService struct {
	*fakeService
}

func (s *assignFailingService) AssignUserDepartment(ctx context.Context, userID string, departmentID int64) error {
	return errors.New("assignment rejected")
}
