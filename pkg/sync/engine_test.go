package sync

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alavret/sync-deps-from-hub-v2/pkg/directory"
	syncerrors "github.com/alavret/sync-deps-from-hub-v2/pkg/errors"
	"github.com/alavret/sync-deps-from-hub-v2/pkg/hierarchy"
	"github.com/alavret/sync-deps-from-hub-v2/pkg/reconcile"
)

type fakeSource struct {
	root     hierarchy.SourceGroup
	children map[string][]hierarchy.SourceGroup
	members  map[string][]hierarchy.SourceMember
	pingErr  error
}

func (f *fakeSource) RootGroup(_ context.Context) (hierarchy.SourceGroup, error) {
	return f.root, nil
}

func (f *fakeSource) ChildGroups(_ context.Context, parent hierarchy.SourceGroup) ([]hierarchy.SourceGroup, error) {
	return f.children[parent.Name], nil
}

func (f *fakeSource) GroupMembers(_ context.Context, group hierarchy.SourceGroup) ([]hierarchy.SourceMember, error) {
	return f.members[group.Name], nil
}

func (f *fakeSource) Ping(_ context.Context) error {
	return f.pingErr
}

func testSource() *fakeSource {
	return &fakeSource{
		root: hierarchy.SourceGroup{Name: "Company", ExternalID: "guid-root", MemberKey: "company"},
		children: map[string][]hierarchy.SourceGroup{
			"Company": {
				{Name: "Sales", ExternalID: "guid-sales", Mail: "sales@example.com", MemberKey: "sales"},
			},
		},
		members: map[string][]hierarchy.SourceMember{
			"Sales": {{DisplayName: "alice smith", Email: "alice@example.com", Key: "sales"}},
		},
	}
}

// fakeDirectory is a minimal in-memory directory.Service.
type fakeDirectory struct {
	nextID      int64
	departments map[int64]directory.Department
	users       map[string]directory.User
	createErr   error
	mutations   int
}

func newFakeDirectory() *fakeDirectory {
	f := &fakeDirectory{
		nextID:      100,
		departments: map[int64]directory.Department{},
		users:       map[string]directory.User{},
	}
	f.departments[directory.RootDepartmentID] = directory.Department{ID: directory.RootDepartmentID, Name: "All"}
	return f
}

func (f *fakeDirectory) ListDepartments(_ context.Context) ([]directory.Department, error) {
	out := make([]directory.Department, 0, len(f.departments))
	for _, d := range f.departments {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeDirectory) CreateDepartment(_ context.Context, draft directory.DepartmentDraft) (directory.Department, error) {
	if f.createErr != nil {
		return directory.Department{}, f.createErr
	}
	d := directory.Department{ID: f.nextID, ParentID: draft.ParentID, Name: draft.Name, ExternalID: draft.ExternalID, Label: draft.Label}
	f.nextID++
	f.departments[d.ID] = d
	f.mutations++
	return d, nil
}

func (f *fakeDirectory) PatchDepartment(_ context.Context, id int64, patch directory.DepartmentPatch) (directory.Department, error) {
	d := f.departments[id]
	if patch.Name != nil {
		d.Name = *patch.Name
	}
	if patch.Label != nil {
		d.Label = *patch.Label
	}
	if patch.ParentID != nil {
		d.ParentID = *patch.ParentID
	}
	f.departments[id] = d
	f.mutations++
	return d, nil
}

func (f *fakeDirectory) DeleteDepartment(_ context.Context, id int64) error {
	delete(f.departments, id)
	f.mutations++
	return nil
}

func (f *fakeDirectory) ListUsers(_ context.Context, _ bool) ([]directory.User, error) {
	out := make([]directory.User, 0, len(f.users))
	for _, u := range f.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeDirectory) AssignUserDepartment(_ context.Context, userID string, departmentID int64) error {
	u, ok := f.users[userID]
	if !ok {
		return fmt.Errorf("user %s not found", userID)
	}
	u.DepartmentID = departmentID
	f.users[userID] = u
	f.mutations++
	return nil
}

func TestRunEndToEnd(t *testing.T) {
	svc := newFakeDirectory()
	svc.users["u1"] = directory.User{ID: "u1", Nickname: "alice", Email: "alice@corp.example", DepartmentID: 1}

	result, err := New(testSource(), svc).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StatusSuccess, result.Status)
	require.NotNil(t, result.Plan())
	assert.Equal(t, 2, result.Plan().Count(reconcile.ChangeCreate))

	// Alice landed in the department created for Sales.
	salesID := result.Reconcile.Converged["Company;Sales"]
	assert.Equal(t, salesID, svc.users["u1"].DepartmentID)
	assert.False(t, result.Finished.Before(result.Started))
}

func TestRunDryRunLeavesServiceUntouched(t *testing.T) {
	svc := newFakeDirectory()
	svc.users["u1"] = directory.User{ID: "u1", Nickname: "alice", Email: "alice@corp.example", DepartmentID: 1}

	result, err := New(testSource(), svc, WithDryRun(true)).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StatusSuccess, result.Status)
	assert.True(t, result.Plan().HasChanges())
	assert.Zero(t, svc.mutations)
	require.Len(t, svc.departments, 1, "only the root remains")
}

func TestRunStopsOnFatalValidationConflict(t *testing.T) {
	src := testSource()
	// The same person key appears under two groups.
	src.children["Company"] = append(src.children["Company"],
		hierarchy.SourceGroup{Name: "HR", ExternalID: "guid-hr", MemberKey: "hr"})
	src.members["HR"] = []hierarchy.SourceMember{{DisplayName: "alice smith", Email: "alice@example.com", Key: "sales"}}

	svc := newFakeDirectory()
	result, err := New(src, svc).Run(context.Background())

	require.Error(t, err)
	assert.True(t, syncerrors.IsConflict(err))
	assert.Equal(t, StatusFailed, result.Status)
	assert.Zero(t, svc.mutations, "no write happens after a fatal conflict")
}

func TestRunWritesDump(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hierarchy.dump")
	svc := newFakeDirectory()

	result, err := New(testSource(), svc, WithDumpPath(path), WithDryRun(true)).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, result.Status)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Company;Sales~sales~guid-root;guid-sales")
}

func TestRunFailsPreflight(t *testing.T) {
	src := testSource()
	src.pingErr = fmt.Errorf("connection refused")

	result, err := New(src, newFakeDirectory()).Run(context.Background())
	require.Error(t, err)
	assert.True(t, syncerrors.IsSourceUnavailable(err))
	assert.Equal(t, StatusFailed, result.Status)
	assert.Nil(t, result.Hierarchy)
}

func TestRunPartialOnCreateFailure(t *testing.T) {
	svc := newFakeDirectory()
	svc.createErr = fmt.Errorf("quota exceeded")

	result, err := New(testSource(), svc).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StatusPartial, result.Status)
	assert.NotEmpty(t, result.Reconcile.Failures)
}

func TestRunUsesInjectedClock(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	now := func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}

	result, err := New(testSource(), newFakeDirectory(), WithDryRun(true), WithClock(now)).Run(context.Background())
	require.NoError(t, err)
	assert.Positive(t, result.Duration())
}
