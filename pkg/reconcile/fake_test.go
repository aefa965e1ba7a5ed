package reconcile

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/alavret/sync-deps-from-hub-v2/pkg/directory"
)

// fakeService is an in-memory directory.Service for reconciler tests.
type fakeService struct {
	mu     sync.Mutex
	nextID int64

	departments map[int64]directory.Department
	users       map[string]directory.User

	listDepartmentsErr error
	listUsersErr       error
	createErrByName    map[string]error
	deleteErrByID      map[int64]error

	calls []string
}

func newFakeService() *fakeService {
	f := &fakeService{
		nextID:          100,
		departments:     map[int64]directory.Department{},
		users:           map[string]directory.User{},
		createErrByName: map[string]error{},
		deleteErrByID:   map[int64]error{},
	}
	f.departments[directory.RootDepartmentID] = directory.Department{
		ID:   directory.RootDepartmentID,
		Name: "All",
	}
	return f
}

func (f *fakeService) addDepartment(d directory.Department) {
	f.departments[d.ID] = d
	if d.ID >= f.nextID {
		f.nextID = d.ID + 1
	}
}

func (f *fakeService) addUser(u directory.User) {
	f.users[u.ID] = u
}

func (f *fakeService) record(format string, args ...any) {
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
}

func (f *fakeService) ListDepartments(ctx context.Context) ([]directory.Department, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listDepartmentsErr != nil {
		return nil, f.listDepartmentsErr
	}
	out := make([]directory.Department, 0, len(f.departments))
	for _, d := range f.departments {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeService) CreateDepartment(ctx context.Context, draft directory.DepartmentDraft) (directory.Department, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("create %s", draft.Name)
	if err := f.createErrByName[draft.Name]; err != nil {
		return directory.Department{}, err
	}
	d := directory.Department{
		ID:         f.nextID,
		ParentID:   draft.ParentID,
		Name:       draft.Name,
		ExternalID: draft.ExternalID,
		Label:      draft.Label,
	}
	f.nextID++
	f.departments[d.ID] = d
	return d, nil
}

func (f *fakeService) PatchDepartment(ctx context.Context, id int64, patch directory.DepartmentPatch) (directory.Department, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.departments[id]
	if !ok {
		return directory.Department{}, fmt.Errorf("department %d not found", id)
	}
	if patch.Name != nil {
		d.Name = *patch.Name
		f.record("rename %d -> %s", id, *patch.Name)
	}
	if patch.Label != nil {
		d.Label = *patch.Label
		f.record("relabel %d -> %s", id, *patch.Label)
	}
	if patch.ParentID != nil {
		d.ParentID = *patch.ParentID
		f.record("reparent %d -> %d", id, *patch.ParentID)
	}
	f.departments[id] = d
	return d, nil
}

func (f *fakeService) DeleteDepartment(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("delete %d", id)
	if err := f.deleteErrByID[id]; err != nil {
		return err
	}
	if _, ok := f.departments[id]; !ok {
		return fmt.Errorf("department %d not found", id)
	}
	delete(f.departments, id)
	return nil
}

func (f *fakeService) ListUsers(ctx context.Context, forceRefresh bool) ([]directory.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listUsersErr != nil {
		return nil, f.listUsersErr
	}
	out := make([]directory.User, 0, len(f.users))
	for _, u := range f.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeService) AssignUserDepartment(ctx context.Context, userID string, departmentID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return fmt.Errorf("user %s not found", userID)
	}
	u.DepartmentID = departmentID
	f.users[userID] = u
	f.record("assign %s -> %d", userID, departmentID)
	return nil
}
