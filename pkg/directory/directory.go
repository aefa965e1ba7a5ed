// Package directory defines the target service's data model and the
// Service interface the reconciliation engine talks to. The HTTP
// implementation lives in internal/y360; tests use in-memory fakes.
package directory

import (
	"context"
)

// RootDepartmentID is the system-assigned identifier of the organization
// root department. The root always exists and is never created, renamed,
// re-parented, or deleted; users removed from the managed tree are
// re-homed here.
const RootDepartmentID int64 = 1

// Department is the target system's view of one node of the flat tree.
type Department struct {
	// ID is system-assigned, immutable and opaque.
	ID int64 `json:"id"`

	// ParentID links to the parent department; the root has no parent.
	ParentID int64 `json:"parentId"`

	// Name is the display name.
	Name string `json:"name"`

	// ExternalID is the stable identifier carried from the source system.
	// Departments with an empty ExternalID are not managed by this sync
	// unless explicitly configured otherwise.
	ExternalID string `json:"externalId"`

	// Label is the department's mail alias (email local part).
	Label string `json:"label"`
}

// DepartmentDraft carries the fields for a department create call.
type DepartmentDraft struct {
	Name       string `json:"name"`
	ParentID   int64  `json:"parentId"`
	ExternalID string `json:"externalId,omitempty"`
	Label      string `json:"label,omitempty"`
}

// DepartmentPatch carries a partial department update. Nil fields are left
// untouched by the service.
type DepartmentPatch struct {
	Name     *string `json:"name,omitempty"`
	ParentID *int64  `json:"parentId,omitempty"`
	Label    *string `json:"label,omitempty"`
}

// User is the target system's view of one account.
type User struct {
	// ID is system-assigned and opaque.
	ID string `json:"id"`

	// Nickname is the primary alias (login local part).
	Nickname string `json:"nickname"`

	// Email is the primary address.
	Email string `json:"email"`

	// Aliases holds secondary aliases.
	Aliases []string `json:"aliases"`

	// ContactEmails holds additional contact addresses.
	ContactEmails []string `json:"-"`

	// DepartmentID is the user's current department assignment.
	DepartmentID int64 `json:"departmentId"`

	// IsRobot marks service accounts, which are excluded from
	// reconciliation entirely.
	IsRobot bool `json:"isRobot"`
}

// Service is the target directory collaborator. Every call is synchronous
// and carries its own bounded retry policy inside the implementation; a
// call that exhausts retries fails that operation only.
type Service interface {
	// ListDepartments fetches all departments, paginated internally.
	ListDepartments(ctx context.Context) ([]Department, error)

	// CreateDepartment creates one department and returns the stored
	// record with its system-assigned ID.
	CreateDepartment(ctx context.Context, draft DepartmentDraft) (Department, error)

	// PatchDepartment applies a partial update to one department.
	PatchDepartment(ctx context.Context, id int64, patch DepartmentPatch) (Department, error)

	// DeleteDepartment removes one empty department.
	DeleteDepartment(ctx context.Context, id int64) error

	// ListUsers fetches the full user listing. Implementations may serve
	// a staleness-bounded cache; forceRefresh bypasses it, and is always
	// used immediately before structural writes.
	ListUsers(ctx context.Context, forceRefresh bool) ([]User, error)

	// AssignUserDepartment moves one user to the given department.
	AssignUserDepartment(ctx context.Context, userID string, departmentID int64) error
}

// Ptr returns a pointer to v, for building DepartmentPatch values.
func Ptr[T any](v T) *T {
	return &v
}
