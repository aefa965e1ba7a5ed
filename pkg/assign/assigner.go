// Package assign maps source membership records onto converged department
// identifiers: it computes per-user assignment changes for every converged
// node and re-homes users absent from the source back to the root.
package assign

import (
	"context"
	"fmt"
	"strings"

	"github.com/alavret/sync-deps-from-hub-v2/pkg/directory"
	"github.com/alavret/sync-deps-from-hub-v2/pkg/errors"
	"github.com/alavret/sync-deps-from-hub-v2/pkg/hierarchy"
	"github.com/alavret/sync-deps-from-hub-v2/pkg/logging"
)

// ChangeType is the kind of one membership change.
type ChangeType string

const (
	// ChangeAssign moves a matched user into its intended department.
	ChangeAssign ChangeType = "assign"
	// ChangeUnassign re-homes a user absent from the source to the root.
	ChangeUnassign ChangeType = "unassign"
)

// Change is one computed membership change.
type Change struct {
	Type     ChangeType
	UserID   string
	Email    string
	Alias    string
	NodePath string // intended node path, empty for unassigns
	FromID   int64
	ToID     int64
}

// Conflict is a user matched under more than one intended node in the same
// run. Only the first match in node order is applied; the rest are
// reported, never silently dropped.
type Conflict struct {
	Alias    string
	Email    string
	KeptPath string
	LostPath string
}

// Result is the outcome of one assignment run.
type Result struct {
	// Changes holds every computed assignment change, applied or not.
	Changes []Change

	// Applied counts the changes actually applied (zero under dry-run).
	Applied int

	// Conflicts lists duplicate claims of one user by several nodes.
	Conflicts []Conflict

	// Unmatched lists source memberships with no remote user.
	Unmatched []string

	// Failures lists per-call failures recovered locally.
	Failures []error
}

// Partial reports whether the run completed with unresolved failures.
func (r *Result) Partial() bool {
	return len(r.Failures) > 0
}

// Assigner computes and applies membership changes against the target
// service.
type Assigner struct {
	svc    directory.Service
	dryRun bool
}

// Option configures an Assigner.
type Option func(*Assigner)

// WithDryRun computes assignment changes without applying them.
func WithDryRun(dryRun bool) Option {
	return func(a *Assigner) { a.dryRun = dryRun }
}

// New creates an Assigner for the given target service.
func New(svc directory.Service, opts ...Option) *Assigner {
	a := &Assigner{svc: svc}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run maps every source membership onto the converged department set.
// converged maps node path keys to final remote department ids (from the
// reconciler, so identifiers are final). Memberships are processed in
// deterministic left-to-right node order; remote users matched by zero
// source memberships are re-homed to the root, idempotently.
func (a *Assigner) Run(ctx context.Context, h *hierarchy.Hierarchy, converged map[string]int64) (*Result, error) {
	result := &Result{}

	// Snapshot is force-refreshed: assignment follows structural writes
	// that may have moved users already.
	users, err := a.svc.ListUsers(ctx, true)
	if err != nil {
		return nil, errors.WrapAPI("directory", 0, err)
	}

	index := buildAliasIndex(users)
	claimed := map[string]string{} // user id -> claiming node path

	for _, m := range h.Memberships {
		alias := m.Alias()
		nodePath := m.NodePathKey()

		user, found := index.lookup(alias)
		if !found {
			result.Unmatched = append(result.Unmatched, fmt.Sprintf("%s <%s>", m.DisplayName, m.Email))
			logging.Info().Str("email", m.Email).Msg("Source user not found in target directory")
			continue
		}

		if keptPath, dup := claimed[user.ID]; dup {
			result.Conflicts = append(result.Conflicts, Conflict{
				Alias:    alias,
				Email:    m.Email,
				KeptPath: keptPath,
				LostPath: nodePath,
			})
			logging.Warn().
				Str("alias", alias).
				Str("kept", keptPath).
				Str("lost", nodePath).
				Msg("User claimed by several nodes; first match wins")
			continue
		}
		claimed[user.ID] = nodePath

		departmentID, ok := converged[nodePath]
		if !ok {
			// Node did not converge this run (failed subtree); leave the
			// user where they are.
			logging.Debug().Str("path", nodePath).Msg("Skipping assignment to unconverged node")
			continue
		}

		if user.DepartmentID == departmentID {
			continue
		}

		a.apply(ctx, result, Change{
			Type:     ChangeAssign,
			UserID:   user.ID,
			Email:    user.Email,
			Alias:    alias,
			NodePath: nodePath,
			FromID:   user.DepartmentID,
			ToID:     departmentID,
		})
	}

	// Any remote user matched by zero source memberships goes back to the
	// root, but only when currently assigned below it.
	for _, user := range users {
		if user.IsRobot {
			continue
		}
		if _, ok := claimed[user.ID]; ok {
			continue
		}
		if user.DepartmentID <= directory.RootDepartmentID {
			continue
		}
		logging.Info().Str("email", user.Email).Msg("User absent from source hierarchy; re-homing to root")
		a.apply(ctx, result, Change{
			Type:   ChangeUnassign,
			UserID: user.ID,
			Email:  user.Email,
			Alias:  user.Nickname,
			FromID: user.DepartmentID,
			ToID:   directory.RootDepartmentID,
		})
	}

	logging.Info().
		Int("changes", len(result.Changes)).
		Int("applied", result.Applied).
		Int("conflicts", len(result.Conflicts)).
		Int("unmatched", len(result.Unmatched)).
		Bool("dry_run", a.dryRun).
		Msg("Membership assignment finished")

	return result, nil
}

// apply records one change and, outside dry-run, patches the user's
// department assignment.
func (a *Assigner) apply(ctx context.Context, result *Result, change Change) {
	result.Changes = append(result.Changes, change)

	if a.dryRun {
		logging.Info().
			Str("email", change.Email).
			Int64("from", change.FromID).
			Int64("to", change.ToID).
			Msg("Dry run: user department will be changed")
		return
	}

	if err := a.svc.AssignUserDepartment(ctx, change.UserID, change.ToID); err != nil {
		result.Failures = append(result.Failures, errors.WrapCall("assign", "user", change.Email, err))
		logging.Error().Err(err).Str("email", change.Email).Msg("User department change failed")
		return
	}
	result.Applied++
}

// aliasIndex resolves a lower-cased alias to a remote user. Matching
// precedence: primary nickname, then secondary aliases, then contact email
// local parts. Service accounts are excluded entirely.
type aliasIndex struct {
	byNickname map[string]directory.User
	byAlias    map[string]directory.User
	byContact  map[string]directory.User
}

func buildAliasIndex(users []directory.User) *aliasIndex {
	idx := &aliasIndex{
		byNickname: map[string]directory.User{},
		byAlias:    map[string]directory.User{},
		byContact:  map[string]directory.User{},
	}
	for _, u := range users {
		if u.IsRobot {
			continue
		}
		if nick := strings.ToLower(strings.TrimSpace(u.Nickname)); nick != "" {
			if _, dup := idx.byNickname[nick]; !dup {
				idx.byNickname[nick] = u
			}
		}
		for _, alias := range u.Aliases {
			alias = strings.ToLower(strings.TrimSpace(alias))
			if alias == "" {
				continue
			}
			if _, dup := idx.byAlias[alias]; !dup {
				idx.byAlias[alias] = u
			}
		}
		for _, contact := range u.ContactEmails {
			local := hierarchy.AliasOf(contact)
			if local == "" {
				continue
			}
			if _, dup := idx.byContact[local]; !dup {
				idx.byContact[local] = u
			}
		}
	}
	return idx
}

func (idx *aliasIndex) lookup(alias string) (directory.User, bool) {
	if alias == "" {
		return directory.User{}, false
	}
	if u, ok := idx.byNickname[alias]; ok {
		return u, true
	}
	if u, ok := idx.byAlias[alias]; ok {
		return u, true
	}
	if u, ok := idx.byContact[alias]; ok {
		return u, true
	}
	return directory.User{}, false
}
