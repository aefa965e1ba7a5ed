package hierarchy

import (
	"fmt"
	"sort"
	"strings"

	"github.com/alavret/sync-deps-from-hub-v2/pkg/errors"
	"github.com/alavret/sync-deps-from-hub-v2/pkg/logging"
)

// IssueCode identifies one class of integrity violation.
type IssueCode string

const (
	// CodeDuplicateIdentity flags an external identifier associated with
	// two different tree positions.
	CodeDuplicateIdentity IssueCode = "duplicate-identity"

	// CodeDuplicateMembership flags a member key reachable through two
	// different branches of the source hierarchy.
	CodeDuplicateMembership IssueCode = "duplicate-membership"

	// CodeDuplicateAlias flags a derived alias that is not unique across
	// the whole membership set (including node mail aliases).
	CodeDuplicateAlias IssueCode = "duplicate-alias"

	// CodeEmptyExternalID flags a node without a stable identifier. The
	// node stays a reconciliation candidate but is never matched to a
	// pre-existing remote node.
	CodeEmptyExternalID IssueCode = "empty-external-id"

	// CodeAmbiguousPath flags sibling nodes collapsing to the same
	// display path; their memberships would all land on one department.
	CodeAmbiguousPath IssueCode = "ambiguous-path"
)

// Issue is one reported integrity violation with every offending path.
type Issue struct {
	Code    IssueCode
	Subject string
	Paths   []string
	Message string
}

// Report is the validator's outcome. Errors block reconciliation entirely;
// Warnings are logged and the run proceeds.
type Report struct {
	Errors   []Issue
	Warnings []Issue
}

// Ok reports whether reconciliation may proceed.
func (r *Report) Ok() bool {
	return len(r.Errors) == 0
}

// Err converts the report's first blocking issue into a ConflictError, or
// nil when the report is clean.
func (r *Report) Err() error {
	if r.Ok() {
		return nil
	}
	first := r.Errors[0]
	return errors.NewConflictError(string(first.Code), first.Subject, first.Paths)
}

// Log writes every issue to the default logger, errors at error level and
// warnings at warn level.
func (r *Report) Log() {
	for _, issue := range r.Errors {
		logging.Error().
			Str("check", string(issue.Code)).
			Str("subject", issue.Subject).
			Strs("paths", issue.Paths).
			Msg(issue.Message)
	}
	for _, issue := range r.Warnings {
		logging.Warn().
			Str("check", string(issue.Code)).
			Str("subject", issue.Subject).
			Strs("paths", issue.Paths).
			Msg(issue.Message)
	}
}

// Validate runs every integrity check over the canonical entries. All
// blocking checks must pass before any remote mutation is attempted.
func Validate(h *Hierarchy) *Report {
	r := &Report{}
	r.Errors = append(r.Errors, checkDuplicateIdentity(h)...)
	r.Errors = append(r.Errors, checkDuplicateMembership(h)...)
	r.Errors = append(r.Errors, checkDuplicateAlias(h)...)
	r.Warnings = append(r.Warnings, checkEmptyExternalID(h)...)
	r.Warnings = append(r.Warnings, checkAmbiguousPath(h)...)
	return r
}

// checkDuplicateIdentity groups node entries by external identifier; any
// group of size > 1 means a cycle or diamond in a membership graph that was
// assumed to be a tree.
func checkDuplicateIdentity(h *Hierarchy) []Issue {
	byID := map[string][]string{}
	for _, n := range h.Nodes {
		if n.ExternalID == "" {
			continue
		}
		byID[n.ExternalID] = append(byID[n.ExternalID], n.PathKey())
	}

	var issues []Issue
	for _, id := range sortedKeys(byID) {
		paths := byID[id]
		if len(paths) > 1 {
			issues = append(issues, Issue{
				Code:    CodeDuplicateIdentity,
				Subject: id,
				Paths:   paths,
				Message: fmt.Sprintf("group %s is a member of several groups", id),
			})
		}
	}
	return issues
}

// checkDuplicateMembership detects a member key reachable through two
// different nodes, which would make the user's department assignment
// ambiguous.
func checkDuplicateMembership(h *Hierarchy) []Issue {
	byKey := map[string]map[string]struct{}{}
	for _, m := range h.Memberships {
		if m.Key == "" {
			continue
		}
		if byKey[m.Key] == nil {
			byKey[m.Key] = map[string]struct{}{}
		}
		byKey[m.Key][m.NodePathKey()] = struct{}{}
	}

	var issues []Issue
	for _, key := range sortedKeys(byKey) {
		nodes := byKey[key]
		if len(nodes) > 1 {
			paths := sortedKeys(nodes)
			issues = append(issues, Issue{
				Code:    CodeDuplicateMembership,
				Subject: key,
				Paths:   paths,
				Message: fmt.Sprintf("member key %s found in %d groups", key, len(paths)),
			})
		}
	}
	return issues
}

// checkDuplicateAlias enforces alias uniqueness across the whole membership
// set; a collision with another membership or with a node's own mail alias
// is a conflict and is reported, never silently resolved.
func checkDuplicateAlias(h *Hierarchy) []Issue {
	nodeAlias := map[string][]string{}
	for _, n := range h.Nodes {
		if n.MailAlias != "" {
			nodeAlias[n.MailAlias] = append(nodeAlias[n.MailAlias], n.PathKey())
		}
	}

	byAlias := map[string][]Membership{}
	for _, m := range h.Memberships {
		alias := m.Alias()
		if alias == "" {
			continue
		}
		byAlias[alias] = append(byAlias[alias], m)
	}

	var issues []Issue
	for _, alias := range sortedKeys(byAlias) {
		members := byAlias[alias]
		var paths []string
		for _, m := range members {
			paths = append(paths, fmt.Sprintf("%s (%s)", m.NodePathKey(), m.Email))
		}
		if len(members) > 1 {
			issues = append(issues, Issue{
				Code:    CodeDuplicateAlias,
				Subject: alias,
				Paths:   paths,
				Message: fmt.Sprintf("alias %s belongs to %d users", alias, len(members)),
			})
			continue
		}
		if ownerPaths, ok := nodeAlias[alias]; ok {
			// Alias collides with a group's own mail alias.
			issues = append(issues, Issue{
				Code:    CodeDuplicateAlias,
				Subject: alias,
				Paths:   append(paths, ownerPaths...),
				Message: fmt.Sprintf("alias %s is both a user alias and a group mail alias", alias),
			})
		}
	}
	return issues
}

// checkEmptyExternalID reports nodes lacking a stable identifier. Soft:
// the run proceeds, but such nodes are always treated as new.
func checkEmptyExternalID(h *Hierarchy) []Issue {
	var issues []Issue
	for _, n := range h.Nodes {
		if n.ExternalID == "" {
			issues = append(issues, Issue{
				Code:    CodeEmptyExternalID,
				Subject: n.Name,
				Paths:   []string{n.PathKey()},
				Message: fmt.Sprintf("group %q carries no external identifier and will not match an existing department", n.PathKey()),
			})
		}
	}
	return issues
}

// checkAmbiguousPath reports sibling nodes whose names collapse to the same
// display path. Even with distinct external identifiers such siblings are
// indistinguishable by path, so their memberships would land on one node.
func checkAmbiguousPath(h *Hierarchy) []Issue {
	byPath := map[string][]Node{}
	for _, n := range h.Nodes {
		byPath[n.PathKey()] = append(byPath[n.PathKey()], n)
	}

	var issues []Issue
	for _, path := range sortedKeys(byPath) {
		nodes := byPath[path]
		if len(nodes) < 2 {
			continue
		}
		var ids []string
		for _, n := range nodes {
			if n.ExternalID != "" {
				ids = append(ids, n.ExternalID)
			}
		}
		msg := fmt.Sprintf("%d sibling groups collapse to path %q", len(nodes), path)
		if len(ids) > 0 {
			msg = fmt.Sprintf("%s (identifiers %s)", msg, strings.Join(ids, ", "))
		}
		issues = append(issues, Issue{
			Code:    CodeAmbiguousPath,
			Subject: path,
			Paths:   []string{path},
			Message: msg,
		})
	}
	return issues
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Summary returns a one-line description of the report for diagnostics.
func (r *Report) Summary() string {
	if r.Ok() && len(r.Warnings) == 0 {
		return "hierarchy is consistent"
	}
	return fmt.Sprintf("%d blocking conflicts, %d warnings", len(r.Errors), len(r.Warnings))
}

// String renders the full report, one issue per line.
func (r *Report) String() string {
	var b strings.Builder
	b.WriteString(r.Summary())
	for _, issue := range r.Errors {
		fmt.Fprintf(&b, "\nerror [%s] %s: %s", issue.Code, issue.Subject, issue.Message)
	}
	for _, issue := range r.Warnings {
		fmt.Fprintf(&b, "\nwarning [%s] %s: %s", issue.Code, issue.Subject, issue.Message)
	}
	return b.String()
}
