// Package reconcile implements the tree convergence algorithm: it compares
// the canonical source hierarchy against the target service's department
// tree and computes and applies the ordered change plan (create, rename,
// relabel, re-parent, delete) that makes the remote tree match the source.
package reconcile

import (
	"fmt"
	"strings"
)

// ChangeType is the kind of one structural change.
type ChangeType string

const (
	// ChangeCreate creates a department for a source node with no remote
	// counterpart.
	ChangeCreate ChangeType = "create"
	// ChangeRename updates a matched department's display name in place.
	ChangeRename ChangeType = "rename"
	// ChangeRelabel updates a matched department's mail alias in place.
	ChangeRelabel ChangeType = "relabel"
	// ChangeReparent moves a matched department under a new parent. Always
	// deferred until every create across all levels has been applied.
	ChangeReparent ChangeType = "reparent"
	// ChangeDelete removes an orphaned department, deepest paths first.
	ChangeDelete ChangeType = "delete"
)

// Change is one entry of the ordered change plan.
type Change struct {
	Type       ChangeType
	Path       string // display path of the affected node
	ExternalID string // stable identifier, empty for unmanaged orphans
	RemoteID   int64  // target department id; synthetic (negative) for planned creates
	ParentID   int64  // resolved parent id for creates and re-parents
	OldValue   string // previous name/label/parent for update changes
	NewValue   string // new name/label/parent for update changes
}

// Describe renders the change as a single log-friendly line.
func (c Change) Describe() string {
	switch c.Type {
	case ChangeCreate:
		return fmt.Sprintf("create %q under department %d", c.Path, c.ParentID)
	case ChangeRename:
		return fmt.Sprintf("rename department %d (%s): %q -> %q", c.RemoteID, c.Path, c.OldValue, c.NewValue)
	case ChangeRelabel:
		return fmt.Sprintf("relabel department %d (%s): %q -> %q", c.RemoteID, c.Path, c.OldValue, c.NewValue)
	case ChangeReparent:
		return fmt.Sprintf("reparent department %d (%s): %s -> %s", c.RemoteID, c.Path, c.OldValue, c.NewValue)
	case ChangeDelete:
		return fmt.Sprintf("delete department %d (%s)", c.RemoteID, c.Path)
	}
	return fmt.Sprintf("%s %s", c.Type, c.Path)
}

// Plan is the ordered list of structural changes computed for one run.
// Every create for a node appears after the create (or pre-existing
// resolution) of its parent; deletes come last, deepest paths first.
type Plan struct {
	Changes []Change
}

// Add appends a change to the plan.
func (p *Plan) Add(c Change) {
	p.Changes = append(p.Changes, c)
}

// HasChanges reports whether the plan contains any change.
func (p *Plan) HasChanges() bool {
	return len(p.Changes) > 0
}

// Count returns the number of changes of the given type.
func (p *Plan) Count(t ChangeType) int {
	n := 0
	for _, c := range p.Changes {
		if c.Type == t {
			n++
		}
	}
	return n
}

// ByType returns the changes of the given type, in plan order.
func (p *Plan) ByType(t ChangeType) []Change {
	var out []Change
	for _, c := range p.Changes {
		if c.Type == t {
			out = append(out, c)
		}
	}
	return out
}

// String returns a human-readable summary of the plan.
func (p *Plan) String() string {
	if !p.HasChanges() {
		return "No changes detected"
	}

	var parts []string
	for _, t := range []ChangeType{ChangeCreate, ChangeRename, ChangeRelabel, ChangeReparent, ChangeDelete} {
		if n := p.Count(t); n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, t))
		}
	}
	return fmt.Sprintf("Plan: %s (total %d changes)", strings.Join(parts, ", "), len(p.Changes))
}

// Failure is one per-call failure recovered locally: the run continued
// with remaining independent operations.
type Failure struct {
	Change Change
	Err    error
}

// Result is the outcome of one convergence run.
type Result struct {
	// Plan holds every computed change, applied or not.
	Plan *Plan

	// Applied counts the changes actually applied (always zero in
	// dry-run mode).
	Applied int

	// Failures lists independent per-call failures.
	Failures []Failure

	// SkippedSubtrees lists path prefixes whose whole subtree was
	// skipped because an ancestor's creation failed. Reported
	// distinctly from independent failures.
	SkippedSubtrees []string

	// Converged maps source node path keys to their final remote
	// department ids (synthetic negative ids under dry-run for nodes
	// that do not exist yet).
	Converged map[string]int64

	// BaselineEmpty is set when the remote tree could not be loaded; no
	// delete operations are emitted in such a run.
	BaselineEmpty bool
}

// Partial reports whether the run completed with unresolved failures.
func (r *Result) Partial() bool {
	return len(r.Failures) > 0 || len(r.SkippedSubtrees) > 0
}
