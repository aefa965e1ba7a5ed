package reconcile

import (
	"context"
	"sort"
	"strings"

	"github.com/alavret/sync-deps-from-hub-v2/pkg/directory"
	"github.com/alavret/sync-deps-from-hub-v2/pkg/errors"
	"github.com/alavret/sync-deps-from-hub-v2/pkg/hierarchy"
	"github.com/alavret/sync-deps-from-hub-v2/pkg/logging"
)

// Reconciler converges the remote department tree onto the canonical
// source hierarchy. Execution is strictly sequential: correctness depends
// on parent-before-child application and on re-reading remote state after
// any mutation that could invalidate cached identifiers.
type Reconciler struct {
	svc             directory.Service
	dryRun          bool
	retainUnmanaged bool
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithDryRun computes the full change plan without applying anything.
// Enabling dry-run never changes which changes are computed, only whether
// they are applied.
func WithDryRun(dryRun bool) Option {
	return func(r *Reconciler) { r.dryRun = dryRun }
}

// WithRetainUnmanaged keeps remote departments that carry no external
// identifier instead of treating them as deletion candidates.
func WithRetainUnmanaged(retain bool) Option {
	return func(r *Reconciler) { r.retainUnmanaged = retain }
}

// New creates a Reconciler for the given target service.
func New(svc directory.Service, opts ...Option) *Reconciler {
	r := &Reconciler{svc: svc}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// deferredReparent is a matched node whose recorded parent differs from
// the source's; the move is applied only after every create across all
// levels, so it never acts on a parent that is itself mid-move.
type deferredReparent struct {
	node      hierarchy.Node
	remote    RemoteNode
	oldParent string
}

// Converge computes and (unless dry-run) applies the ordered change plan.
// Source nodes are processed level by level, so every parent is resolved
// to a real remote identifier before its children are processed.
func (r *Reconciler) Converge(ctx context.Context, h *hierarchy.Hierarchy) (*Result, error) {
	result := &Result{
		Plan:      &Plan{},
		Converged: map[string]int64{},
	}

	baseline, err := LoadBaseline(ctx, r.svc)
	if err != nil {
		// No safe baseline: proceed without deleting anything.
		logging.Warn().Err(err).Msg("Remote tree load failed; continuing with empty baseline, deletions disabled")
		baseline = &Baseline{byExternalID: map[string]int{}, byID: map[int64]int{}}
		result.BaselineEmpty = true
	}

	var deferred []deferredReparent
	nextSyntheticID := int64(-1)

	for level := 1; level <= h.MaxLevel(); level++ {
		createdThisLevel := false

		for _, node := range h.NodesAtLevel(level) {
			if r.subtreeSkipped(result, node) {
				continue
			}

			parentID, ok := r.resolveParent(node, baseline, result.Converged)
			if !ok {
				result.SkippedSubtrees = append(result.SkippedSubtrees, node.PathKey())
				logging.Warn().
					Str("path", node.PathKey()).
					Msg("Skipping subtree: parent department is not resolved")
				continue
			}

			remote, matched := baseline.ByExternalID(node.ExternalID)
			if !matched {
				created := r.create(ctx, node, parentID, result, &nextSyntheticID)
				if created {
					createdThisLevel = true
				}
				continue
			}

			result.Converged[node.PathKey()] = remote.ID

			if remote.ParentExternalID != node.ParentExternalID {
				deferred = append(deferred, deferredReparent{
					node:      node,
					remote:    remote,
					oldParent: remote.ParentExternalID,
				})
			}

			r.updateInPlace(ctx, node, remote, result)
		}

		// Descendant levels look parents up by identifier, so the
		// baseline must reflect this level's creates before moving on.
		if createdThisLevel && !r.dryRun {
			refreshed, err := LoadBaseline(ctx, r.svc)
			if err != nil {
				return result, errors.WrapAPI("directory", 0, err)
			}
			baseline = refreshed
		}
	}

	r.applyReparents(ctx, deferred, baseline, result)

	if result.BaselineEmpty {
		logging.Warn().Msg("No safe baseline for orphan detection; zero departments will be deleted")
	} else {
		r.deleteOrphans(ctx, h, baseline, result)
	}

	logging.Info().
		Str("plan", result.Plan.String()).
		Int("applied", result.Applied).
		Int("failures", len(result.Failures)).
		Int("skipped_subtrees", len(result.SkippedSubtrees)).
		Bool("dry_run", r.dryRun).
		Msg("Tree convergence finished")

	return result, nil
}

// subtreeSkipped reports whether the node lives under a path whose
// ancestor create failed earlier in this run.
func (r *Reconciler) subtreeSkipped(result *Result, node hierarchy.Node) bool {
	key := node.PathKey()
	for _, prefix := range result.SkippedSubtrees {
		if strings.HasPrefix(key, prefix+hierarchy.PathSeparator) {
			logging.Debug().
				Str("path", key).
				Str("failed_ancestor", prefix).
				Msg("Skipping node under failed subtree")
			return true
		}
	}
	return false
}

// resolveParent maps a node's parent reference to a remote department id.
// The reserved root sentinel resolves to the organization root; otherwise
// the parent is found by external identifier in the baseline, falling back
// to the converged path map for parents without identifiers.
func (r *Reconciler) resolveParent(node hierarchy.Node, baseline *Baseline, converged map[string]int64) (int64, bool) {
	if node.ParentExternalID == hierarchy.RootExternalID {
		return directory.RootDepartmentID, true
	}
	if node.ParentExternalID != "" {
		if parent, ok := baseline.ByExternalID(node.ParentExternalID); ok {
			return parent.ID, true
		}
	}
	// Parent carries no identifier (or was created this run in dry-run
	// mode): resolve through the already-processed previous level.
	if len(node.Path) > 1 {
		parentKey := strings.Join(node.Path[:len(node.Path)-1], hierarchy.PathSeparator)
		if id, ok := converged[parentKey]; ok {
			return id, true
		}
	}
	return 0, false
}

// create emits and (unless dry-run) applies one department create.
// Returns true when the remote tree was actually mutated.
func (r *Reconciler) create(ctx context.Context, node hierarchy.Node, parentID int64, result *Result, nextSyntheticID *int64) bool {
	change := Change{
		Type:       ChangeCreate,
		Path:       node.PathKey(),
		ExternalID: node.ExternalID,
		ParentID:   parentID,
		NewValue:   node.Name,
	}
	result.Plan.Add(change)

	if r.dryRun {
		change.RemoteID = *nextSyntheticID
		*nextSyntheticID--
		result.Converged[node.PathKey()] = change.RemoteID
		logging.Info().Str("path", node.PathKey()).Msg("Dry run: department will be created")
		return false
	}

	logging.Info().Str("path", node.PathKey()).Msg("Creating department")
	dep, err := r.svc.CreateDepartment(ctx, directory.DepartmentDraft{
		Name:       node.Name,
		ParentID:   parentID,
		ExternalID: node.ExternalID,
		Label:      node.MailAlias,
	})
	if err != nil {
		// The whole subtree rooted here is unusable this run.
		result.Failures = append(result.Failures, Failure{Change: change, Err: errors.WrapCall("create", "department", node.PathKey(), err)})
		result.SkippedSubtrees = append(result.SkippedSubtrees, node.PathKey())
		logging.Error().Err(err).Str("path", node.PathKey()).Msg("Department create failed; subtree skipped")
		return false
	}

	result.Applied++
	result.Converged[node.PathKey()] = dep.ID
	return true
}

// updateInPlace emits rename/relabel changes for a matched node whose
// display attributes drifted. Neither change alters tree shape, so they
// are applied immediately.
func (r *Reconciler) updateInPlace(ctx context.Context, node hierarchy.Node, remote RemoteNode, result *Result) {
	patch := directory.DepartmentPatch{}

	if remote.Name != node.Name {
		result.Plan.Add(Change{
			Type:       ChangeRename,
			Path:       node.PathKey(),
			ExternalID: node.ExternalID,
			RemoteID:   remote.ID,
			OldValue:   remote.Name,
			NewValue:   node.Name,
		})
		patch.Name = directory.Ptr(node.Name)
	}
	if remote.Label != node.MailAlias {
		result.Plan.Add(Change{
			Type:       ChangeRelabel,
			Path:       node.PathKey(),
			ExternalID: node.ExternalID,
			RemoteID:   remote.ID,
			OldValue:   remote.Label,
			NewValue:   node.MailAlias,
		})
		patch.Label = directory.Ptr(node.MailAlias)
	}

	if patch.Name == nil && patch.Label == nil {
		return
	}

	if r.dryRun {
		logging.Info().Str("path", node.PathKey()).Int64("department_id", remote.ID).Msg("Dry run: department will be updated")
		return
	}

	if _, err := r.svc.PatchDepartment(ctx, remote.ID, patch); err != nil {
		result.Failures = append(result.Failures, Failure{
			Change: Change{Type: ChangeRename, Path: node.PathKey(), RemoteID: remote.ID},
			Err:    errors.WrapCall("patch", "department", node.PathKey(), err),
		})
		logging.Error().Err(err).Str("path", node.PathKey()).Msg("Department update failed")
		return
	}
	result.Applied++
}

// applyReparents runs the deferred re-parent pass: every node marked
// mid-walk is moved under its newly resolved parent.
func (r *Reconciler) applyReparents(ctx context.Context, deferred []deferredReparent, baseline *Baseline, result *Result) {
	for _, d := range deferred {
		parentID, ok := r.resolveParent(d.node, baseline, result.Converged)
		if !ok {
			result.SkippedSubtrees = append(result.SkippedSubtrees, d.node.PathKey())
			logging.Warn().Str("path", d.node.PathKey()).Msg("Re-parent skipped: new parent is not resolved")
			continue
		}

		change := Change{
			Type:       ChangeReparent,
			Path:       d.node.PathKey(),
			ExternalID: d.node.ExternalID,
			RemoteID:   d.remote.ID,
			ParentID:   parentID,
			OldValue:   d.oldParent,
			NewValue:   d.node.ParentExternalID,
		}
		result.Plan.Add(change)

		if r.dryRun {
			logging.Info().Str("path", d.node.PathKey()).Msg("Dry run: department will be moved")
			continue
		}

		logging.Info().
			Str("path", d.node.PathKey()).
			Int64("department_id", d.remote.ID).
			Int64("new_parent_id", parentID).
			Msg("Moving department")
		if _, err := r.svc.PatchDepartment(ctx, d.remote.ID, directory.DepartmentPatch{ParentID: directory.Ptr(parentID)}); err != nil {
			result.Failures = append(result.Failures, Failure{Change: change, Err: errors.WrapCall("patch", "department", d.node.PathKey(), err)})
			logging.Error().Err(err).Str("path", d.node.PathKey()).Msg("Department move failed")
			continue
		}
		result.Applied++
	}
}

// deleteOrphans removes remote departments absent from the source set:
// managed nodes (non-empty externalId) not produced by the source, and
// unmanaged nodes unless retention is configured. Candidates are sorted
// deepest-path-first so children go before ancestors; users still assigned
// to a doomed department are first re-homed to the root.
func (r *Reconciler) deleteOrphans(ctx context.Context, h *hierarchy.Hierarchy, baseline *Baseline, result *Result) {
	sourceIDs := h.ExternalIDs()
	keptIDs := map[int64]struct{}{}
	for _, id := range result.Converged {
		keptIDs[id] = struct{}{}
	}

	var candidates []RemoteNode
	for _, node := range baseline.Nodes {
		if _, kept := keptIDs[node.ID]; kept {
			continue
		}
		if node.ExternalID != "" {
			if _, inSource := sourceIDs[node.ExternalID]; !inSource {
				candidates = append(candidates, node)
			}
			continue
		}
		if !r.retainUnmanaged {
			candidates = append(candidates, node)
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Depth > candidates[j].Depth
	})

	if len(candidates) == 0 {
		return
	}

	var users []directory.User
	if !r.dryRun {
		fresh, err := r.svc.ListUsers(ctx, true)
		if err != nil {
			logging.Error().Err(err).Msg("User listing failed; orphaned departments left in place")
			result.Failures = append(result.Failures, Failure{
				Change: Change{Type: ChangeDelete},
				Err:    errors.WrapCall("list", "user", "", err),
			})
			return
		}
		users = fresh
	}

	for _, node := range candidates {
		change := Change{
			Type:       ChangeDelete,
			Path:       node.PathKey(),
			ExternalID: node.ExternalID,
			RemoteID:   node.ID,
		}
		result.Plan.Add(change)
		logging.Info().Str("path", node.PathKey()).Int64("department_id", node.ID).Msg("Found unused department")

		if r.dryRun {
			logging.Info().Str("path", node.PathKey()).Msg("Dry run: department will be deleted")
			continue
		}

		if !r.evacuateUsers(ctx, node, users, result) {
			continue
		}

		if err := r.svc.DeleteDepartment(ctx, node.ID); err != nil {
			if errors.IsNotFound(err) {
				// Already gone remotely, the desired state holds.
				logging.Warn().Str("path", node.PathKey()).Int64("department_id", node.ID).Msg("Department already deleted")
				result.Applied++
				continue
			}
			// Per-node failure isolation: the remaining plan continues.
			result.Failures = append(result.Failures, Failure{Change: change, Err: errors.WrapCall("delete", "department", node.PathKey(), err)})
			logging.Error().Err(err).Str("path", node.PathKey()).Msg("Department delete failed")
			continue
		}
		result.Applied++
	}
}

// evacuateUsers re-homes every user of a doomed department to the root.
// Service accounts are never touched; one left behind makes the service
// refuse the delete, which surfaces as a per-node failure.
// Returns false when any re-home failed, leaving the department in place.
func (r *Reconciler) evacuateUsers(ctx context.Context, node RemoteNode, users []directory.User, result *Result) bool {
	ok := true
	for _, user := range users {
		if user.DepartmentID != node.ID || user.IsRobot {
			continue
		}
		logging.Info().
			Str("email", user.Email).
			Str("path", node.PathKey()).
			Msg("Re-homing user from doomed department to root")
		if err := r.svc.AssignUserDepartment(ctx, user.ID, directory.RootDepartmentID); err != nil {
			result.Failures = append(result.Failures, Failure{
				Change: Change{Type: ChangeDelete, Path: node.PathKey(), RemoteID: node.ID},
				Err:    errors.WrapCall("assign", "user", user.Email, err),
			})
			ok = false
		}
	}
	return ok
}
