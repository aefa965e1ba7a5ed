package reconcile

import (
	"context"
	"strings"

	"github.com/alavret/sync-deps-from-hub-v2/pkg/directory"
	"github.com/alavret/sync-deps-from-hub-v2/pkg/hierarchy"
	"github.com/alavret/sync-deps-from-hub-v2/pkg/logging"
)

// RemoteNode is one target department reshaped into the canonical entry
// form: full path and parent external identifier reconstructed by walking
// parentId links, enabling direct structural comparison with source nodes.
type RemoteNode struct {
	ID               int64
	ParentID         int64
	Name             string
	ExternalID       string
	Label            string
	Path             []string
	ParentExternalID string
	Depth            int
}

// PathKey returns the display form of the node's path.
func (n RemoteNode) PathKey() string {
	return strings.Join(n.Path, hierarchy.PathSeparator)
}

// Baseline is a snapshot of the remote department tree taken at the start
// of a phase and refreshed after structural mutations, so the engine never
// acts on stale identifiers.
type Baseline struct {
	Nodes []RemoteNode

	byExternalID map[string]int
	byID         map[int64]int
}

// ByExternalID returns the remote node carrying the given non-empty
// external identifier. The root is identified by the reserved sentinel,
// never by identifier equality.
func (b *Baseline) ByExternalID(externalID string) (RemoteNode, bool) {
	if externalID == "" {
		return RemoteNode{}, false
	}
	i, ok := b.byExternalID[externalID]
	if !ok {
		return RemoteNode{}, false
	}
	return b.Nodes[i], true
}

// ByID returns the remote node with the given system-assigned id.
func (b *Baseline) ByID(id int64) (RemoteNode, bool) {
	i, ok := b.byID[id]
	if !ok {
		return RemoteNode{}, false
	}
	return b.Nodes[i], true
}

// Empty reports whether the baseline carries no departments beside the
// root. An empty baseline is never a safe basis for deletions.
func (b *Baseline) Empty() bool {
	return len(b.Nodes) == 0
}

// LoadBaseline fetches all remote departments and reshapes them into
// canonical form. The organization root (the department with the reserved
// root id) is excluded from Nodes; it only anchors path reconstruction.
// A department whose parent chain cannot be resolved is skipped with a
// warning rather than failing the whole load.
func LoadBaseline(ctx context.Context, svc directory.Service) (*Baseline, error) {
	deps, err := svc.ListDepartments(ctx)
	if err != nil {
		return nil, err
	}

	byID := make(map[int64]directory.Department, len(deps))
	for _, d := range deps {
		byID[d.ID] = d
	}

	b := &Baseline{
		byExternalID: map[string]int{},
		byID:         map[int64]int{},
	}

	for _, d := range deps {
		if d.ID == directory.RootDepartmentID {
			continue
		}

		path, ok := remotePath(d, byID)
		if !ok {
			logging.Warn().
				Int64("department_id", d.ID).
				Str("name", d.Name).
				Msg("Skipping department with unresolvable parent chain")
			continue
		}

		node := RemoteNode{
			ID:         d.ID,
			ParentID:   d.ParentID,
			Name:       d.Name,
			ExternalID: d.ExternalID,
			Label:      d.Label,
			Path:       path,
			Depth:      len(path),
		}
		if d.ParentID == directory.RootDepartmentID {
			node.ParentExternalID = hierarchy.RootExternalID
		} else if parent, ok := byID[d.ParentID]; ok {
			node.ParentExternalID = parent.ExternalID
		}

		b.byID[node.ID] = len(b.Nodes)
		if node.ExternalID != "" {
			b.byExternalID[node.ExternalID] = len(b.Nodes)
		}
		b.Nodes = append(b.Nodes, node)
	}

	logging.Debug().
		Int("departments", len(b.Nodes)).
		Msg("Loaded remote tree baseline")

	return b, nil
}

// remotePath rebuilds a department's full path by walking parentId links
// up to the root. The walk is bounded by the department count, so a
// corrupted parent cycle cannot loop forever.
func remotePath(d directory.Department, byID map[int64]directory.Department) ([]string, bool) {
	path := []string{strings.TrimSpace(d.Name)}
	current := d
	for range byID {
		if current.ParentID == directory.RootDepartmentID || current.ParentID == 0 {
			return path, true
		}
		parent, ok := byID[current.ParentID]
		if !ok {
			return nil, false
		}
		path = append([]string{strings.TrimSpace(parent.Name)}, path...)
		current = parent
	}
	return nil, false
}
