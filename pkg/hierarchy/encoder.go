package hierarchy

import (
	"context"

	"github.com/alavret/sync-deps-from-hub-v2/pkg/logging"
)

// SourceGroup is one group record as the source directory exposes it.
type SourceGroup struct {
	// Name is the display name, falling back to the common name.
	Name string

	// ExternalID is the stable identifier of the group (objectGUID in an
	// Active Directory source). May be empty.
	ExternalID string

	// Mail is the group's email address, may be empty.
	Mail string

	// MemberKey is the secondary key person records carry to declare
	// membership in this group (sAMAccountName in the original source).
	MemberKey string
}

// SourceMember is one person record attached to a group.
type SourceMember struct {
	DisplayName string
	Email       string
	Key         string
}

// Source is the directory collaborator the encoder walks. The encoder does
// not know how search queries are formed; it only consumes the resulting
// records.
type Source interface {
	// RootGroup resolves the configured root of the managed subtree.
	RootGroup(ctx context.Context) (SourceGroup, error)

	// ChildGroups lists the groups that are direct members of parent.
	ChildGroups(ctx context.Context, parent SourceGroup) ([]SourceGroup, error)

	// GroupMembers lists the person records attached to group.
	GroupMembers(ctx context.Context, group SourceGroup) ([]SourceMember, error)
}

// workItem is one pending "resolve children of node X" task.
type workItem struct {
	group            SourceGroup
	path             []string
	parentExternalID string
	level            int
}

// Encode linearizes the nested source tree into a canonical Hierarchy.
// The walk is an explicit breadth-first worklist rather than recursion, so
// deep or wide directories cannot grow the call stack, and the
// parents-before-children ordering of the output is mechanical: a node is
// appended when its work item is dequeued, and its children are enqueued
// after it.
func Encode(ctx context.Context, src Source) (*Hierarchy, error) {
	root, err := src.RootGroup(ctx)
	if err != nil {
		return nil, err
	}

	h := &Hierarchy{}
	queue := []workItem{{
		group:            root,
		path:             []string{root.Name},
		parentExternalID: RootExternalID,
		level:            1,
	}}

	for len(queue) > 0 {
		item := queue[0]
		queue = queue[1:]

		if err := ctx.Err(); err != nil {
			return nil, err
		}

		node := Node{
			Name:             item.group.Name,
			Path:             item.path,
			ExternalID:       item.group.ExternalID,
			ParentExternalID: item.parentExternalID,
			MailAlias:        AliasOf(item.group.Mail),
			Level:            item.level,
		}
		h.Nodes = append(h.Nodes, node)

		members, err := src.GroupMembers(ctx, item.group)
		if err != nil {
			return nil, err
		}
		nodeID := node.ExternalID
		if nodeID == "" {
			nodeID = node.PathKey()
		}
		for _, member := range members {
			h.Memberships = append(h.Memberships, Membership{
				NodePath:    item.path,
				NodeID:      nodeID,
				DisplayName: member.DisplayName,
				Email:       member.Email,
				Key:         member.Key,
			})
		}

		children, err := src.ChildGroups(ctx, item.group)
		if err != nil {
			return nil, err
		}
		for _, child := range children {
			childPath := make([]string, len(item.path), len(item.path)+1)
			copy(childPath, item.path)
			childPath = append(childPath, child.Name)
			queue = append(queue, workItem{
				group:            child,
				path:             childPath,
				parentExternalID: item.group.ExternalID,
				level:            item.level + 1,
			})
		}
	}

	logging.Debug().
		Int("nodes", len(h.Nodes)).
		Int("memberships", len(h.Memberships)).
		Msg("Encoded source hierarchy")

	return h, nil
}
