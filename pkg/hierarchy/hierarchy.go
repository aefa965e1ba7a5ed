// Package hierarchy defines the canonical representation of the source
// directory's nested group/user tree and the operations over it: encoding a
// recursive source into an ordered flat form, validating its integrity, and
// serializing it to the line-oriented audit dump.
package hierarchy

import (
	"strings"
)

// RootExternalID is the reserved identifier meaning "attached directly to
// the organization root". The root itself is never created or deleted; it
// only serves as an attachment point.
const RootExternalID = "root"

// PathSeparator joins path segments in display strings and dump lines.
const PathSeparator = ";"

// Node is one department/group of the canonical tree. Entries are ordered
// parents-before-children, so a Node's parent always precedes it.
type Node struct {
	// Name is the display label of the group.
	Name string

	// Path holds the full path segments from the top of the managed tree
	// down to this node, root-exclusive, ending with Name.
	Path []string

	// ExternalID is the stable identifier carried from the source system.
	// Empty is a valid-but-flagged state: such a node never matches a
	// pre-existing remote node and is always treated as new.
	ExternalID string

	// ParentExternalID is the external identifier of the immediate parent,
	// or RootExternalID for top-level nodes.
	ParentExternalID string

	// MailAlias is the lower-cased local part of the group's email,
	// empty when the group has no mail attribute.
	MailAlias string

	// Level is the tree depth: 1 for nodes attached directly to the root.
	Level int
}

// PathKey returns the display form of the node's path.
func (n Node) PathKey() string {
	return strings.Join(n.Path, PathSeparator)
}

// Membership is one user attached to a canonical node.
type Membership struct {
	// NodePath is the owning node's path segments.
	NodePath []string

	// NodeID is the owning node's external identifier, or its path key
	// when the source carries no identifier.
	NodeID string

	// DisplayName is the user's display name, lower-cased by the source.
	DisplayName string

	// Email is the user's primary email address.
	Email string

	// Key is the secondary link key tying the person record to its group
	// (an extensionAttribute-style value in the source directory).
	Key string
}

// NodePathKey returns the display form of the owning node's path.
func (m Membership) NodePathKey() string {
	return strings.Join(m.NodePath, PathSeparator)
}

// Alias returns the membership's derived alias: the local part of the
// email, lower-cased. Aliases must be unique across the whole membership
// set of a valid hierarchy.
func (m Membership) Alias() string {
	return AliasOf(m.Email)
}

// AliasOf derives an alias from an email address: the local part,
// lower-cased and trimmed. An address without "@" is used whole.
func AliasOf(email string) string {
	email = strings.ToLower(strings.TrimSpace(email))
	if i := strings.IndexByte(email, '@'); i >= 0 {
		return email[:i]
	}
	return email
}

// Hierarchy is the canonical flat form of one source tree: nodes in
// parents-before-children order plus every membership record. It is built
// fresh each run and never persisted beyond the optional audit dump.
type Hierarchy struct {
	Nodes       []Node
	Memberships []Membership
}

// MaxLevel returns the deepest node level, 0 for an empty hierarchy.
func (h *Hierarchy) MaxLevel() int {
	max := 0
	for _, n := range h.Nodes {
		if n.Level > max {
			max = n.Level
		}
	}
	return max
}

// NodesAtLevel returns the nodes at the given depth, in encoding order.
func (h *Hierarchy) NodesAtLevel(level int) []Node {
	var out []Node
	for _, n := range h.Nodes {
		if n.Level == level {
			out = append(out, n)
		}
	}
	return out
}

// MembershipsFor returns the memberships attached to the node with the
// given path key, in encoding order.
func (h *Hierarchy) MembershipsFor(pathKey string) []Membership {
	var out []Membership
	for _, m := range h.Memberships {
		if m.NodePathKey() == pathKey {
			out = append(out, m)
		}
	}
	return out
}

// Node returns the node with the given path key.
func (h *Hierarchy) Node(pathKey string) (Node, bool) {
	for _, n := range h.Nodes {
		if n.PathKey() == pathKey {
			return n, true
		}
	}
	return Node{}, false
}

// ExternalIDs returns the set of non-empty node external identifiers.
func (h *Hierarchy) ExternalIDs() map[string]struct{} {
	ids := make(map[string]struct{}, len(h.Nodes))
	for _, n := range h.Nodes {
		if n.ExternalID != "" {
			ids[n.ExternalID] = struct{}{}
		}
	}
	return ids
}
