package hierarchy

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/alavret/sync-deps-from-hub-v2/pkg/errors"
)

// The audit dump is a stable, human-diffable line format:
//
//	node line:       path~mailAlias~parentExternalId;externalId
//	membership line: path|displayName;email
//
// A membership line always follows its owning node's line. Path segments
// are joined with ";". Any literal "~", "|", ";" or "\" inside a name or
// email is backslash-escaped at encoding time so the format survives
// arbitrary source data.

const dumpFilePermissions = 0o644

// escapeField protects delimiter characters inside a single field value.
func escapeField(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '\\', '~', '|', ';':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// unescapeField reverses escapeField.
func unescapeField(s string) string {
	var b strings.Builder
	escaped := false
	for _, r := range s {
		if escaped {
			b.WriteRune(r)
			escaped = false
			continue
		}
		if r == '\\' {
			escaped = true
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// escapePath escapes each segment and joins them with the path separator.
func escapePath(segments []string) string {
	escaped := make([]string, len(segments))
	for i, s := range segments {
		escaped[i] = escapeField(s)
	}
	return strings.Join(escaped, PathSeparator)
}

// splitEscaped splits s on sep, honoring backslash escapes.
func splitEscaped(s string, sep rune) []string {
	var fields []string
	var b strings.Builder
	escaped := false
	for _, r := range s {
		if escaped {
			b.WriteByte('\\')
			b.WriteRune(r)
			escaped = false
			continue
		}
		switch r {
		case '\\':
			escaped = true
		case sep:
			fields = append(fields, b.String())
			b.Reset()
		default:
			b.WriteRune(r)
		}
	}
	fields = append(fields, b.String())
	return fields
}

// EncodeLines renders the hierarchy into dump lines: one line per node,
// each immediately followed by the lines of its memberships.
func EncodeLines(h *Hierarchy) []string {
	lines := make([]string, 0, len(h.Nodes)+len(h.Memberships))
	for _, n := range h.Nodes {
		path := escapePath(n.Path)
		lines = append(lines, fmt.Sprintf("%s~%s~%s;%s",
			path, escapeField(n.MailAlias), escapeField(n.ParentExternalID), escapeField(n.ExternalID)))
		for _, m := range h.MembershipsFor(n.PathKey()) {
			lines = append(lines, fmt.Sprintf("%s|%s;%s",
				path, escapeField(m.DisplayName), escapeField(m.Email)))
		}
	}
	return lines
}

// DecodeLines parses dump lines back into a Hierarchy. Node levels are
// rebuilt from path lengths; membership node IDs are re-derived from the
// preceding node line.
func DecodeLines(lines []string) (*Hierarchy, error) {
	h := &Hierarchy{}
	nodeIDs := map[string]string{} // path key -> node id

	for i, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}

		if fields := splitEscaped(line, '|'); len(fields) == 2 {
			// membership line: path|displayName;email
			pathSegs := decodePath(fields[0])
			tail := splitEscaped(fields[1], ';')
			if len(tail) != 2 {
				return nil, errors.NewParseError("dump", "", fmt.Sprintf("line %d: malformed membership record", i+1), nil)
			}
			pathKey := strings.Join(pathSegs, PathSeparator)
			nodeID, ok := nodeIDs[pathKey]
			if !ok {
				return nil, errors.NewParseError("dump", "", fmt.Sprintf("line %d: membership before its node %q", i+1, pathKey), nil)
			}
			h.Memberships = append(h.Memberships, Membership{
				NodePath:    pathSegs,
				NodeID:      nodeID,
				DisplayName: unescapeField(tail[0]),
				Email:       unescapeField(tail[1]),
			})
			continue
		}

		fields := splitEscaped(line, '~')
		if len(fields) != 3 {
			return nil, errors.NewParseError("dump", "", fmt.Sprintf("line %d: malformed node record", i+1), nil)
		}
		pathSegs := decodePath(fields[0])
		tail := splitEscaped(fields[2], ';')
		if len(tail) != 2 {
			return nil, errors.NewParseError("dump", "", fmt.Sprintf("line %d: malformed node identity", i+1), nil)
		}
		node := Node{
			Name:             pathSegs[len(pathSegs)-1],
			Path:             pathSegs,
			MailAlias:        unescapeField(fields[1]),
			ParentExternalID: unescapeField(tail[0]),
			ExternalID:       unescapeField(tail[1]),
			Level:            len(pathSegs),
		}
		h.Nodes = append(h.Nodes, node)

		id := node.ExternalID
		if id == "" {
			id = node.PathKey()
		}
		nodeIDs[node.PathKey()] = id
	}

	return h, nil
}

// decodePath splits an escaped path field into unescaped segments.
func decodePath(field string) []string {
	parts := splitEscaped(field, ';')
	for i, p := range parts {
		parts[i] = unescapeField(p)
	}
	return parts
}

// WriteDump serializes the hierarchy to a durable line-oriented dump for
// audit and replay.
func WriteDump(path string, h *Hierarchy) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, dumpFilePermissions)
	if err != nil {
		return errors.WrapIO("create", path, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, line := range EncodeLines(h) {
		if _, err := w.WriteString(line + "\n"); err != nil {
			return errors.WrapIO("write", path, err)
		}
	}
	if err := w.Flush(); err != nil {
		return errors.WrapIO("write", path, err)
	}
	return nil
}

// ReadDump loads a hierarchy back from an audit dump file.
func ReadDump(path string) (*Hierarchy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapIO("read", path, err)
	}
	h, err := DecodeLines(strings.Split(string(data), "\n"))
	if err != nil {
		if parseErr, ok := err.(*errors.ParseError); ok {
			parseErr.File = path
		}
		return nil, err
	}
	return h, nil
}
