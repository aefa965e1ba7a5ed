package hierarchy

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleHierarchy() *Hierarchy {
	return &Hierarchy{
		Nodes: []Node{
			{Name: "Company", Path: []string{"Company"}, ExternalID: "guid-root", ParentExternalID: RootExternalID, Level: 1},
			{Name: "Sales", Path: []string{"Company", "Sales"}, ExternalID: "guid-sales", ParentExternalID: "guid-root", MailAlias: "sales", Level: 2},
		},
		Memberships: []Membership{
			{NodePath: []string{"Company", "Sales"}, NodeID: "guid-sales", DisplayName: "alice smith", Email: "alice@example.com", Key: "sales"},
		},
	}
}

func TestEncodeLinesFormat(t *testing.T) {
	lines := EncodeLines(sampleHierarchy())

	require.Len(t, lines, 3)
	assert.Equal(t, "Company~~root;guid-root", lines[0])
	assert.Equal(t, "Company;Sales~sales~guid-root;guid-sales", lines[1])
	assert.Equal(t, "Company;Sales|alice smith;alice@example.com", lines[2])
}

func TestDumpRoundTrip(t *testing.T) {
	h := sampleHierarchy()

	decoded, err := DecodeLines(EncodeLines(h))
	require.NoError(t, err)

	require.Len(t, decoded.Nodes, 2)
	assert.Equal(t, h.Nodes, decoded.Nodes)

	require.Len(t, decoded.Memberships, 1)
	assert.Equal(t, "guid-sales", decoded.Memberships[0].NodeID)
	assert.Equal(t, "alice@example.com", decoded.Memberships[0].Email)
}

func TestDelimiterCharactersAreEscaped(t *testing.T) {
	h := &Hierarchy{
		Nodes: []Node{
			{Name: "R&D; Labs", Path: []string{"R&D; Labs"}, ExternalID: "guid-1", ParentExternalID: RootExternalID, Level: 1},
		},
		Memberships: []Membership{
			{NodePath: []string{"R&D; Labs"}, NodeID: "guid-1", DisplayName: "weird~name|here", Email: "weird@example.com"},
		},
	}

	lines := EncodeLines(h)
	require.Len(t, lines, 2)
	assert.Equal(t, `R&D\; Labs~~root;guid-1`, lines[0])
	assert.Equal(t, `R&D\; Labs|weird\~name\|here;weird@example.com`, lines[1])

	decoded, err := DecodeLines(lines)
	require.NoError(t, err)
	require.Len(t, decoded.Nodes, 1)
	assert.Equal(t, "R&D; Labs", decoded.Nodes[0].Name)
	require.Len(t, decoded.Memberships, 1)
	assert.Equal(t, "weird~name|here", decoded.Memberships[0].DisplayName)
}

func TestDecodeRejectsMalformedLines(t *testing.T) {
	tests := []struct {
		name  string
		lines []string
	}{
		{"node line without identity pair", []string{"Company~mail~root"}},
		{"membership before node", []string{"Company|alice;alice@example.com"}},
		{"membership without email", []string{"Company~~root;guid-root", "Company|alice"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeLines(tt.lines)
			assert.Error(t, err)
		})
	}
}

func TestDecodeSkipsBlankLines(t *testing.T) {
	decoded, err := DecodeLines([]string{"", "Company~~root;guid-root", "  ", ""})
	require.NoError(t, err)
	assert.Len(t, decoded.Nodes, 1)
}

func TestWriteAndReadDump(t *testing.T) {
	h := sampleHierarchy()
	path := filepath.Join(t.TempDir(), "deps_dump.txt")

	require.NoError(t, WriteDump(path, h))

	loaded, err := ReadDump(path)
	require.NoError(t, err)
	assert.Equal(t, h.Nodes, loaded.Nodes)
	assert.Len(t, loaded.Memberships, 1)
}
