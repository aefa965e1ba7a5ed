package output

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alavret/sync-deps-from-hub-v2/pkg/hierarchy"
	"github.com/alavret/sync-deps-from-hub-v2/pkg/reconcile"
)

func TestParseFormat(t *testing.T) {
	tests := []struct {
		input   string
		want    Format
		wantErr bool
	}{
		{"table", FormatTable, false},
		{"JSON", FormatJSON, false},
		{"yaml", FormatYAML, false},
		{"", "", false},
		{"xml", "", true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.input)
		if tt.wantErr {
			assert.Error(t, err, tt.input)
			continue
		}
		require.NoError(t, err, tt.input)
		assert.Equal(t, tt.want, got, tt.input)
	}
}

func TestJSONFormatter(t *testing.T) {
	var buf bytes.Buffer
	f := NewFormatter(FormatJSON)

	require.NoError(t, f.Format(&buf, map[string]int{"changes": 3}))

	var out map[string]int
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	assert.Equal(t, 3, out["changes"])
}

func TestYAMLFormatter(t *testing.T) {
	var buf bytes.Buffer
	f := NewFormatter(FormatYAML)

	require.NoError(t, f.Format(&buf, map[string]string{"status": "partial"}))
	assert.Contains(t, buf.String(), "status: partial")
}

func TestTableFormatterRendersData(t *testing.T) {
	var buf bytes.Buffer
	f := NewFormatter(FormatTable)

	err := f.Format(&buf, Data{
		Headers: []string{"Action", "Path"},
		Rows:    [][]string{{"create", "Company;Sales"}},
	})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "create")
	assert.Contains(t, buf.String(), "Company;Sales")
}

func TestTableFormatterConvertsStructSlices(t *testing.T) {
	type row struct {
		Path  string `json:"path"`
		Count int    `json:"member_count"`
	}
	var buf bytes.Buffer
	f := &TableFormatter{}

	require.NoError(t, f.Format(&buf, []row{{Path: "Company", Count: 2}}))

	out := buf.String()
	assert.Contains(t, strings.ToUpper(out), "MEMBER COUNT")
	assert.Contains(t, out, "Company")
}

func TestPlanData(t *testing.T) {
	plan := &reconcile.Plan{}
	plan.Add(reconcile.Change{Type: reconcile.ChangeCreate, Path: "Company;Sales", ExternalID: "g-sales"})
	plan.Add(reconcile.Change{Type: reconcile.ChangeRename, Path: "Company", OldValue: "Old", NewValue: "Company"})
	plan.Add(reconcile.Change{Type: reconcile.ChangeDelete, Path: "Company;Legacy", RemoteID: 21})

	data := PlanData(plan)
	require.Len(t, data.Rows, 3)
	assert.Equal(t, []string{"create", "Company;Sales", "g-sales", ""}, data.Rows[0])
	assert.Contains(t, data.Rows[1][3], `"Old" -> "Company"`)
	assert.Contains(t, data.Rows[2][3], "21")
}

func TestValidationData(t *testing.T) {
	report := &hierarchy.Report{
		Errors: []hierarchy.Issue{{
			Code:    hierarchy.CodeDuplicateMembership,
			Subject: "petrov",
			Paths:   []string{"Company;Sales", "Company;HR"},
		}},
		Warnings: []hierarchy.Issue{{
			Code:    hierarchy.CodeEmptyExternalID,
			Subject: "Company;Temp",
		}},
	}

	data := ValidationData(report)
	require.Len(t, data.Rows, 2)
	assert.Equal(t, "error", data.Rows[0][0])
	assert.Contains(t, data.Rows[0][3], "Company;HR")
	assert.Equal(t, "warning", data.Rows[1][0])
}

func TestDumpData(t *testing.T) {
	h := &hierarchy.Hierarchy{
		Nodes: []hierarchy.Node{{
			Name: "Company", Path: []string{"Company"}, ExternalID: "g-root",
			ParentExternalID: hierarchy.RootExternalID, Level: 1,
		}},
		Memberships: []hierarchy.Membership{{
			NodePath: []string{"Company"}, Email: "alice@example.com",
		}},
	}

	data := DumpData(h)
	require.Len(t, data.Rows, 1)
	assert.Equal(t, []string{"1", "Company", "g-root", "root", "", "1"}, data.Rows[0])
}
