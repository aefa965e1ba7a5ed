package output

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/alavret/sync-deps-from-hub-v2/pkg/hierarchy"
	"github.com/alavret/sync-deps-from-hub-v2/pkg/reconcile"
	syncpkg "github.com/alavret/sync-deps-from-hub-v2/pkg/sync"
)

// PlanData renders a change plan as a table.
func PlanData(plan *reconcile.Plan) Data {
	data := Data{Headers: []string{"Action", "Path", "External ID", "Details"}}
	for _, c := range plan.Changes {
		details := ""
		switch c.Type {
		case reconcile.ChangeRename, reconcile.ChangeRelabel:
			details = fmt.Sprintf("%q -> %q", c.OldValue, c.NewValue)
		case reconcile.ChangeReparent:
			details = fmt.Sprintf("%s -> %s", c.OldValue, c.NewValue)
		case reconcile.ChangeDelete:
			details = "department " + strconv.FormatInt(c.RemoteID, 10)
		}
		data.Rows = append(data.Rows, []string{string(c.Type), c.Path, c.ExternalID, details})
	}
	return data
}

// ValidationData renders a validation report as a table.
func ValidationData(report *hierarchy.Report) Data {
	data := Data{Headers: []string{"Severity", "Check", "Subject", "Paths"}}
	for _, issue := range report.Errors {
		data.Rows = append(data.Rows, []string{"error", string(issue.Code), issue.Subject, strings.Join(issue.Paths, ", ")})
	}
	for _, issue := range report.Warnings {
		data.Rows = append(data.Rows, []string{"warning", string(issue.Code), issue.Subject, strings.Join(issue.Paths, ", ")})
	}
	return data
}

const timeRounding = 10 * time.Millisecond

// runSummary is the serializable run outcome.
type runSummary struct {
	Status      string `json:"status"`
	Duration    string `json:"duration"`
	Nodes       int    `json:"nodes"`
	Memberships int    `json:"memberships"`
	Changes     int    `json:"changes"`
	Applied     int    `json:"applied"`
	Failures    int    `json:"failures"`
	Conflicts   int    `json:"conflicts"`
	Unmatched   int    `json:"unmatched"`
}

// RunSummary flattens a run result for any output format.
func RunSummary(result *syncpkg.Result) any {
	s := runSummary{
		Status:   string(result.Status),
		Duration: result.Duration().Round(timeRounding).String(),
	}
	if result.Hierarchy != nil {
		s.Nodes = len(result.Hierarchy.Nodes)
		s.Memberships = len(result.Hierarchy.Memberships)
	}
	if rec := result.Reconcile; rec != nil {
		s.Changes = len(rec.Plan.Changes)
		s.Applied += rec.Applied
		s.Failures += len(rec.Failures)
	}
	if asg := result.Assign; asg != nil {
		s.Changes += len(asg.Changes)
		s.Applied += asg.Applied
		s.Failures += len(asg.Failures)
		s.Conflicts = len(asg.Conflicts)
		s.Unmatched = len(asg.Unmatched)
	}
	return s
}

// DumpData renders an encoded hierarchy as a table of nodes.
func DumpData(h *hierarchy.Hierarchy) Data {
	data := Data{Headers: []string{"Level", "Path", "External ID", "Parent", "Alias", "Members"}}
	for _, n := range h.Nodes {
		data.Rows = append(data.Rows, []string{
			strconv.Itoa(n.Level),
			n.PathKey(),
			n.ExternalID,
			n.ParentExternalID,
			n.MailAlias,
			strconv.Itoa(len(h.MembershipsFor(n.PathKey()))),
		})
	}
	return data
}
