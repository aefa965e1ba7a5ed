// Package report renders a Markdown summary of one reconciliation run,
// suitable for audit trails and chat-ops postings.
package report

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	md "github.com/nao1215/markdown"

	"github.com/alavret/sync-deps-from-hub-v2/pkg/assign"
	"github.com/alavret/sync-deps-from-hub-v2/pkg/errors"
	syncpkg "github.com/alavret/sync-deps-from-hub-v2/pkg/sync"
)

// Write renders the run report to w.
func Write(w io.Writer, result *syncpkg.Result) error {
	doc := md.NewMarkdown(w)

	doc.H1("Directory sync report")
	doc.PlainText(fmt.Sprintf("Started %s, finished in %s. Status: **%s**.",
		result.Started.Format(time.RFC3339),
		result.Duration().Round(time.Millisecond),
		result.Status,
	))

	if h := result.Hierarchy; h != nil {
		doc.H2("Source hierarchy")
		doc.BulletList(
			fmt.Sprintf("%d departments", len(h.Nodes)),
			fmt.Sprintf("%d memberships", len(h.Memberships)),
		)
	}

	if v := result.Validation; v != nil && (len(v.Errors) > 0 || len(v.Warnings) > 0) {
		doc.H2("Validation issues")
		rows := make([][]string, 0, len(v.Errors)+len(v.Warnings))
		for _, issue := range v.Errors {
			rows = append(rows, []string{"error", string(issue.Code), issue.Subject})
		}
		for _, issue := range v.Warnings {
			rows = append(rows, []string{"warning", string(issue.Code), issue.Subject})
		}
		doc.Table(md.TableSet{
			Header: []string{"Severity", "Check", "Subject"},
			Rows:   rows,
		})
	}

	if rec := result.Reconcile; rec != nil {
		doc.H2("Tree changes")
		if !rec.Plan.HasChanges() {
			doc.PlainText("No structural changes.")
		} else {
			rows := make([][]string, 0, len(rec.Plan.Changes))
			for _, c := range rec.Plan.Changes {
				rows = append(rows, []string{string(c.Type), c.Path, c.Describe()})
			}
			doc.Table(md.TableSet{
				Header: []string{"Action", "Path", "Details"},
				Rows:   rows,
			})
		}
		if len(rec.Failures) > 0 {
			doc.H3("Failures")
			items := make([]string, 0, len(rec.Failures))
			for _, f := range rec.Failures {
				items = append(items, f.Err.Error())
			}
			doc.BulletList(items...)
		}
		if len(rec.SkippedSubtrees) > 0 {
			doc.H3("Skipped subtrees")
			doc.BulletList(rec.SkippedSubtrees...)
		}
	}

	if asg := result.Assign; asg != nil {
		assigned, rehomed := 0, 0
		for _, c := range asg.Changes {
			switch c.Type {
			case assign.ChangeAssign:
				assigned++
			case assign.ChangeUnassign:
				rehomed++
			}
		}

		doc.H2("Membership changes")
		doc.BulletList(
			strconv.Itoa(assigned)+" users assigned",
			strconv.Itoa(rehomed)+" users re-homed to root",
			strconv.Itoa(len(asg.Unmatched))+" source users without a remote account",
		)
		if len(asg.Conflicts) > 0 {
			doc.H3("Duplicate claims")
			rows := make([][]string, 0, len(asg.Conflicts))
			for _, c := range asg.Conflicts {
				rows = append(rows, []string{c.Alias, c.KeptPath, c.LostPath})
			}
			doc.Table(md.TableSet{
				Header: []string{"Alias", "Kept", "Dropped"},
				Rows:   rows,
			})
		}
	}

	return doc.Build()
}

// Save renders the run report into a file.
func Save(path string, result *syncpkg.Result) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.WrapIO("create", path, err)
	}
	defer f.Close()

	if err := Write(f, result); err != nil {
		return errors.WrapIO("write", path, err)
	}
	return nil
}
