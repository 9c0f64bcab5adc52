// Package report renders canned query results as tables or JSON.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"flakehound/pkg/store"

	"github.com/jedib0t/go-pretty/v6/table"
)

// textPreview caps the failure-text column in table output; full text
// remains available via JSON output or ad hoc SQL.
const textPreview = 120

// WriteJSON writes any report value as indented JSON.
func WriteJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(v)
}

// WriteFailingTests renders the failed tests of one run.
func WriteFailingTests(w io.Writer, run *store.Run, tests []store.FailingTest) {
	if len(tests) == 0 {
		fmt.Fprintf(w, "No failed tests in run %s\n", run.URL())
		return
	}

	t := newTable(w)
	t.SetTitle("Failed tests in %s", run.URL())
	t.AppendHeader(table.Row{"File", "Test", "Flaky", "Runs", "Max time", "Failure"})

	for _, ft := range tests {
		text := ""
		if ft.Text != nil {
			text = preview(*ft.Text)
		}

		t.AppendRow(table.Row{
			ft.File, ft.Name, ft.Flaky, ft.Runs,
			fmt.Sprintf("%.2fs", ft.MaxDuration), text,
		})
	}

	t.Render()
}

// WriteFlakyTests renders the flaky tests of a repo.
func WriteFlakyTests(w io.Writer, tests []store.FlakyTest) {
	if len(tests) == 0 {
		fmt.Fprintln(w, "No flaky tests recorded")
		return
	}

	t := newTable(w)
	t.AppendHeader(table.Row{"Repo", "Class", "Test"})

	for _, ft := range tests {
		t.AppendRow(table.Row{ft.Repo, ft.Classname, ft.Name})
	}

	t.Render()
}

// WriteSummary renders the longitudinal summary of a repo.
func WriteSummary(w io.Writer, s *store.RepoSummary) {
	t := newTable(w)
	t.SetTitle(s.Repo)
	t.AppendRow(table.Row{"Artifacts", s.Artifacts})
	t.AppendRow(table.Row{"Runs", s.Runs})
	t.AppendRow(table.Row{"Test results", s.Results})
	t.AppendRow(table.Row{"Failed results", s.Failed})
	t.AppendRow(table.Row{"Flaky tests", s.FlakyTests})

	last := "never"
	if !s.LastSuiteTime.IsZero() {
		last = s.LastSuiteTime.Format(time.RFC3339)
	}

	t.AppendRow(table.Row{"Last suite run", last})
	t.Render()
}

// WriteResult renders an ad hoc query result.
func WriteResult(w io.Writer, res *store.Result) {
	t := newTable(w)

	header := make(table.Row, len(res.Columns))
	for i, c := range res.Columns {
		header[i] = c
	}

	t.AppendHeader(header)

	for _, row := range res.Rows {
		out := make(table.Row, len(row))
		for i, v := range row {
			out[i] = formatValue(v)
		}

		t.AppendRow(out)
	}

	t.Render()
	fmt.Fprintf(w, "(%d rows)\n", len(res.Rows))
}

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)

	return t
}

func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case []byte:
		return preview(string(val))
	case string:
		return preview(val)
	default:
		return fmt.Sprintf("%v", val)
	}
}

func preview(s string) string {
	if len(s) <= textPreview {
		return s
	}

	return s[:textPreview] + "…"
}
