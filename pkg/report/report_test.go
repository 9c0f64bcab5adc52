package report_test

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flakehound/pkg/report"
	"flakehound/pkg/store"
)

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer

	tests := []store.FlakyTest{
		{Repo: "acme/widgets", Classname: "c", Name: "t1"},
	}
	require.NoError(t, report.WriteJSON(&buf, tests))

	var decoded []store.FlakyTest
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, tests, decoded)
}

func TestWriteFailingTests(t *testing.T) {
	var buf bytes.Buffer

	run := &store.Run{Repo: "acme/widgets", ID: "100", Branch: "main"}
	text := "assertion failed at line 3"

	report.WriteFailingTests(&buf, run, []store.FailingTest{
		{File: "suite.xml", Name: "test_bad", Runs: 2, MaxDuration: 1.5, Text: &text},
	})

	out := buf.String()
	assert.Contains(t, out, "test_bad")
	assert.Contains(t, out, "assertion failed at line 3")
	assert.Contains(t, out, run.URL())
}

func TestWriteFailingTests_Empty(t *testing.T) {
	var buf bytes.Buffer

	run := &store.Run{Repo: "acme/widgets", ID: "100", Branch: "main"}
	report.WriteFailingTests(&buf, run, nil)

	assert.Contains(t, buf.String(), "No failed tests")
}

func TestWriteFailingTests_TruncatesLongText(t *testing.T) {
	var buf bytes.Buffer

	run := &store.Run{Repo: "acme/widgets", ID: "100", Branch: "main"}
	text := strings.Repeat("x", 5000)

	report.WriteFailingTests(&buf, run, []store.FailingTest{
		{File: "suite.xml", Name: "test_bad", Runs: 1, Text: &text},
	})

	assert.NotContains(t, buf.String(), strings.Repeat("x", 200))
}

func TestWriteFlakyTests_Empty(t *testing.T) {
	var buf bytes.Buffer
	report.WriteFlakyTests(&buf, nil)
	assert.Contains(t, buf.String(), "No flaky tests")
}

func TestWriteSummary(t *testing.T) {
	var buf bytes.Buffer

	report.WriteSummary(&buf, &store.RepoSummary{
		Repo:          "acme/widgets",
		Artifacts:     3,
		Runs:          2,
		Results:       50,
		Failed:        4,
		FlakyTests:    1,
		LastSuiteTime: time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC),
	})

	out := buf.String()
	assert.Contains(t, out, "acme/widgets")
	assert.Contains(t, out, "2024-01-15T10:00:00Z")
}

func TestWriteSummary_NeverRun(t *testing.T) {
	var buf bytes.Buffer
	report.WriteSummary(&buf, &store.RepoSummary{Repo: "acme/widgets"})
	assert.Contains(t, buf.String(), "never")
}

func TestWriteResult(t *testing.T) {
	var buf bytes.Buffer

	report.WriteResult(&buf, &store.Result{
		Columns: []string{"name", "passed"},
		Rows: [][]any{
			{"t1", int64(1)},
			{"t2", nil},
		},
	})

	out := buf.String()
	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "t1")
	assert.Contains(t, out, "(2 rows)")
}
