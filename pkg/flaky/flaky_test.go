package flaky_test

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flakehound/pkg/config"
	"flakehound/pkg/flaky"
	"flakehound/pkg/store"
)

func setup(t *testing.T) (store.Store, logrus.FieldLogger) {
	t.Helper()

	cfg := &config.DatabaseConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteConfig{Path: ":memory:"},
	}

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	s := store.New(log, cfg)
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Stop() })

	return s, log
}

func failing(artifact, branch, classname, name string) store.TestResult {
	msg := "boom"

	return store.TestResult{
		Artifact:       artifact,
		Repo:           "acme/widgets",
		Branch:         branch,
		RunID:          "1",
		File:           "suite.xml",
		Suite:          "suite",
		SuiteTimestamp: time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC),
		Name:           name,
		Classname:      classname,
		Message:        &msg,
	}
}

func passing(artifact, branch, classname, name string) store.TestResult {
	r := failing(artifact, branch, classname, name)
	r.Passed = true
	r.Message = nil

	return r
}

func skipped(artifact, branch, classname, name string) store.TestResult {
	r := failing(artifact, branch, classname, name)
	r.Skipped = true

	return r
}

func flakyByName(t *testing.T, s store.Store) map[string]bool {
	t.Helper()

	rows, err := s.ListResults(context.Background(), "")
	require.NoError(t, err)

	out := make(map[string]bool)
	for _, r := range rows {
		if r.Flaky {
			out[r.Name] = true
		}
	}

	return out
}

func TestAnnotate_FailuresOnTwoBranches(t *testing.T) {
	s, log := setup(t)
	ctx := context.Background()

	require.NoError(t, s.InsertRows(ctx, []store.TestResult{
		failing("a.zip", "main", "A", "t1"),
		failing("b.zip", "feature", "A", "t1"),
		failing("a.zip", "main", "A", "t2"),
	}))

	marked, err := flaky.Annotate(ctx, log, s, "")
	require.NoError(t, err)
	assert.Equal(t, 1, marked)

	flakySet := flakyByName(t, s)
	assert.True(t, flakySet["t1"], "t1 failed on two branches")
	assert.False(t, flakySet["t2"], "t2 failed on one branch only")
}

func TestAnnotate_SingleBranchFailureIsNotFlaky(t *testing.T) {
	s, log := setup(t)
	ctx := context.Background()

	// Repeated failures on the same branch do not make a test flaky.
	require.NoError(t, s.InsertRows(ctx, []store.TestResult{
		failing("a.zip", "main", "A", "t1"),
		failing("b.zip", "main", "A", "t1"),
		failing("c.zip", "main", "A", "t1"),
	}))

	marked, err := flaky.Annotate(ctx, log, s, "")
	require.NoError(t, err)
	assert.Zero(t, marked)
	assert.Empty(t, flakyByName(t, s))
}

func TestAnnotate_PassedAndSkippedRowsDoNotCount(t *testing.T) {
	s, log := setup(t)
	ctx := context.Background()

	require.NoError(t, s.InsertRows(ctx, []store.TestResult{
		passing("a.zip", "main", "A", "t1"),
		passing("b.zip", "feature", "A", "t1"),
		skipped("c.zip", "main", "A", "t2"),
		skipped("d.zip", "feature", "A", "t2"),
	}))

	marked, err := flaky.Annotate(ctx, log, s, "")
	require.NoError(t, err)
	assert.Zero(t, marked)
	assert.Empty(t, flakyByName(t, s))
}

func TestAnnotate_MarksEveryRowOfTheKey(t *testing.T) {
	s, log := setup(t)
	ctx := context.Background()

	// The passing row on a third branch shares the (classname, name) key,
	// so it gets marked too once the failures span two branches.
	require.NoError(t, s.InsertRows(ctx, []store.TestResult{
		failing("a.zip", "main", "A", "t1"),
		failing("b.zip", "feature", "A", "t1"),
		passing("c.zip", "release", "A", "t1"),
	}))

	_, err := flaky.Annotate(ctx, log, s, "")
	require.NoError(t, err)

	rows, err := s.ListResults(ctx, "")
	require.NoError(t, err)
	require.Len(t, rows, 3)

	for _, r := range rows {
		assert.True(t, r.Flaky)
	}
}

func TestAnnotate_IsHistoryScoped(t *testing.T) {
	s, log := setup(t)
	ctx := context.Background()

	require.NoError(t, s.InsertRows(ctx, []store.TestResult{
		failing("a.zip", "main", "A", "t1"),
	}))

	marked, err := flaky.Annotate(ctx, log, s, "")
	require.NoError(t, err)
	assert.Zero(t, marked)

	// A later failure on a second branch flips the earlier row as well.
	require.NoError(t, s.InsertRows(ctx, []store.TestResult{
		failing("b.zip", "dev", "A", "t1"),
	}))

	marked, err = flaky.Annotate(ctx, log, s, "")
	require.NoError(t, err)
	assert.Equal(t, 1, marked)

	rows, err := s.ListResults(ctx, "")
	require.NoError(t, err)

	for _, r := range rows {
		assert.True(t, r.Flaky)
	}
}
