package store

import "time"

// TestResult is one test-case outcome within one suite within one CI run.
// The gorm model is the single source of truth for the schema: column order,
// types, and indexes are all derived from it.
type TestResult struct {
	ID uint `gorm:"primaryKey" json:"-"`

	// Artifact-level fields.
	Artifact string `gorm:"index:idx_test_artifact" json:"artifact"`
	Repo     string `gorm:"index" json:"repo"`
	Branch   string `json:"branch"`
	RunID    string `gorm:"column:run_id" json:"run_id"`
	SHA      string `gorm:"column:sha" json:"sha"`

	// PR association, attached opportunistically during ingestion. Zero
	// values mean no open PR was found for the branch.
	PR      int    `gorm:"column:pr" json:"pr"`
	PRTitle string `gorm:"column:pr_title" json:"pr_title"`

	// Suite-level fields.
	File           string    `json:"file"`
	Suite          string    `json:"suite"`
	SuiteTimestamp time.Time `json:"suite_timestamp"`
	SuiteDuration  float64   `json:"suite_duration"`

	// Test-level fields.
	Name      string  `json:"name"`
	Classname string  `json:"classname"`
	Duration  float64 `json:"duration"`
	Passed    bool    `json:"passed"`
	Skipped   bool    `json:"skipped"`

	// Flaky is always false at insertion time and is the only field
	// mutated after insertion (by the classifier).
	Flaky bool `json:"flaky"`

	Message *string `json:"message"`
	Text    *string `gorm:"type:text" json:"text"`
}

// TableName keeps the table addressable as "test" in ad hoc SQL, matching
// the query surface exposed by the sql and repl commands.
func (TestResult) TableName() string {
	return "test"
}

// TestKey identifies a test across runs. Cross-run test identity is
// reconciled on (classname, name) only.
type TestKey struct {
	Classname string
	Name      string
}

// Run is the most recent CI run recorded for a (repo, branch), derived from
// suite timestamps rather than stored directly.
type Run struct {
	Repo   string    `json:"repo"`
	ID     string    `json:"id"`
	Branch string    `json:"branch"`
	Time   time.Time `json:"time"`
}

// URL returns the forge page for the run.
func (r Run) URL() string {
	return "https://github.com/" + r.Repo + "/actions/runs/" + r.ID
}

// FailingTest is one aggregated failing test within a run, grouped across
// repeated occurrences (retries, parametrized cases).
type FailingTest struct {
	File        string  `json:"file"`
	Name        string  `json:"name"`
	Flaky       bool    `json:"flaky"`
	Runs        int     `json:"runs"`
	MaxDuration float64 `json:"max_duration"`
	Text        *string `json:"text"`
}

// FlakyTest is one (classname, name) pair annotated as flaky.
type FlakyTest struct {
	Repo      string `json:"repo"`
	Classname string `json:"classname"`
	Name      string `json:"name"`
}

// RepoSummary aggregates the accumulated history for one repository.
type RepoSummary struct {
	Repo          string    `json:"repo"`
	Artifacts     int       `json:"artifacts"`
	Runs          int       `json:"runs"`
	Results       int       `json:"results"`
	Failed        int       `json:"failed"`
	FlakyTests    int       `json:"flaky_tests"`
	LastSuiteTime time.Time `json:"last_suite_time"`
}
