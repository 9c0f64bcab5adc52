package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"flakehound/pkg/config"

	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// insertBatchSize bounds the number of rows per INSERT statement. The whole
// InsertRows call still runs in a single transaction.
const insertBatchSize = 500

// ErrStoreBusy indicates the sqlite store file is held by another process.
// Single-writer-at-a-time is assumed, not enforced.
var ErrStoreBusy = errors.New(
	"store is locked by another process (a repl left open?)")

// QueryError indicates a query violated a shape expectation of its call
// site, e.g. QueryOne receiving zero or multiple rows.
type QueryError struct {
	SQL  string
	Rows int
}

func (e *QueryError) Error() string {
	if e.Rows == 0 {
		return fmt.Sprintf("query returned no results: %s", e.SQL)
	}

	return fmt.Sprintf("query did not return a single row (%d rows): %s",
		e.Rows, e.SQL)
}

// Result holds the outcome of an ad hoc query.
type Result struct {
	Columns []string
	Rows    [][]any
}

// Store provides persistence and the query surface for test results. The
// ingestion pipeline and the flaky classifier are its only writers.
type Store interface {
	Start(ctx context.Context) error
	Stop() error

	// InsertRows bulk-inserts rows as a single atomic unit.
	InsertRows(ctx context.Context, rows []TestResult) error

	// DistinctArtifactNames returns every artifact name present in the
	// store, used by the ingestion pipeline to skip known artifacts.
	DistinctArtifactNames(ctx context.Context) ([]string, error)

	// ListResults returns accumulated rows, optionally scoped to a repo
	// (empty repo means all rows).
	ListResults(ctx context.Context, repo string) ([]TestResult, error)

	// MarkFlaky sets flaky = true on every row matching each key.
	MarkFlaky(ctx context.Context, keys []TestKey) error

	// Query executes an arbitrary read query.
	Query(ctx context.Context, sql string) (*Result, error)

	// QueryOne executes a query expected to return exactly one row and
	// returns a *QueryError otherwise.
	QueryOne(ctx context.Context, sql string) ([]any, error)

	// LatestRun resolves the most recent run recorded for a branch,
	// derived from suite timestamps.
	LatestRun(ctx context.Context, repo, branch string) (*Run, error)

	// FailingTests aggregates the failing tests of one run.
	FailingTests(ctx context.Context, repo, runID string) ([]FailingTest, error)

	// FlakyTests lists distinct flaky (classname, name) pairs for a repo.
	FlakyTests(ctx context.Context, repo string) ([]FlakyTest, error)

	// Summary aggregates the accumulated history of one repo.
	Summary(ctx context.Context, repo string) (*RepoSummary, error)
}

// Compile-time interface check.
var _ Store = (*store)(nil)

type store struct {
	log logrus.FieldLogger
	cfg *config.DatabaseConfig
	db  *gorm.DB
}

// New creates a Store backed by the configured database driver.
func New(log logrus.FieldLogger, cfg *config.DatabaseConfig) Store {
	return &store{
		log: log.WithField("component", "store"),
		cfg: cfg,
	}
}

// Start opens the database connection and creates the schema. Schema
// creation is idempotent; an existing store is assumed compatible.
func (s *store) Start(ctx context.Context) error {
	var dialector gorm.Dialector

	gormCfg := &gorm.Config{
		Logger: logger.Discard,
	}

	switch s.cfg.Driver {
	case "sqlite":
		if p := s.cfg.SQLite.Path; p != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
				return fmt.Errorf("creating store directory: %w", err)
			}
		}

		dialector = sqlite.Open(s.cfg.SQLite.Path)
	case "postgres":
		dsn := fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			s.cfg.Postgres.Host,
			s.cfg.Postgres.Port,
			s.cfg.Postgres.User,
			s.cfg.Postgres.Password,
			s.cfg.Postgres.Database,
			s.cfg.Postgres.SSLMode,
		)
		dialector = postgres.Open(dsn)
	default:
		return fmt.Errorf("unsupported database driver: %s", s.cfg.Driver)
	}

	db, err := gorm.Open(dialector, gormCfg)
	if err != nil {
		return wrapBusy(fmt.Errorf("opening store: %w", err))
	}

	s.db = db

	if err := s.db.WithContext(ctx).AutoMigrate(&TestResult{}); err != nil {
		return wrapBusy(fmt.Errorf("creating schema: %w", err))
	}

	s.log.WithField("driver", s.cfg.Driver).Debug("Store opened")

	return nil
}

// Stop closes the underlying database connection.
func (s *store) Stop() error {
	if s.db == nil {
		return nil
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("getting underlying db: %w", err)
	}

	return sqlDB.Close()
}

// InsertRows bulk-inserts rows in one transaction. An empty batch is a
// no-op rather than an empty INSERT.
func (s *store) InsertRows(ctx context.Context, rows []TestResult) error {
	if len(rows) == 0 {
		return nil
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.CreateInBatches(rows, insertBatchSize).Error
	})
	if err != nil {
		return wrapBusy(fmt.Errorf("inserting %d rows: %w", len(rows), err))
	}

	s.log.WithField("rows", len(rows)).Debug("Inserted test results")

	return nil
}

func (s *store) DistinctArtifactNames(ctx context.Context) ([]string, error) {
	var names []string
	if err := s.db.WithContext(ctx).
		Model(&TestResult{}).
		Distinct("artifact").
		Pluck("artifact", &names).Error; err != nil {
		return nil, fmt.Errorf("listing artifact names: %w", err)
	}

	return names, nil
}

func (s *store) ListResults(
	ctx context.Context, repo string,
) ([]TestResult, error) {
	q := s.db.WithContext(ctx)
	if repo != "" {
		q = q.Where("repo = ?", repo)
	}

	var rows []TestResult
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("listing results: %w", err)
	}

	return rows, nil
}

// MarkFlaky flips the flaky flag for every row matching each key, in one
// transaction. This is the only mutation of previously inserted rows.
func (s *store) MarkFlaky(ctx context.Context, keys []TestKey) error {
	if len(keys) == 0 {
		return nil
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, k := range keys {
			if err := tx.Model(&TestResult{}).
				Where("classname = ? AND name = ?", k.Classname, k.Name).
				Update("flaky", true).Error; err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return wrapBusy(fmt.Errorf("marking %d keys flaky: %w", len(keys), err))
	}

	return nil
}

func (s *store) Query(ctx context.Context, sql string) (*Result, error) {
	rows, err := s.db.WithContext(ctx).Raw(sql).Rows()
	if err != nil {
		return nil, fmt.Errorf("executing query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("reading columns: %w", err)
	}

	res := &Result{Columns: cols}

	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))

		for i := range values {
			ptrs[i] = &values[i]
		}

		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}

		res.Rows = append(res.Rows, values)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}

	return res, nil
}

func (s *store) QueryOne(ctx context.Context, sql string) ([]any, error) {
	res, err := s.Query(ctx, sql)
	if err != nil {
		return nil, err
	}

	if len(res.Rows) != 1 {
		return nil, &QueryError{SQL: sql, Rows: len(res.Rows)}
	}

	return res.Rows[0], nil
}

func (s *store) LatestRun(
	ctx context.Context, repo, branch string,
) (*Run, error) {
	var row struct {
		RunID          string
		SuiteTimestamp time.Time
	}

	q := s.db.WithContext(ctx).
		Model(&TestResult{}).
		Select("run_id", "suite_timestamp").
		Where("repo = ? AND branch = ?", repo, branch).
		Order("suite_timestamp DESC").
		Limit(1).
		Find(&row)
	if q.Error != nil {
		return nil, fmt.Errorf("resolving latest run: %w", q.Error)
	}

	if q.RowsAffected == 0 {
		return nil, &QueryError{
			SQL: fmt.Sprintf(
				"latest run for repo %q branch %q", repo, branch),
		}
	}

	return &Run{
		Repo:   repo,
		ID:     row.RunID,
		Branch: branch,
		Time:   row.SuiteTimestamp,
	}, nil
}

func (s *store) FailingTests(
	ctx context.Context, repo, runID string,
) ([]FailingTest, error) {
	var tests []FailingTest
	if err := s.db.WithContext(ctx).
		Model(&TestResult{}).
		Select("file", "name", "flaky",
			"COUNT(*) AS runs",
			"MAX(duration) AS max_duration",
			"MAX(text) AS text").
		Where("passed = ? AND skipped = ? AND repo = ? AND run_id = ?",
			false, false, repo, runID).
		Group("file").Group("name").Group("flaky").
		Order("file").Order("flaky DESC").Order("max_duration DESC").
		Find(&tests).Error; err != nil {
		return nil, fmt.Errorf("listing failing tests: %w", err)
	}

	return tests, nil
}

func (s *store) FlakyTests(
	ctx context.Context, repo string,
) ([]FlakyTest, error) {
	q := s.db.WithContext(ctx).
		Model(&TestResult{}).
		Distinct("repo", "classname", "name").
		Where("flaky = ?", true)
	if repo != "" {
		q = q.Where("repo = ?", repo)
	}

	var tests []FlakyTest
	if err := q.Order("classname").Order("name").
		Find(&tests).Error; err != nil {
		return nil, fmt.Errorf("listing flaky tests: %w", err)
	}

	return tests, nil
}

func (s *store) Summary(
	ctx context.Context, repo string,
) (*RepoSummary, error) {
	var row struct {
		Artifacts  int
		Runs       int
		Results    int
		Failed     int
		FlakyTests int
	}

	if err := s.db.WithContext(ctx).
		Model(&TestResult{}).
		Select("COUNT(DISTINCT artifact) AS artifacts",
			"COUNT(DISTINCT run_id) AS runs",
			"COUNT(*) AS results",
			"COUNT(CASE WHEN passed = false AND skipped = false THEN 1 END) AS failed",
			"COUNT(DISTINCT CASE WHEN flaky = true THEN classname || '::' || name END) AS flaky_tests").
		Where("repo = ?", repo).
		Find(&row).Error; err != nil {
		return nil, fmt.Errorf("summarizing repo: %w", err)
	}

	summary := &RepoSummary{
		Repo:       repo,
		Artifacts:  row.Artifacts,
		Runs:       row.Runs,
		Results:    row.Results,
		Failed:     row.Failed,
		FlakyTests: row.FlakyTests,
	}

	if row.Results > 0 {
		var latest TestResult
		if err := s.db.WithContext(ctx).
			Where("repo = ?", repo).
			Order("suite_timestamp DESC").
			Limit(1).
			Find(&latest).Error; err != nil {
			return nil, fmt.Errorf("resolving last suite time: %w", err)
		}

		summary.LastSuiteTime = latest.SuiteTimestamp
	}

	return summary, nil
}

// wrapBusy maps the sqlite locked error onto ErrStoreBusy so the command
// layer can report it as a user-facing conflict rather than a stack trace.
func wrapBusy(err error) error {
	if err == nil {
		return nil
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database locked") {
		return fmt.Errorf("%w: %v", ErrStoreBusy, err)
	}

	return err
}
