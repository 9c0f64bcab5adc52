// Package ingest turns "fetch new test data for these repos" into committed
// store rows: list remote artifacts, subtract what the store already holds,
// download the remainder concurrently, parse every contained XML document in
// a worker pool, enrich with PR metadata, and bulk-insert.
package ingest

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"strings"
	"sync"

	"flakehound/pkg/config"
	"flakehound/pkg/forge"
	"flakehound/pkg/junit"
	"flakehound/pkg/store"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Ingester orchestrates the fetch pipeline. It is the store's only
// insertion client; all downloads and parsing complete before the single
// insert step, so the store never sees concurrent writers.
type Ingester struct {
	log    logrus.FieldLogger
	cfg    *config.FetchConfig
	store  store.Store
	forge  *forge.Client
	parser *junit.Parser
}

// New creates an Ingester.
func New(
	log logrus.FieldLogger,
	cfg *config.FetchConfig,
	st store.Store,
	fc *forge.Client,
) *Ingester {
	return &Ingester{
		log:    log.WithField("component", "ingest"),
		cfg:    cfg,
		store:  st,
		forge:  fc,
		parser: junit.NewParser(log, cfg.MaxFailureText),
	}
}

// Fetch ingests all new artifacts for the given repos, optionally filtered
// to one branch, and returns the number of rows inserted. Nothing is
// committed unless every download and parse succeeds. A remote set with no
// new artifacts is a normal, silent outcome.
func (ing *Ingester) Fetch(
	ctx context.Context, repos []string, branch string,
) (int, error) {
	remote, err := ing.forge.ListArtifacts(
		ctx, repos, branch, ing.cfg.ArtifactGlobs)
	if err != nil {
		return 0, err
	}

	newArtifacts, err := ing.selectNew(ctx, remote)
	if err != nil {
		return 0, err
	}

	ing.log.WithFields(logrus.Fields{
		"repos":  repos,
		"branch": branch,
		"globs":  ing.cfg.ArtifactGlobs,
		"new":    len(newArtifacts),
	}).Info("Downloading new artifacts")

	if len(newArtifacts) == 0 {
		return 0, nil
	}

	rows, err := ing.downloadAndParse(ctx, newArtifacts)
	if err != nil {
		return 0, err
	}

	rows, err = ing.attachPRs(ctx, rows)
	if err != nil {
		return 0, err
	}

	if len(rows) == 0 {
		ing.log.Info("No test results found in new artifacts")
		return 0, nil
	}

	if err := ing.store.InsertRows(ctx, rows); err != nil {
		return 0, err
	}

	ing.log.WithField("rows", len(rows)).Info("Inserted test results")

	return len(rows), nil
}

// selectNew drops artifacts whose name is already present in the store.
// The dedup key is the bare artifact name: artifacts that contributed zero
// rows never appear in the store and are re-downloaded on every fetch, and
// two repos producing the same artifact name collide. Both behaviors are
// documented limitations of the name-keyed check.
func (ing *Ingester) selectNew(
	ctx context.Context, remote []forge.Artifact,
) ([]forge.Artifact, error) {
	names, err := ing.store.DistinctArtifactNames(ctx)
	if err != nil {
		return nil, err
	}

	existing := make(map[string]struct{}, len(names))
	for _, n := range names {
		existing[n] = struct{}{}
	}

	fresh := make([]forge.Artifact, 0, len(remote))

	for _, a := range remote {
		if _, ok := existing[a.Name]; !ok {
			fresh = append(fresh, a)
		}
	}

	return fresh, nil
}

// downloadAndParse streams completed downloads into a parse worker pool
// sized to the available processors. Downloads are network-bound and run
// in the forge client's bounded group; parsing is CPU-bound and fans out
// here. The first failure on either side cancels the rest.
func (ing *Ingester) downloadAndParse(
	ctx context.Context, artifacts []forge.Artifact,
) ([]store.TestResult, error) {
	dlCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	downloads, wait := ing.forge.DownloadAll(
		dlCtx, artifacts, ing.cfg.DownloadConcurrency)

	var (
		mu   sync.Mutex
		rows []store.TestResult
	)

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))

	for d := range downloads {
		d := d

		g.Go(func() error {
			select {
			case <-gCtx.Done():
				return gCtx.Err()
			default:
			}

			parsed, err := ing.parseArchive(d)
			if err != nil {
				// Abort outstanding downloads rather than letting them
				// finish into a pipeline that has already failed.
				cancel()
				return err
			}

			mu.Lock()
			rows = append(rows, parsed...)
			mu.Unlock()

			return nil
		})
	}

	dlErr := wait()
	parseErr := g.Wait()

	// A failure on one side cancels the other; prefer the originating
	// error over the cancellation it caused.
	switch {
	case parseErr != nil && !errors.Is(parseErr, context.Canceled):
		return nil, parseErr
	case dlErr != nil && !errors.Is(dlErr, context.Canceled):
		return nil, dlErr
	case parseErr != nil:
		return nil, parseErr
	case dlErr != nil:
		return nil, dlErr
	}

	return rows, nil
}

// parseArchive unpacks one zip artifact in memory and parses every entry
// with an .xml extension; other entries are ignored.
func (ing *Ingester) parseArchive(d forge.Downloaded) ([]store.TestResult, error) {
	zr, err := zip.NewReader(bytes.NewReader(d.Data), int64(len(d.Data)))
	if err != nil {
		return nil, fmt.Errorf("opening artifact %q: %w", d.Artifact.Name, err)
	}

	var rows []store.TestResult

	for _, f := range zr.File {
		if !strings.HasSuffix(f.Name, ".xml") {
			continue
		}

		data, err := readZipEntry(f)
		if err != nil {
			return nil, fmt.Errorf("reading %s from artifact %q: %w",
				f.Name, d.Artifact.Name, err)
		}

		parsed, err := ing.parser.Parse(f.Name, data, d.Artifact)
		if err != nil {
			return nil, err
		}

		rows = append(rows, parsed...)
	}

	return rows, nil
}

func readZipEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()

	return io.ReadAll(rc)
}

// attachPRs resolves the distinct (repo, branch) pairs seen among the
// parsed rows to open PRs, concurrently, and stamps PR number and title
// onto matching rows. A branch without an open PR is a non-fatal miss,
// logged only off the default branches; any other forge error is fatal.
func (ing *Ingester) attachPRs(
	ctx context.Context, rows []store.TestResult,
) ([]store.TestResult, error) {
	type repoBranch struct {
		repo   string
		branch string
	}

	seen := make(map[repoBranch]struct{})

	for _, r := range rows {
		seen[repoBranch{r.Repo, r.Branch}] = struct{}{}
	}

	var (
		mu  sync.Mutex
		prs = make(map[repoBranch]*forge.PR, len(seen))
	)

	g, gCtx := errgroup.WithContext(ctx)

	for rb := range seen {
		rb := rb

		g.Go(func() error {
			pr, err := ing.forge.PRForBranch(gCtx, rb.repo, rb.branch)
			if err != nil {
				if errors.Is(err, forge.ErrNoPR) {
					if rb.branch != "main" && rb.branch != "master" {
						ing.log.WithFields(logrus.Fields{
							"repo":   rb.repo,
							"branch": rb.branch,
						}).Warn("No PR found for branch")
					}

					return nil
				}

				return err
			}

			mu.Lock()
			prs[rb] = pr
			mu.Unlock()

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i := range rows {
		if pr := prs[repoBranch{rows[i].Repo, rows[i].Branch}]; pr != nil {
			rows[i].PR = pr.Number
			rows[i].PRTitle = pr.Title
		}
	}

	return rows, nil
}
