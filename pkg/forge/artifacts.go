package forge

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strconv"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// listPageSize is the per_page value used when listing artifacts.
const listPageSize = 100

// Artifact is one remote CI artifact: a named zip bundle attached to a
// workflow run. It is ephemeral, discarded once its contents are parsed.
type Artifact struct {
	Repo   string
	Name   string
	ID     int64
	URL    string
	RunID  string
	Branch string
	Commit string
}

// Downloaded pairs an artifact with its raw zip payload.
type Downloaded struct {
	Artifact Artifact
	Data     []byte
}

type artifactListResponse struct {
	TotalCount int            `json:"total_count"`
	Artifacts  []artifactJSON `json:"artifacts"`
}

type artifactJSON struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	URL         string `json:"url"`
	Expired     bool   `json:"expired"`
	WorkflowRun struct {
		ID         int64  `json:"id"`
		HeadBranch string `json:"head_branch"`
		HeadSHA    string `json:"head_sha"`
	} `json:"workflow_run"`
}

// ListArtifacts lists remote artifacts for the given repos, one concurrent
// listing request per repo, merged without ordering guarantees and filtered
// by name globs (shell-glob semantics, case-sensitive) and, when branch is
// non-empty, exact branch equality. A single listing failure fails the
// whole call.
func (c *Client) ListArtifacts(
	ctx context.Context, repos []string, branch string, globs []string,
) ([]Artifact, error) {
	var (
		mu  sync.Mutex
		all []Artifact
	)

	g, gCtx := errgroup.WithContext(ctx)

	for _, repo := range repos {
		repo := repo

		g.Go(func() error {
			artifacts, err := c.listRepoArtifacts(gCtx, repo)
			if err != nil {
				return fmt.Errorf("listing artifacts for %s: %w", repo, err)
			}

			mu.Lock()
			all = append(all, artifacts...)
			mu.Unlock()

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	filtered := make([]Artifact, 0, len(all))

	for _, a := range all {
		if !matchesAny(a.Name, globs) {
			continue
		}

		if branch != "" && a.Branch != branch {
			continue
		}

		filtered = append(filtered, a)
	}

	c.log.WithFields(logrus.Fields{
		"repos":    repos,
		"remote":   len(all),
		"filtered": len(filtered),
	}).Debug("Listed remote artifacts")

	return filtered, nil
}

// listRepoArtifacts pages through the artifact listing of one repo.
func (c *Client) listRepoArtifacts(
	ctx context.Context, repo string,
) ([]Artifact, error) {
	var artifacts []Artifact

	for page := 1; ; page++ {
		body, err := c.get(ctx, fmt.Sprintf(
			"/repos/%s/actions/artifacts?per_page=%d&page=%d",
			repo, listPageSize, page))
		if err != nil {
			return nil, err
		}

		var resp artifactListResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, fmt.Errorf("decoding artifact list: %w", err)
		}

		for _, a := range resp.Artifacts {
			if a.Expired {
				continue
			}

			artifacts = append(artifacts, Artifact{
				Repo:   repo,
				Name:   a.Name,
				ID:     a.ID,
				URL:    a.URL,
				RunID:  strconv.FormatInt(a.WorkflowRun.ID, 10),
				Branch: a.WorkflowRun.HeadBranch,
				Commit: a.WorkflowRun.HeadSHA,
			})
		}

		if len(resp.Artifacts) < listPageSize {
			return artifacts, nil
		}
	}
}

// DownloadAll retrieves artifact zip payloads with bounded concurrency,
// delivering results on the returned channel as each download completes
// (not in submission order) so downstream parsing can start early. The
// channel is closed once all downloads finish or the first failure cancels
// the remaining ones; the returned wait function reports that first error
// and must be called after the channel is drained.
func (c *Client) DownloadAll(
	ctx context.Context, artifacts []Artifact, limit int,
) (<-chan Downloaded, func() error) {
	if limit <= 0 {
		limit = 1
	}

	out := make(chan Downloaded, limit)
	errc := make(chan error, 1)

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	go func() {
		for _, a := range artifacts {
			a := a

			g.Go(func() error {
				data, err := c.downloadZip(gCtx, a)
				if err != nil {
					return fmt.Errorf("downloading artifact %q from %s: %w",
						a.Name, a.Repo, err)
				}

				select {
				case out <- Downloaded{Artifact: a, Data: data}:
					return nil
				case <-gCtx.Done():
					return gCtx.Err()
				}
			})
		}

		errc <- g.Wait()
		close(out)
	}()

	return out, func() error { return <-errc }
}

func (c *Client) downloadZip(ctx context.Context, a Artifact) ([]byte, error) {
	c.log.WithFields(logrus.Fields{
		"artifact": a.Name,
		"repo":     a.Repo,
	}).Debug("Downloading zip artifact")

	return c.get(ctx, fmt.Sprintf(
		"/repos/%s/actions/artifacts/%d/zip", a.Repo, a.ID))
}

func matchesAny(name string, globs []string) bool {
	for _, g := range globs {
		// Pattern validity is checked at config load time.
		if ok, _ := path.Match(g, name); ok {
			return true
		}
	}

	return false
}
