package forge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ErrNoPR indicates no open PR exists for a branch. Callers resolving PR
// metadata opportunistically treat this as a non-fatal miss.
var ErrNoPR = errors.New("no pull request found for branch")

// ErrNoRuns indicates a branch has no recorded workflow runs.
var ErrNoRuns = errors.New("no workflow runs found for branch")

// ErrCannotRerun indicates the forge refused to rerun a run's failed jobs,
// typically because the run has not finished.
var ErrCannotRerun = errors.New("run cannot be rerun")

// PR is an open pull request associated with a branch.
type PR struct {
	Repo   string `json:"repo"`
	Number int    `json:"number"`
	Title  string `json:"title"`
	Branch string `json:"branch"`
	URL    string `json:"url"`
}

// WorkflowRun is one execution of a CI workflow.
type WorkflowRun struct {
	Repo      string    `json:"repo"`
	ID        string    `json:"id"`
	Branch    string    `json:"branch"`
	HeadSHA   string    `json:"head_sha"`
	CreatedAt time.Time `json:"created_at"`
}

type pullJSON struct {
	Number  int    `json:"number"`
	Title   string `json:"title"`
	HTMLURL string `json:"html_url"`
	Head    struct {
		Ref string `json:"ref"`
	} `json:"head"`
}

type runListResponse struct {
	TotalCount   int `json:"total_count"`
	WorkflowRuns []struct {
		ID         int64     `json:"id"`
		HeadBranch string    `json:"head_branch"`
		HeadSHA    string    `json:"head_sha"`
		CreatedAt  time.Time `json:"created_at"`
	} `json:"workflow_runs"`
}

// PRForBranch resolves the open PR whose head is the given branch,
// returning ErrNoPR when there is none.
func (c *Client) PRForBranch(ctx context.Context, repo, branch string) (*PR, error) {
	owner, _, ok := strings.Cut(repo, "/")
	if !ok {
		return nil, fmt.Errorf("invalid repo %q: want owner/name", repo)
	}

	body, err := c.get(ctx, fmt.Sprintf(
		"/repos/%s/pulls?state=open&head=%s",
		repo, url.QueryEscape(owner+":"+branch)))
	if err != nil {
		return nil, err
	}

	var pulls []pullJSON
	if err := json.Unmarshal(body, &pulls); err != nil {
		return nil, fmt.Errorf("decoding pull requests: %w", err)
	}

	if len(pulls) == 0 {
		return nil, fmt.Errorf("%w: %s:%s", ErrNoPR, repo, branch)
	}

	p := pulls[0]

	return &PR{
		Repo:   repo,
		Number: p.Number,
		Title:  p.Title,
		Branch: p.Head.Ref,
		URL:    p.HTMLURL,
	}, nil
}

// LatestRun returns the most recent workflow run for a branch.
func (c *Client) LatestRun(
	ctx context.Context, repo, branch string,
) (*WorkflowRun, error) {
	body, err := c.get(ctx, fmt.Sprintf(
		"/repos/%s/actions/runs?branch=%s&per_page=1",
		repo, url.QueryEscape(branch)))
	if err != nil {
		return nil, err
	}

	var resp runListResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decoding workflow runs: %w", err)
	}

	if len(resp.WorkflowRuns) == 0 {
		return nil, fmt.Errorf("%w: %s:%s", ErrNoRuns, repo, branch)
	}

	run := resp.WorkflowRuns[0]

	return &WorkflowRun{
		Repo:      repo,
		ID:        strconv.FormatInt(run.ID, 10),
		Branch:    run.HeadBranch,
		HeadSHA:   run.HeadSHA,
		CreatedAt: run.CreatedAt,
	}, nil
}

// RerunFailedJobs asks the forge to rerun the failed jobs of a run. A
// forge refusal (e.g. the run has not finished) surfaces as ErrCannotRerun.
func (c *Client) RerunFailedJobs(ctx context.Context, repo, runID string) error {
	_, err := c.post(ctx, fmt.Sprintf(
		"/repos/%s/actions/runs/%s/rerun-failed-jobs", repo, runID))
	if err != nil {
		var se *statusError
		if errors.As(err, &se) &&
			(se.Status == http.StatusForbidden ||
				se.Status == http.StatusConflict) {
			return fmt.Errorf("%w: run %s in %s (is it still in progress?)",
				ErrCannotRerun, runID, repo)
		}

		return err
	}

	c.log.WithField("run_id", runID).Info("Requested rerun of failed jobs")

	return nil
}
