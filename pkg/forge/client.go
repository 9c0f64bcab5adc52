// Package forge is the GitHub collaborator layer: artifact listing and
// download, PR and workflow-run lookup, and rerun requests. Retry policy
// for transient API failures lives here, not in the ingestion core.
package forge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"flakehound/pkg/config"

	"github.com/avast/retry-go/v4"
	"github.com/hashicorp/go-cleanhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	requestTimeout = 60 * time.Second
	retryAttempts  = 3
)

// ErrNoToken indicates no API token is available. This is a configuration
// error, reported to the user immediately, never retried.
var ErrNoToken = errors.New(
	"no GitHub token found: set GITHUB_TOKEN or forge.token in the config")

// statusError is returned for non-2xx API responses.
type statusError struct {
	Status int
	URL    string
	Body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("github api returned status %d for %s", e.Status, e.URL)
}

// retryable reports whether a request should be retried. Server-side
// errors and rate limiting are transient; everything else is not.
func retryable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.Status >= 500 || se.Status == http.StatusTooManyRequests
	}

	// Network-level failures (connection reset, timeout) arrive as
	// url.Error values.
	return true
}

// Client is a rate-limited, retrying GitHub REST API client.
type Client struct {
	log     logrus.FieldLogger
	httpc   *http.Client
	baseURL string
	token   string
	limiter *rate.Limiter
}

// NewClient creates a Client from the forge configuration. A missing token
// yields ErrNoToken.
func NewClient(log logrus.FieldLogger, cfg *config.ForgeConfig) (*Client, error) {
	token := cfg.Token
	if token == "" {
		token = os.Getenv("GITHUB_TOKEN")
	}

	if token == "" {
		return nil, ErrNoToken
	}

	httpc := cleanhttp.DefaultPooledClient()
	httpc.Timeout = requestTimeout

	rps := rate.Limit(float64(cfg.RequestsPerMinute) / 60.0)

	return &Client{
		log:     log.WithField("component", "forge"),
		httpc:   httpc,
		baseURL: cfg.APIURL,
		token:   token,
		limiter: rate.NewLimiter(rps, cfg.RequestsPerMinute/10+1),
	}, nil
}

// get performs one rate-limited GET against the API, retrying transient
// failures, and returns the response body.
func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	return c.do(ctx, http.MethodGet, path)
}

// post performs a POST with an empty body, for fire-and-forget mutations.
func (c *Client) post(ctx context.Context, path string) ([]byte, error) {
	return c.do(ctx, http.MethodPost, path)
}

func (c *Client) do(ctx context.Context, method, path string) ([]byte, error) {
	url := c.baseURL + path

	body, err := retry.DoWithData(
		func() ([]byte, error) {
			return c.doOnce(ctx, method, url)
		},
		retry.Context(ctx),
		retry.Attempts(retryAttempts),
		retry.RetryIf(retryable),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			c.log.WithError(err).WithFields(logrus.Fields{
				"url":     url,
				"attempt": n + 1,
			}).Debug("Retrying forge request")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("requesting %s: %w", url, err)
	}

	return body, nil
}

func (c *Client) doOnce(ctx context.Context, method, url string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, retry.Unrecoverable(err)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, retry.Unrecoverable(fmt.Errorf("creating request: %w", err))
	}

	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &statusError{
			Status: resp.StatusCode,
			URL:    url,
			Body:   string(body),
		}
	}

	return body, nil
}
