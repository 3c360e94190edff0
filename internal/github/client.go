// Package github talks to the GitHub API on behalf of the review pipeline:
// it extracts pull request diffs and publishes aggregated review comments.
package github

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/go-github/v59/github"
	"golang.org/x/oauth2"

	"github.com/hollowlog/pragent/internal/config"
	"github.com/hollowlog/pragent/internal/fault"
)

const defaultAPIURL = "https://api.github.com"

// listFilesPerPage is the page size used when listing changed files.
// GitHub caps pull request file listings at 3000 files.
const listFilesPerPage = 100

// Client wraps the GitHub API client with retrying, error classification
// and enterprise base URL support.
type Client struct {
	gh         *github.Client
	maxRetries int
}

// NewClient creates a new GitHub API client from config.
func NewClient(cfg config.GitHubConfig) *Client {
	ts := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: cfg.Token},
	)

	timeout := cfg.RequestTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	tc := oauth2.NewClient(context.Background(), ts)
	tc.Timeout = timeout

	var gh *github.Client
	if cfg.APIURL != "" && cfg.APIURL != defaultAPIURL {
		var err error
		gh, err = github.NewEnterpriseClient(cfg.APIURL, cfg.APIURL, tc)
		if err != nil {
			gh = github.NewClient(tc)
		}
	} else {
		gh = github.NewClient(tc)
	}

	return &Client{
		gh:         gh,
		maxRetries: cfg.MaxRetries,
	}
}

// GetPullRequest fetches a pull request by number.
func (c *Client) GetPullRequest(ctx context.Context, owner, repo string, number int) (*github.PullRequest, error) {
	var pr *github.PullRequest
	err := c.retry(ctx, "github.pull_request", func() error {
		var resp *github.Response
		var err error
		pr, resp, err = c.gh.PullRequests.Get(ctx, owner, repo, number)
		return classify("github.pull_request", resp, err)
	})
	if err != nil {
		return nil, err
	}
	return pr, nil
}

// ListPullRequestFiles returns all changed files of a pull request, in the
// order GitHub reports them, following pagination to the end.
func (c *Client) ListPullRequestFiles(ctx context.Context, owner, repo string, number int) ([]*github.CommitFile, error) {
	var all []*github.CommitFile
	opts := &github.ListOptions{PerPage: listFilesPerPage}

	for {
		var page []*github.CommitFile
		var resp *github.Response
		err := c.retry(ctx, "github.list_files", func() error {
			var err error
			page, resp, err = c.gh.PullRequests.ListFiles(ctx, owner, repo, number, opts)
			return classify("github.list_files", resp, err)
		})
		if err != nil {
			return nil, err
		}

		all = append(all, page...)
		if resp == nil || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return all, nil
}

// CreateReviewComment posts a line-anchored review comment on the PR diff.
func (c *Client) CreateReviewComment(ctx context.Context, owner, repo string, number int, comment *github.PullRequestComment) error {
	return c.retry(ctx, "github.review_comment", func() error {
		_, resp, err := c.gh.PullRequests.CreateComment(ctx, owner, repo, number, comment)
		return classify("github.review_comment", resp, err)
	})
}

// CreateIssueComment posts a plain conversation comment on the PR.
func (c *Client) CreateIssueComment(ctx context.Context, owner, repo string, number int, body string) error {
	comment := &github.IssueComment{Body: github.String(body)}
	return c.retry(ctx, "github.issue_comment", func() error {
		_, resp, err := c.gh.Issues.CreateComment(ctx, owner, repo, number, comment)
		return classify("github.issue_comment", resp, err)
	})
}

// retry runs op with exponential backoff, capping attempts by the error
// kind's retry budget.
func (c *Client) retry(ctx context.Context, name string, op func() error) error {
	attempts := 0
	operation := func() error {
		attempts++
		if err := op(); err != nil {
			return c.capRetries(err, attempts)
		}
		return nil
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(c.maxRetries)), ctx)
	return backoff.Retry(operation, bo)
}

// capRetries marks the error permanent once its kind's retry budget is spent
func (c *Client) capRetries(err error, attempts int) error {
	if attempts-1 >= fault.RetryBudget(err, c.maxRetries) {
		return backoff.Permanent(err)
	}
	return err
}

// classify maps a GitHub API failure to a fault kind.
func classify(op string, resp *github.Response, err error) error {
	if err == nil {
		return nil
	}

	var rateErr *github.RateLimitError
	if errors.As(err, &rateErr) {
		return &fault.Error{
			Kind:       fault.RateLimited,
			Op:         op,
			Err:        err,
			RetryAfter: time.Until(rateErr.Rate.Reset.Time),
		}
	}
	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		e := &fault.Error{Kind: fault.RateLimited, Op: op, Err: err}
		if abuseErr.RetryAfter != nil {
			e.RetryAfter = *abuseErr.RetryAfter
		}
		return e
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return fault.Wrap(fault.Timeout, op, err)
	}

	if resp == nil {
		// Transport-level failure, no response at all.
		return fault.Wrap(fault.UpstreamUnavailable, op, err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fault.Wrap(fault.AuthError, op, err)
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return fault.Wrap(fault.NotFound, op, err)
	case resp.StatusCode == http.StatusTooManyRequests:
		return fault.Wrap(fault.RateLimited, op, err)
	case resp.StatusCode >= 500:
		return fault.Wrap(fault.UpstreamUnavailable, op, err)
	default:
		return fault.Wrap(fault.UpstreamError, op, err)
	}
}
