package github

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-enry/go-enry/v2"
	"github.com/google/go-github/v59/github"

	"github.com/hollowlog/pragent/internal/config"
	"github.com/hollowlog/pragent/internal/loggy"
	"github.com/hollowlog/pragent/internal/review"
)

// Service adapts the GitHub API to the review pipeline: it implements
// diff extraction and comment publication for review runs.
type Service struct {
	client *Client
	config *config.GitHubConfig
	logger *loggy.Logger
}

// NewService creates a new GitHub service
func NewService(client *Client, cfg *config.Config, logger *loggy.Logger) *Service {
	return &Service{
		client: client,
		config: &cfg.GitHub,
		logger: logger,
	}
}

// ExtractDiffs fetches the changed files of the event's pull request and
// maps them to review file diffs, preserving GitHub's reporting order.
// Vendored paths keep their place in the list but carry no patch, so the
// pipeline records them as skipped rather than reviewing them.
func (s *Service) ExtractDiffs(ctx context.Context, event review.WebhookEvent) ([]review.FileDiff, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.RequestTimeout)
	defer cancel()

	files, err := s.client.ListPullRequestFiles(ctx, event.RepoOwner, event.RepoName, event.PRNumber)
	if err != nil {
		return nil, fmt.Errorf("listing pull request files: %w", err)
	}

	diffs := make([]review.FileDiff, 0, len(files))
	for _, f := range files {
		diff := review.FileDiff{
			Path:         f.GetFilename(),
			PreviousPath: f.GetPreviousFilename(),
			Kind:         changeKind(f.GetStatus()),
			Patch:        f.GetPatch(),
			Additions:    f.GetAdditions(),
			Deletions:    f.GetDeletions(),
		}

		if diff.Patch != "" && enry.IsVendor(diff.Path) {
			s.logger.Debug("skipping vendored file", "file", diff.Path)
			diff.Patch = ""
		}

		diffs = append(diffs, diff)
	}

	return diffs, nil
}

// PublishComment posts one aggregated review comment, anchored to the
// pull request's current head commit. When line anchoring is rejected and
// fallback commenting is enabled, the body is reposted as a plain
// conversation comment so the findings are not lost.
func (s *Service) PublishComment(ctx context.Context, event review.WebhookEvent, comment review.ReviewComment) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.PublishTimeout)
	defer cancel()

	commitSHA, err := s.headSHA(ctx, event)
	if err != nil {
		return err
	}

	prComment := &github.PullRequestComment{
		Path:     github.String(comment.FilePath),
		CommitID: github.String(commitSHA),
		Body:     github.String(comment.Body),
		Side:     github.String("RIGHT"),
	}
	if comment.Line > 0 {
		prComment.Line = github.Int(comment.Line)
	}

	err = s.client.CreateReviewComment(ctx, event.RepoOwner, event.RepoName, event.PRNumber, prComment)
	if err == nil {
		s.logger.Info("published review comment",
			"repo", event.RepoFullName(),
			"pr", event.PRNumber,
			"file", comment.FilePath,
			"line", comment.Line,
		)
		return nil
	}

	if !s.config.FallbackComment {
		return err
	}

	s.logger.Warn("review comment rejected, falling back to issue comment",
		"repo", event.RepoFullName(),
		"pr", event.PRNumber,
		"file", comment.FilePath,
		"error", err,
	)

	body := fmt.Sprintf("Review finding for `%s` (line %d):\n\n%s", comment.FilePath, comment.Line, comment.Body)
	if fbErr := s.client.CreateIssueComment(ctx, event.RepoOwner, event.RepoName, event.PRNumber, body); fbErr != nil {
		return fmt.Errorf("posting fallback comment: %w", fbErr)
	}
	return nil
}

// PublishFailureNotice posts a short conversation comment when a run
// produced no review comments at all.
func (s *Service) PublishFailureNotice(ctx context.Context, event review.WebhookEvent, result *review.Result) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.PublishTimeout)
	defer cancel()

	var b strings.Builder
	fmt.Fprintf(&b, "Automated review `%s` could not complete for this pull request.\n", result.RunID)
	if result.Error != "" {
		fmt.Fprintf(&b, "\n%s\n", result.Error)
	}
	if len(result.FailedFiles) > 0 {
		b.WriteString("\nFiles that could not be reviewed:\n")
		for _, f := range result.FailedFiles {
			fmt.Fprintf(&b, "- `%s`: %s\n", f.Path, f.Reason)
		}
	}

	return s.client.CreateIssueComment(ctx, event.RepoOwner, event.RepoName, event.PRNumber, b.String())
}

// headSHA resolves the commit to anchor comments to. The PR is re-read so
// comments land on the current head even when the branch moved after the
// webhook fired; the event's head is the fallback when the read fails.
func (s *Service) headSHA(ctx context.Context, event review.WebhookEvent) (string, error) {
	pr, err := s.client.GetPullRequest(ctx, event.RepoOwner, event.RepoName, event.PRNumber)
	if err == nil {
		if sha := pr.GetHead().GetSHA(); sha != "" {
			return sha, nil
		}
		err = fmt.Errorf("pull request #%d has no head commit", event.PRNumber)
	}
	if event.HeadSHA != "" {
		s.logger.Warn("reading pull request head failed, using event head",
			"repo", event.RepoFullName(),
			"pr", event.PRNumber,
			"error", err,
		)
		return event.HeadSHA, nil
	}
	return "", fmt.Errorf("resolving head commit for PR #%d: %w", event.PRNumber, err)
}

// changeKind maps GitHub file statuses onto the pipeline's change kinds.
func changeKind(status string) review.ChangeKind {
	switch status {
	case "added", "copied":
		return review.ChangeAdded
	case "removed":
		return review.ChangeRemoved
	case "renamed":
		return review.ChangeRenamed
	default:
		// "modified", "changed", "unchanged" and anything new GitHub adds
		return review.ChangeModified
	}
}
