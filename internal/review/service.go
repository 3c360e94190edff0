package review

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hollowlog/pragent/internal/config"
	"github.com/hollowlog/pragent/internal/extractor"
	"github.com/hollowlog/pragent/internal/fault"
	"github.com/hollowlog/pragent/internal/llm"
	"github.com/hollowlog/pragent/internal/loggy"
	"github.com/hollowlog/pragent/internal/ulid"
)

// DiffExtractor fetches the changed files of a pull request, in the order
// the hosting platform reports them.
type DiffExtractor interface {
	ExtractDiffs(ctx context.Context, event WebhookEvent) ([]FileDiff, error)
}

// CommentPublisher posts aggregated findings back to the pull request.
type CommentPublisher interface {
	// PublishComment posts one line-anchored review comment
	PublishComment(ctx context.Context, event WebhookEvent, comment ReviewComment) error

	// PublishFailureNotice posts a short notice when a run produced no
	// comments at all
	PublishFailureNotice(ctx context.Context, event WebhookEvent, result *Result) error
}

// Service orchestrates review runs. Files are analyzed concurrently up to
// the configured limit; chunks within a file are always sequential. A file
// contributes comments only if every one of its chunks succeeds.
type Service struct {
	diffs     DiffExtractor
	llmClient llm.Client
	publisher CommentPublisher
	prompts   *PromptBuilder
	output    *extractor.JSONExtractor
	config    *config.Config
	logger    *loggy.Logger
}

// NewService creates a new review service
func NewService(
	diffs DiffExtractor,
	llmClient llm.Client,
	publisher CommentPublisher,
	cfg *config.Config,
	logger *loggy.Logger,
) *Service {
	return &Service{
		diffs:     diffs,
		llmClient: llmClient,
		publisher: publisher,
		prompts:   NewPromptBuilder(cfg.Review),
		output:    extractor.NewJSONExtractor(logger),
		config:    cfg,
		logger:    logger,
	}
}

// Run executes one review run for a validated webhook event and returns
// its terminal result. A non-nil error is returned only for run-level
// failures (diff extraction); per-file failures are recorded in the
// result instead.
func (s *Service) Run(ctx context.Context, event WebhookEvent) (*Result, error) {
	result := NewResult(event, s.llmClient.Provider())

	log := s.logger.With(
		"run_id", result.RunID,
		"repo", result.Repo,
		"pr", result.PRNumber,
	)
	log.Info("starting review run", "provider", result.Provider, "head_sha", event.HeadSHA)

	files, err := s.diffs.ExtractDiffs(ctx, event)
	if err != nil {
		result.Status = StatusFailed
		result.Error = err.Error()
		result.CompletedAt = time.Now()
		log.Error("diff extraction failed", "error", err, "kind", fault.KindOf(err))
		s.notifyFailure(ctx, event, result)
		return result, err
	}

	var reviewable []FileDiff
	for _, f := range files {
		if f.Reviewable() {
			reviewable = append(reviewable, f)
		} else {
			result.Skipped = append(result.Skipped, f.Path)
		}
	}
	log.Info("extracted diffs",
		"files", len(files),
		"reviewable", len(reviewable),
		"skipped", len(result.Skipped),
	)

	outcomes := s.analyzeFiles(ctx, event, reviewable)

	// Publication happens after analysis, in extraction order, so comment
	// ordering on the PR is stable regardless of which file finished first.
	for _, oc := range outcomes {
		if oc.Comment == nil {
			result.FailedFiles = append(result.FailedFiles, *oc.Failure)
			continue
		}
		if err := s.publisher.PublishComment(ctx, event, *oc.Comment); err != nil {
			log.Warn("publishing comment failed",
				"file", oc.Path,
				"error", err,
				"kind", fault.KindOf(err),
			)
			result.FailedFiles = append(result.FailedFiles, FileFailure{
				Path:   oc.Path,
				Kind:   fault.KindOf(err),
				Reason: fmt.Sprintf("publishing comment: %s", err),
			})
			continue
		}
		result.Comments = append(result.Comments, *oc.Comment)
	}

	switch {
	case len(result.FailedFiles) == 0:
		result.Status = StatusSuccess
	case len(result.Comments) > 0:
		result.Status = StatusPartial
	default:
		result.Status = StatusFailed
		s.notifyFailure(ctx, event, result)
	}
	result.CompletedAt = time.Now()

	log.Info("review run completed",
		"status", result.Status,
		"comments", len(result.Comments),
		"failed_files", len(result.FailedFiles),
		"duration_ms", result.CompletedAt.Sub(result.StartedAt).Milliseconds(),
	)
	return result, nil
}

// analyzeFiles runs per-file analysis with bounded concurrency and returns
// one outcome per reviewable file, index-aligned with the input.
func (s *Service) analyzeFiles(ctx context.Context, event WebhookEvent, files []FileDiff) []fileOutcome {
	outcomes := make([]fileOutcome, len(files))

	g, gctx := errgroup.WithContext(ctx)
	limit := s.config.Review.MaxConcurrentFiles
	if limit <= 0 {
		limit = 1
	}
	g.SetLimit(limit)

	for i, file := range files {
		i, file := i, file
		g.Go(func() error {
			comment, failure := s.reviewFile(gctx, event, file)
			outcomes[i] = fileOutcome{Path: file.Path, Comment: comment, Failure: failure}
			return nil
		})
	}
	// Workers never return errors; failures live in the outcomes.
	_ = g.Wait()

	return outcomes
}

// reviewFile analyzes one file chunk by chunk. The first failed chunk
// fails the whole file; partial per-file findings are never published.
func (s *Service) reviewFile(ctx context.Context, event WebhookEvent, file FileDiff) (*ReviewComment, *FileFailure) {
	system, err := s.prompts.SystemInstruction(file)
	if err != nil {
		return nil, &FileFailure{Path: file.Path, Kind: fault.Unknown, Reason: err.Error()}
	}

	chunks := s.prompts.BuildChunks(file)
	outputs := make([]*extractor.ReviewOutput, 0, len(chunks))

	for _, chunk := range chunks {
		prompt, err := s.prompts.ChunkPrompt(file, chunk)
		if err != nil {
			return nil, &FileFailure{Path: file.Path, Kind: fault.Unknown, Reason: err.Error()}
		}

		resp, err := s.llmClient.Submit(ctx, llm.ProviderRequest{
			System: system,
			Prompt: prompt,
		})
		if err != nil {
			return nil, &FileFailure{
				Path:   file.Path,
				Kind:   fault.KindOf(err),
				Reason: fmt.Sprintf("chunk %d/%d: %s", chunk.Index, chunk.Total, err),
			}
		}
		if resp.FinishReason == llm.FinishError {
			return nil, &FileFailure{
				Path:   file.Path,
				Kind:   fault.UpstreamError,
				Reason: fmt.Sprintf("chunk %d/%d: provider reported abnormal stop", chunk.Index, chunk.Total),
			}
		}
		if resp.FinishReason == llm.FinishTruncated {
			s.logger.Warn("provider output truncated",
				"file", file.Path,
				"chunk", chunk.Index,
				"chunks", chunk.Total,
			)
		}

		out, err := s.output.ExtractReviewOutput(resp.Text)
		if err != nil {
			return nil, &FileFailure{
				Path:   file.Path,
				Kind:   fault.UpstreamError,
				Reason: fmt.Sprintf("chunk %d/%d: unparseable provider output: %s", chunk.Index, chunk.Total, err),
			}
		}
		outputs = append(outputs, out)
	}

	comment := buildComment(file, outputs)
	return &comment, nil
}

func (s *Service) notifyFailure(ctx context.Context, event WebhookEvent, result *Result) {
	if !s.config.GitHub.FailureNotice {
		return
	}
	if err := s.publisher.PublishFailureNotice(ctx, event, result); err != nil {
		s.logger.Warn("posting failure notice failed", "run_id", result.RunID, "error", err)
	}
}

// buildComment aggregates a file's chunk outputs into the single comment
// published for it. Issues keep chunk order, then output order.
func buildComment(file FileDiff, outputs []*extractor.ReviewOutput) ReviewComment {
	var issues []extractor.Issue
	var summaries []string
	var assessment string
	for _, out := range outputs {
		issues = append(issues, out.Issues...)
		if sum := strings.TrimSpace(out.Summary); sum != "" && sum != "No issues found" {
			summaries = append(summaries, sum)
		}
		if a := strings.TrimSpace(out.OverallAssessment); a != "" {
			assessment = a
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "**Automated review of `%s`**\n\n", file.Path)

	if len(issues) == 0 {
		b.WriteString("No issues found.")
		if assessment != "" {
			b.WriteString(" ")
			b.WriteString(assessment)
		}
		return ReviewComment{
			ID:       ulid.CommentID(),
			FilePath: file.Path,
			Line:     1,
			Body:     b.String(),
		}
	}

	if len(summaries) > 0 {
		b.WriteString(strings.Join(summaries, " "))
		b.WriteString("\n\n")
	}

	for i, issue := range issues {
		fmt.Fprintf(&b, "%d. **[%s] %s**", i+1, issue.Severity, issue.Title)
		if issue.LineStart > 0 {
			if issue.LineEnd > issue.LineStart {
				fmt.Fprintf(&b, " (lines %d-%d)", issue.LineStart, issue.LineEnd)
			} else {
				fmt.Fprintf(&b, " (line %d)", issue.LineStart)
			}
		}
		b.WriteString("\n")
		if desc := strings.TrimSpace(issue.Description); desc != "" {
			fmt.Fprintf(&b, "   %s\n", desc)
		}
		if sug := strings.TrimSpace(issue.Suggestion); sug != "" {
			fmt.Fprintf(&b, "   _Suggestion:_ %s\n", sug)
		}
	}

	if assessment != "" {
		fmt.Fprintf(&b, "\n%s", assessment)
	}

	anchor := 1
	if issues[0].LineStart > 0 {
		anchor = issues[0].LineStart
	}

	return ReviewComment{
		ID:       ulid.CommentID(),
		FilePath: file.Path,
		Line:     anchor,
		Body:     strings.TrimRight(b.String(), "\n"),
	}
}
