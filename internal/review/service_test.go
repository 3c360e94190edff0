package review

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hollowlog/pragent/internal/config"
	"github.com/hollowlog/pragent/internal/fault"
	"github.com/hollowlog/pragent/internal/llm"
	"github.com/hollowlog/pragent/internal/loggy"
)

type stubExtractor struct {
	files []FileDiff
	err   error
}

func (s *stubExtractor) ExtractDiffs(ctx context.Context, event WebhookEvent) ([]FileDiff, error) {
	return s.files, s.err
}

type stubGateway struct {
	mu     sync.Mutex
	calls  int
	submit func(req llm.ProviderRequest) (*llm.ProviderResponse, error)
}

func (s *stubGateway) Submit(ctx context.Context, req llm.ProviderRequest) (*llm.ProviderResponse, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return s.submit(req)
}

func (s *stubGateway) Provider() string { return "stub" }

func (s *stubGateway) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type stubPublisher struct {
	mu        sync.Mutex
	published []ReviewComment
	notices   int
	failPaths map[string]error
}

func (s *stubPublisher) PublishComment(ctx context.Context, event WebhookEvent, comment ReviewComment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err, ok := s.failPaths[comment.FilePath]; ok {
		return err
	}
	s.published = append(s.published, comment)
	return nil
}

func (s *stubPublisher) PublishFailureNotice(ctx context.Context, event WebhookEvent, result *Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notices++
	return nil
}

func testEvent() WebhookEvent {
	return WebhookEvent{
		DeliveryID: "delivery-1",
		Event:      "pull_request",
		Action:     "opened",
		RepoOwner:  "hollowlog",
		RepoName:   "pragent",
		PRNumber:   42,
		HeadSHA:    "abc123",
		ReceivedAt: time.Now(),
	}
}

func testReviewConfig() *config.Config {
	return &config.Config{
		Review: config.ReviewConfig{
			InputTokenBudget:   8000,
			OverlapLines:       5,
			MaxConcurrentFiles: 2,
		},
		GitHub: config.GitHubConfig{FailureNotice: true},
	}
}

func issueJSON(title string, line int) string {
	return fmt.Sprintf(`{
		"summary": "Found a problem",
		"issues": [{
			"type": "bug",
			"severity": "high",
			"title": %q,
			"description": "Something is off",
			"line_start": %d,
			"line_end": %d,
			"suggestion": "Fix it"
		}],
		"overall_assessment": "Needs work"
	}`, title, line, line+2)
}

const cleanJSON = `{"summary": "No issues found", "issues": [], "overall_assessment": "Code is well-written"}`

func newTestService(ext *stubExtractor, gw *stubGateway, pub *stubPublisher, cfg *config.Config) *Service {
	return NewService(ext, gw, pub, cfg, loggy.NewNoopLogger())
}

func TestRunSuccess(t *testing.T) {
	ext := &stubExtractor{files: []FileDiff{
		{Path: "a.go", Kind: ChangeModified, Patch: "+x := 1"},
		{Path: "img.png", Kind: ChangeAdded}, // no patch, skipped
		{Path: "b.go", Kind: ChangeAdded, Patch: "+y := 2"},
		{Path: "gone.go", Kind: ChangeRemoved, Patch: "-z := 3"},
	}}
	gw := &stubGateway{submit: func(req llm.ProviderRequest) (*llm.ProviderResponse, error) {
		return &llm.ProviderResponse{Text: issueJSON("Bug", 3), FinishReason: llm.FinishComplete}, nil
	}}
	pub := &stubPublisher{}

	result, err := newTestService(ext, gw, pub, testReviewConfig()).Run(context.Background(), testEvent())
	require.NoError(t, err)

	assert.Equal(t, StatusSuccess, result.Status)
	assert.True(t, strings.HasPrefix(result.RunID, "run-"))
	assert.Equal(t, "hollowlog/pragent", result.Repo)
	assert.Equal(t, "stub", result.Provider)
	assert.ElementsMatch(t, []string{"img.png", "gone.go"}, result.Skipped)
	assert.Empty(t, result.FailedFiles)

	// Comments come back in extraction order regardless of which file
	// finished analysis first.
	require.Len(t, result.Comments, 2)
	assert.Equal(t, "a.go", result.Comments[0].FilePath)
	assert.Equal(t, "b.go", result.Comments[1].FilePath)
	assert.Equal(t, 3, result.Comments[0].Line)
	assert.Contains(t, result.Comments[0].Body, "[high] Bug")
	assert.Contains(t, result.Comments[0].Body, "lines 3-5")

	require.Len(t, pub.published, 2)
	assert.Equal(t, 0, pub.notices)
}

func TestRunAuthErrorFailsRun(t *testing.T) {
	ext := &stubExtractor{files: []FileDiff{
		{Path: "a.go", Kind: ChangeModified, Patch: "+x := 1"},
		{Path: "b.go", Kind: ChangeModified, Patch: "+y := 2"},
	}}
	gw := &stubGateway{submit: func(req llm.ProviderRequest) (*llm.ProviderResponse, error) {
		return nil, fault.New(fault.AuthError, "llm.submit", "invalid api key")
	}}
	pub := &stubPublisher{}

	result, err := newTestService(ext, gw, pub, testReviewConfig()).Run(context.Background(), testEvent())
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, result.Status)
	assert.Empty(t, result.Comments)
	require.Len(t, result.FailedFiles, 2)
	for _, f := range result.FailedFiles {
		assert.Equal(t, fault.AuthError, f.Kind)
	}
	assert.Equal(t, 1, pub.notices, "a failed run should post a failure notice")
}

func TestRunPartialOneFileRateLimited(t *testing.T) {
	ext := &stubExtractor{files: []FileDiff{
		{Path: "a.go", Kind: ChangeModified, Patch: "+x := 1"},
		{Path: "b.go", Kind: ChangeModified, Patch: "+y := 2"},
	}}
	gw := &stubGateway{submit: func(req llm.ProviderRequest) (*llm.ProviderResponse, error) {
		if strings.Contains(req.Prompt, "b.go") {
			return nil, fault.New(fault.RateLimited, "llm.submit", "throttled")
		}
		return &llm.ProviderResponse{Text: cleanJSON, FinishReason: llm.FinishComplete}, nil
	}}
	pub := &stubPublisher{}

	result, err := newTestService(ext, gw, pub, testReviewConfig()).Run(context.Background(), testEvent())
	require.NoError(t, err)

	assert.Equal(t, StatusPartial, result.Status)
	require.Len(t, result.Comments, 1)
	assert.Equal(t, "a.go", result.Comments[0].FilePath)
	require.Len(t, result.FailedFiles, 1)
	assert.Equal(t, "b.go", result.FailedFiles[0].Path)
	assert.Equal(t, fault.RateLimited, result.FailedFiles[0].Kind)
	assert.Equal(t, 0, pub.notices, "partial runs post no failure notice")
}

func TestRunNoReviewableFiles(t *testing.T) {
	ext := &stubExtractor{files: []FileDiff{
		{Path: "gone.go", Kind: ChangeRemoved, Patch: "-x"},
		{Path: "logo.svg", Kind: ChangeAdded},
	}}
	gw := &stubGateway{submit: func(req llm.ProviderRequest) (*llm.ProviderResponse, error) {
		return nil, fault.New(fault.UpstreamError, "llm.submit", "unexpected call")
	}}
	pub := &stubPublisher{}

	result, err := newTestService(ext, gw, pub, testReviewConfig()).Run(context.Background(), testEvent())
	require.NoError(t, err)

	assert.Equal(t, StatusSuccess, result.Status)
	assert.Empty(t, result.Comments)
	assert.Empty(t, result.FailedFiles)
	assert.Len(t, result.Skipped, 2)
	assert.Equal(t, 0, gw.callCount())
}

func TestRunDiffExtractionFailure(t *testing.T) {
	ext := &stubExtractor{err: fault.New(fault.NotFound, "github.extract", "pull request not found")}
	gw := &stubGateway{submit: func(req llm.ProviderRequest) (*llm.ProviderResponse, error) {
		return nil, nil
	}}
	pub := &stubPublisher{}

	result, err := newTestService(ext, gw, pub, testReviewConfig()).Run(context.Background(), testEvent())
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.NotFound))

	assert.Equal(t, StatusFailed, result.Status)
	assert.Contains(t, result.Error, "pull request not found")
	assert.Equal(t, 1, pub.notices)
	assert.Equal(t, 0, gw.callCount())
}

func TestRunPublishFailureMarksFile(t *testing.T) {
	ext := &stubExtractor{files: []FileDiff{
		{Path: "a.go", Kind: ChangeModified, Patch: "+x := 1"},
		{Path: "b.go", Kind: ChangeModified, Patch: "+y := 2"},
	}}
	gw := &stubGateway{submit: func(req llm.ProviderRequest) (*llm.ProviderResponse, error) {
		return &llm.ProviderResponse{Text: cleanJSON, FinishReason: llm.FinishComplete}, nil
	}}
	pub := &stubPublisher{failPaths: map[string]error{
		"b.go": fault.New(fault.UpstreamUnavailable, "github.publish", "502 posting comment"),
	}}

	result, err := newTestService(ext, gw, pub, testReviewConfig()).Run(context.Background(), testEvent())
	require.NoError(t, err)

	assert.Equal(t, StatusPartial, result.Status)
	require.Len(t, result.Comments, 1)
	assert.Equal(t, "a.go", result.Comments[0].FilePath)
	require.Len(t, result.FailedFiles, 1)
	assert.Equal(t, "b.go", result.FailedFiles[0].Path)
	assert.Contains(t, result.FailedFiles[0].Reason, "publishing comment")
}

func TestRunChunkedFileSequentialSubmissions(t *testing.T) {
	// 40-char budget with no overlap: the large file splits into several
	// chunks, the small one stays whole.
	cfg := testReviewConfig()
	cfg.Review.InputTokenBudget = 10
	cfg.Review.OverlapLines = 0
	cfg.Review.MaxConcurrentFiles = 1

	var big strings.Builder
	for i := 0; i < 12; i++ {
		fmt.Fprintf(&big, "+line number %02d\n", i)
	}

	ext := &stubExtractor{files: []FileDiff{
		{Path: "big.go", Kind: ChangeModified, Patch: big.String()},
		{Path: "small.go", Kind: ChangeModified, Patch: "+ok"},
	}}

	var mu sync.Mutex
	var bigParts []int
	gw := &stubGateway{}
	gw.submit = func(req llm.ProviderRequest) (*llm.ProviderResponse, error) {
		if strings.Contains(req.Prompt, "big.go") {
			var idx, total int
			_, err := fmt.Sscanf(req.Prompt[strings.Index(req.Prompt, "part "):], "part %d of %d", &idx, &total)
			if err == nil {
				mu.Lock()
				bigParts = append(bigParts, idx)
				mu.Unlock()
			}
		}
		return &llm.ProviderResponse{Text: issueJSON("Finding", 1), FinishReason: llm.FinishComplete}, nil
	}
	pub := &stubPublisher{}

	result, err := newTestService(ext, gw, pub, cfg).Run(context.Background(), testEvent())
	require.NoError(t, err)

	assert.Equal(t, StatusSuccess, result.Status)
	require.Len(t, result.Comments, 2)

	// Chunks of a file are submitted strictly in order.
	require.NotEmpty(t, bigParts)
	for i, part := range bigParts {
		assert.Equal(t, i+1, part)
	}
	assert.Equal(t, len(bigParts)+1, gw.callCount())

	// All chunk findings of big.go aggregate into its single comment.
	count := strings.Count(result.Comments[0].Body, "[high] Finding")
	assert.Equal(t, len(bigParts), count)
}

func TestRunTruncatedOutputStillParses(t *testing.T) {
	ext := &stubExtractor{files: []FileDiff{{Path: "a.go", Kind: ChangeModified, Patch: "+x"}}}
	gw := &stubGateway{submit: func(req llm.ProviderRequest) (*llm.ProviderResponse, error) {
		return &llm.ProviderResponse{Text: cleanJSON, FinishReason: llm.FinishTruncated}, nil
	}}
	pub := &stubPublisher{}

	result, err := newTestService(ext, gw, pub, testReviewConfig()).Run(context.Background(), testEvent())
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, result.Status)
	require.Len(t, result.Comments, 1)
}

func TestRunUnparseableOutputFailsFile(t *testing.T) {
	ext := &stubExtractor{files: []FileDiff{{Path: "a.go", Kind: ChangeModified, Patch: "+x"}}}
	gw := &stubGateway{submit: func(req llm.ProviderRequest) (*llm.ProviderResponse, error) {
		return &llm.ProviderResponse{Text: "sorry, I cannot help with that", FinishReason: llm.FinishComplete}, nil
	}}
	pub := &stubPublisher{}

	result, err := newTestService(ext, gw, pub, testReviewConfig()).Run(context.Background(), testEvent())
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, result.Status)
	require.Len(t, result.FailedFiles, 1)
	assert.Equal(t, fault.UpstreamError, result.FailedFiles[0].Kind)
}

func TestBuildCommentNoIssues(t *testing.T) {
	gw := &stubGateway{submit: func(req llm.ProviderRequest) (*llm.ProviderResponse, error) {
		return &llm.ProviderResponse{Text: cleanJSON, FinishReason: llm.FinishComplete}, nil
	}}
	ext := &stubExtractor{files: []FileDiff{{Path: "tidy.go", Kind: ChangeModified, Patch: "+x"}}}
	pub := &stubPublisher{}

	result, err := newTestService(ext, gw, pub, testReviewConfig()).Run(context.Background(), testEvent())
	require.NoError(t, err)

	require.Len(t, result.Comments, 1)
	comment := result.Comments[0]
	assert.Equal(t, 1, comment.Line)
	assert.Contains(t, comment.Body, "No issues found")
	assert.True(t, strings.HasPrefix(comment.ID, "cmt-"))
}
