package github

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hollowlog/pragent/internal/config"
	"github.com/hollowlog/pragent/internal/fault"
	"github.com/hollowlog/pragent/internal/loggy"
	"github.com/hollowlog/pragent/internal/review"
)

const apiPrefix = "/api/v3"

func newTestService(t *testing.T, mux *http.ServeMux) *Service {
	t.Helper()

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	cfg := &config.Config{
		GitHub: config.GitHubConfig{
			Token:           "test-token",
			APIURL:          srv.URL,
			RequestTimeout:  5 * time.Second,
			PublishTimeout:  5 * time.Second,
			MaxRetries:      3,
			FallbackComment: true,
			FailureNotice:   true,
		},
	}
	return NewService(NewClient(cfg.GitHub), cfg, loggy.NewNoopLogger())
}

func testEvent() review.WebhookEvent {
	return review.WebhookEvent{
		DeliveryID: "delivery-1",
		Event:      "pull_request",
		Action:     "opened",
		RepoOwner:  "hollowlog",
		RepoName:   "pragent",
		PRNumber:   42,
		HeadSHA:    "event-head-sha",
	}
}

func TestExtractDiffs(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc(apiPrefix+"/repos/hollowlog/pragent/pulls/42/files", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		fmt.Fprint(w, `[
			{"filename": "internal/server.go", "status": "modified", "patch": "+x := 1", "additions": 1, "deletions": 0},
			{"filename": "img/logo.png", "status": "added", "additions": 0, "deletions": 0},
			{"filename": "pkg/new.go", "status": "renamed", "previous_filename": "pkg/old.go", "patch": "+y := 2", "additions": 1, "deletions": 1},
			{"filename": "vendor/lib/dep.go", "status": "modified", "patch": "+z := 3", "additions": 1, "deletions": 0},
			{"filename": "gone.go", "status": "removed", "patch": "-a := 4", "additions": 0, "deletions": 4}
		]`)
	})

	svc := newTestService(t, mux)
	diffs, err := svc.ExtractDiffs(context.Background(), testEvent())
	require.NoError(t, err)
	require.Len(t, diffs, 5)

	assert.Equal(t, "internal/server.go", diffs[0].Path)
	assert.Equal(t, review.ChangeModified, diffs[0].Kind)
	assert.Equal(t, "+x := 1", diffs[0].Patch)
	assert.True(t, diffs[0].Reviewable())

	// Binary file: no patch, not reviewable.
	assert.Equal(t, review.ChangeAdded, diffs[1].Kind)
	assert.False(t, diffs[1].Reviewable())

	assert.Equal(t, review.ChangeRenamed, diffs[2].Kind)
	assert.Equal(t, "pkg/old.go", diffs[2].PreviousPath)

	// Vendored files keep their slot but lose the patch.
	assert.Equal(t, "vendor/lib/dep.go", diffs[3].Path)
	assert.False(t, diffs[3].Reviewable())

	assert.Equal(t, review.ChangeRemoved, diffs[4].Kind)
	assert.False(t, diffs[4].Reviewable())
}

func TestExtractDiffsPagination(t *testing.T) {
	var baseURL string

	mux := http.NewServeMux()
	mux.HandleFunc(apiPrefix+"/repos/hollowlog/pragent/pulls/42/files", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "2" {
			fmt.Fprint(w, `[{"filename": "b.go", "status": "modified", "patch": "+b"}]`)
			return
		}
		w.Header().Set("Link", fmt.Sprintf(`<%s%s/repos/hollowlog/pragent/pulls/42/files?page=2>; rel="next"`, baseURL, apiPrefix))
		fmt.Fprint(w, `[{"filename": "a.go", "status": "modified", "patch": "+a"}]`)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	baseURL = srv.URL

	cfg := &config.Config{
		GitHub: config.GitHubConfig{
			Token:          "test-token",
			APIURL:         srv.URL,
			RequestTimeout: 5 * time.Second,
			PublishTimeout: 5 * time.Second,
			MaxRetries:     3,
		},
	}
	svc := NewService(NewClient(cfg.GitHub), cfg, loggy.NewNoopLogger())

	diffs, err := svc.ExtractDiffs(context.Background(), testEvent())
	require.NoError(t, err)
	require.Len(t, diffs, 2)
	assert.Equal(t, "a.go", diffs[0].Path)
	assert.Equal(t, "b.go", diffs[1].Path)
}

func TestExtractDiffsNotFoundNotRetried(t *testing.T) {
	var calls atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc(apiPrefix+"/repos/hollowlog/pragent/pulls/42/files", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"message": "Not Found"}`)
	})

	svc := newTestService(t, mux)
	_, err := svc.ExtractDiffs(context.Background(), testEvent())
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.NotFound))
	assert.Equal(t, int32(1), calls.Load(), "missing pull requests should not be retried")
}

func TestExtractDiffsRetriesServerError(t *testing.T) {
	var calls atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc(apiPrefix+"/repos/hollowlog/pragent/pulls/42/files", func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `[{"filename": "a.go", "status": "modified", "patch": "+a"}]`)
	})

	svc := newTestService(t, mux)
	diffs, err := svc.ExtractDiffs(context.Background(), testEvent())
	require.NoError(t, err)
	assert.Len(t, diffs, 1)
	assert.Equal(t, int32(2), calls.Load())
}

func TestExtractDiffsAuthErrorNotRetried(t *testing.T) {
	var calls atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc(apiPrefix+"/repos/hollowlog/pragent/pulls/42/files", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"message": "Bad credentials"}`)
	})

	svc := newTestService(t, mux)
	_, err := svc.ExtractDiffs(context.Background(), testEvent())
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.AuthError))
	assert.Equal(t, int32(1), calls.Load())
}

func TestPublishComment(t *testing.T) {
	var posted map[string]interface{}

	mux := http.NewServeMux()
	mux.HandleFunc(apiPrefix+"/repos/hollowlog/pragent/pulls/42", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"number": 42, "head": {"sha": "fresh-head-sha"}}`)
	})
	mux.HandleFunc(apiPrefix+"/repos/hollowlog/pragent/pulls/42/comments", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &posted))
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"id": 1}`)
	})

	svc := newTestService(t, mux)
	err := svc.PublishComment(context.Background(), testEvent(), review.ReviewComment{
		ID:       "cmt-1",
		FilePath: "internal/server.go",
		Line:     7,
		Body:     "Found a bug",
	})
	require.NoError(t, err)

	assert.Equal(t, "internal/server.go", posted["path"])
	assert.Equal(t, "fresh-head-sha", posted["commit_id"], "comments anchor to the PR's current head")
	assert.Equal(t, float64(7), posted["line"])
	assert.Equal(t, "RIGHT", posted["side"])
	assert.Equal(t, "Found a bug", posted["body"])
}

func TestPublishCommentFallsBackToIssueComment(t *testing.T) {
	var reviewCalls, issueCalls atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc(apiPrefix+"/repos/hollowlog/pragent/pulls/42", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"number": 42, "head": {"sha": "fresh-head-sha"}}`)
	})
	mux.HandleFunc(apiPrefix+"/repos/hollowlog/pragent/pulls/42/comments", func(w http.ResponseWriter, r *http.Request) {
		reviewCalls.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
		fmt.Fprint(w, `{"message": "line must be part of the diff"}`)
	})
	mux.HandleFunc(apiPrefix+"/repos/hollowlog/pragent/issues/42/comments", func(w http.ResponseWriter, r *http.Request) {
		issueCalls.Add(1)
		body, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(body), "internal/server.go")
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"id": 2}`)
	})

	svc := newTestService(t, mux)
	err := svc.PublishComment(context.Background(), testEvent(), review.ReviewComment{
		FilePath: "internal/server.go",
		Line:     9999,
		Body:     "Anchored past the diff",
	})
	require.NoError(t, err, "fallback comment preserves the findings")
	assert.Equal(t, int32(1), issueCalls.Load())
	assert.GreaterOrEqual(t, reviewCalls.Load(), int32(1))
}

func TestPublishCommentUsesEventHeadWhenPRReadFails(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc(apiPrefix+"/repos/hollowlog/pragent/pulls/42", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"message": "Not Found"}`)
	})

	var posted map[string]interface{}
	mux.HandleFunc(apiPrefix+"/repos/hollowlog/pragent/pulls/42/comments", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &posted))
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"id": 1}`)
	})

	svc := newTestService(t, mux)
	err := svc.PublishComment(context.Background(), testEvent(), review.ReviewComment{
		FilePath: "a.go",
		Line:     1,
		Body:     "note",
	})
	require.NoError(t, err)
	assert.Equal(t, "event-head-sha", posted["commit_id"])
}

func TestPublishFailureNotice(t *testing.T) {
	var body string

	mux := http.NewServeMux()
	mux.HandleFunc(apiPrefix+"/repos/hollowlog/pragent/issues/42/comments", func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var comment map[string]string
		require.NoError(t, json.Unmarshal(raw, &comment))
		body = comment["body"]
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"id": 3}`)
	})

	svc := newTestService(t, mux)
	result := &review.Result{
		RunID:  "run-01ABC",
		Status: review.StatusFailed,
		FailedFiles: []review.FileFailure{
			{Path: "a.go", Kind: fault.RateLimited, Reason: "chunk 1/1: throttled"},
		},
	}
	err := svc.PublishFailureNotice(context.Background(), testEvent(), result)
	require.NoError(t, err)

	assert.Contains(t, body, "run-01ABC")
	assert.Contains(t, body, "`a.go`")
	assert.Contains(t, body, "throttled")
}

func TestChangeKind(t *testing.T) {
	assert.Equal(t, review.ChangeAdded, changeKind("added"))
	assert.Equal(t, review.ChangeAdded, changeKind("copied"))
	assert.Equal(t, review.ChangeRemoved, changeKind("removed"))
	assert.Equal(t, review.ChangeRenamed, changeKind("renamed"))
	assert.Equal(t, review.ChangeModified, changeKind("modified"))
	assert.Equal(t, review.ChangeModified, changeKind("changed"))
}
