// Package review implements the pull request review pipeline: it turns a
// validated webhook event into per-file diff analysis, submits chunked
// prompts to the configured LLM provider, and aggregates the findings into
// comments for publication back to the pull request.
package review

import (
	"time"

	"github.com/hollowlog/pragent/internal/fault"
	"github.com/hollowlog/pragent/internal/ulid"
)

// WebhookEvent is a validated, normalized pull request event accepted for
// review. Everything the pipeline needs downstream is captured here so the
// raw payload can be discarded after gating.
type WebhookEvent struct {
	DeliveryID    string    `json:"delivery_id"`
	Event         string    `json:"event"`
	Action        string    `json:"action"`
	RepoOwner     string    `json:"repo_owner"`
	RepoName      string    `json:"repo_name"`
	PRNumber      int       `json:"pr_number"`
	HeadSHA       string    `json:"head_sha"`
	BaseSHA       string    `json:"base_sha,omitempty"`
	Title         string    `json:"title,omitempty"`
	PayloadDigest string    `json:"payload_digest"`
	ReceivedAt    time.Time `json:"received_at"`
}

// RepoFullName returns the owner/name form used in logs and comments.
func (e WebhookEvent) RepoFullName() string {
	return e.RepoOwner + "/" + e.RepoName
}

// ChangeKind classifies how a file changed within the pull request
type ChangeKind string

const (
	ChangeAdded    ChangeKind = "added"
	ChangeModified ChangeKind = "modified"
	ChangeRemoved  ChangeKind = "removed"
	ChangeRenamed  ChangeKind = "renamed"
)

// FileDiff is one changed file extracted from the pull request, in the
// order the hosting platform reported it.
type FileDiff struct {
	Path         string     `json:"path"`
	PreviousPath string     `json:"previous_path,omitempty"`
	Kind         ChangeKind `json:"kind"`
	Patch        string     `json:"patch,omitempty"`
	Additions    int        `json:"additions"`
	Deletions    int        `json:"deletions"`
	Language     string     `json:"language,omitempty"`
}

// Reviewable reports whether the file carries analyzable diff content.
// Removed files and files without a textual patch (binary, too large for
// the platform to inline) are skipped rather than failed.
func (f FileDiff) Reviewable() bool {
	return f.Kind != ChangeRemoved && f.Patch != ""
}

// AnalysisChunk is one provider-sized slice of a file's diff. Chunks of a
// file are numbered from 1 and processed in order; each chunk after the
// first starts with the trailing lines of its predecessor so the provider
// keeps local context across the cut.
type AnalysisChunk struct {
	FilePath     string `json:"file_path"`
	Index        int    `json:"index"`
	Total        int    `json:"total"`
	DiffText     string `json:"diff_text"`
	OverlapLines int    `json:"overlap_lines"`
}

// ReviewComment is one aggregated finding ready for publication. A
// succeeded file yields exactly one comment carrying its summary and
// ordered issues.
type ReviewComment struct {
	ID       string `json:"id"`
	FilePath string `json:"file_path"`
	Line     int    `json:"line"`
	Body     string `json:"body"`
}

// FileFailure records why a file's analysis or publication did not
// complete. Failed files never contribute comments.
type FileFailure struct {
	Path   string     `json:"path"`
	Kind   fault.Kind `json:"-"`
	Reason string     `json:"reason"`
}

// Status is the terminal state of a review run
type Status string

const (
	// StatusSuccess means every reviewable file produced its comments.
	// A run with nothing reviewable also completes as success.
	StatusSuccess Status = "success"

	// StatusPartial means some files succeeded and at least one failed
	StatusPartial Status = "partial"

	// StatusFailed means no file produced comments, or the run died
	// before per-file work began
	StatusFailed Status = "failed"
)

// Result is the outcome of a single review run.
type Result struct {
	RunID       string          `json:"run_id"`
	Repo        string          `json:"repo"`
	PRNumber    int             `json:"pr_number"`
	Provider    string          `json:"provider"`
	Status      Status          `json:"status"`
	Comments    []ReviewComment `json:"comments"`
	FailedFiles []FileFailure   `json:"failed_files,omitempty"`
	Skipped     []string        `json:"skipped,omitempty"`
	Error       string          `json:"error,omitempty"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt time.Time       `json:"completed_at"`
}

// NewResult creates a run result shell with a fresh run ID.
func NewResult(event WebhookEvent, provider string) *Result {
	return &Result{
		RunID:     ulid.RunID(),
		Repo:      event.RepoFullName(),
		PRNumber:  event.PRNumber,
		Provider:  provider,
		StartedAt: time.Now(),
	}
}

// fileOutcome is the per-file unit carried through the concurrent phase.
// Exactly one of Comment and Failure is set for reviewable files.
type fileOutcome struct {
	Path    string
	Comment *ReviewComment
	Failure *FileFailure
}
