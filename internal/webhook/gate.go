// Package webhook validates inbound GitHub deliveries and turns the ones
// worth reviewing into normalized events for the pipeline.
package webhook

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"time"

	"github.com/google/go-github/v59/github"

	"github.com/hollowlog/pragent/internal/config"
	"github.com/hollowlog/pragent/internal/fault"
	"github.com/hollowlog/pragent/internal/loggy"
	"github.com/hollowlog/pragent/internal/review"
	"github.com/hollowlog/pragent/internal/ulid"
)

// maxPayloadBytes caps how much of a delivery body is read. GitHub caps
// webhook payloads at 25 MB.
const maxPayloadBytes = 25 << 20

// acceptedActions are the pull request actions that trigger a review run.
var acceptedActions = map[string]bool{
	"opened":           true,
	"synchronize":      true,
	"reopened":         true,
	"ready_for_review": true,
}

// Gate authenticates deliveries, filters event types, and suppresses
// duplicate deliveries of the same payload.
type Gate struct {
	secret []byte
	seen   *deliveryWindow
	logger *loggy.Logger
}

// NewGate creates a webhook gate from config.
func NewGate(cfg *config.Config, logger *loggy.Logger) *Gate {
	return &Gate{
		secret: []byte(cfg.Server.WebhookSecret),
		seen:   newDeliveryWindow(cfg.Review.MaxDeliveries),
		logger: logger,
	}
}

// Admit validates one HTTP delivery and returns the normalized event when
// it should start a review run. Rejections carry a fault kind: AuthError
// for bad signatures, InvalidPayload for unparseable bodies, and
// UnsupportedEvent for event types, actions, and duplicates the pipeline
// ignores.
func (g *Gate) Admit(r *http.Request) (review.WebhookEvent, error) {
	var zero review.WebhookEvent

	body, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadBytes))
	if err != nil {
		return zero, fault.Wrap(fault.InvalidPayload, "webhook.admit", err)
	}

	sig := r.Header.Get("X-Hub-Signature-256")
	if err := github.ValidateSignature(sig, body, g.secret); err != nil {
		return zero, fault.Wrap(fault.AuthError, "webhook.admit", err)
	}

	eventType := github.WebHookType(r)
	if eventType != "pull_request" {
		return zero, fault.New(fault.UnsupportedEvent, "webhook.admit", "ignoring %q event", eventType)
	}

	payload, err := github.ParseWebHook(eventType, body)
	if err != nil {
		return zero, fault.Wrap(fault.InvalidPayload, "webhook.admit", err)
	}

	prEvent, ok := payload.(*github.PullRequestEvent)
	if !ok {
		return zero, fault.New(fault.UnsupportedEvent, "webhook.admit", "ignoring %q event", eventType)
	}

	action := prEvent.GetAction()
	if !acceptedActions[action] {
		return zero, fault.New(fault.UnsupportedEvent, "webhook.admit", "ignoring pull_request action %q", action)
	}

	pr := prEvent.GetPullRequest()
	repo := prEvent.GetRepo()
	if pr == nil || repo == nil || repo.GetOwner().GetLogin() == "" || repo.GetName() == "" || pr.GetNumber() == 0 {
		return zero, fault.New(fault.InvalidPayload, "webhook.admit", "payload missing repository or pull request identity")
	}

	deliveryID := github.DeliveryID(r)
	if deliveryID == "" {
		deliveryID = ulid.DeliveryID()
	}

	digest := sha256.Sum256(body)
	event := review.WebhookEvent{
		DeliveryID:    deliveryID,
		Event:         eventType,
		Action:        action,
		RepoOwner:     repo.GetOwner().GetLogin(),
		RepoName:      repo.GetName(),
		PRNumber:      pr.GetNumber(),
		HeadSHA:       pr.GetHead().GetSHA(),
		BaseSHA:       pr.GetBase().GetSHA(),
		Title:         pr.GetTitle(),
		PayloadDigest: hex.EncodeToString(digest[:]),
		ReceivedAt:    time.Now(),
	}

	if !g.seen.admit(event.RepoFullName(), event.PRNumber, event.PayloadDigest) {
		g.logger.Debug("suppressing duplicate delivery",
			"delivery_id", event.DeliveryID,
			"repo", event.RepoFullName(),
			"pr", event.PRNumber,
		)
		return zero, fault.New(fault.UnsupportedEvent, "webhook.admit", "duplicate delivery for %s#%d", event.RepoFullName(), event.PRNumber)
	}

	return event, nil
}

// Forget releases an admitted event from the duplicate window. Callers
// that admitted an event but could not start its run use this so GitHub's
// redelivery of the same payload is accepted instead of suppressed.
func (g *Gate) Forget(event review.WebhookEvent) {
	g.seen.forget(event.RepoFullName(), event.PRNumber, event.PayloadDigest)
}
