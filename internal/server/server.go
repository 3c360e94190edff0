// Package server exposes the webhook HTTP surface and runs the worker
// pool that executes review runs in the background.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/hollowlog/pragent/internal/config"
	"github.com/hollowlog/pragent/internal/fault"
	"github.com/hollowlog/pragent/internal/loggy"
	"github.com/hollowlog/pragent/internal/review"
	"github.com/hollowlog/pragent/internal/webhook"
)

// Runner executes one review run for an admitted event.
type Runner interface {
	Run(ctx context.Context, event review.WebhookEvent) (*review.Result, error)
}

// Server accepts webhook deliveries, queues admitted events, and hands
// them to a pool of review workers. The webhook handler never blocks on
// analysis: deliveries are acknowledged as soon as they are queued.
type Server struct {
	config  *config.Config
	gate    *webhook.Gate
	runner  Runner
	logger  *loggy.Logger
	version string

	router chi.Router
	http   *http.Server

	queue       chan review.WebhookEvent
	wg          sync.WaitGroup
	workerCtx   context.Context
	stopWorkers context.CancelFunc
	closeQueue  sync.Once
}

// New creates a server and starts its review workers.
func New(cfg *config.Config, gate *webhook.Gate, runner Runner, logger *loggy.Logger, version string) *Server {
	queueSize := cfg.Server.QueueSize
	if queueSize <= 0 {
		queueSize = 64
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		config:      cfg,
		gate:        gate,
		runner:      runner,
		logger:      logger,
		version:     version,
		queue:       make(chan review.WebhookEvent, queueSize),
		workerCtx:   ctx,
		stopWorkers: cancel,
	}
	s.router = s.routes()

	workers := cfg.Server.Workers
	if workers <= 0 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Post("/webhook", s.handleWebhook)

	// Read-only endpoints, reachable from browser dashboards.
	r.Group(func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type"},
			MaxAge:         300,
		}))
		r.Get("/healthz", s.handleHealthz)
		r.Get("/status", s.handleStatus)
	})

	return r
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start blocks serving HTTP until Shutdown is called.
func (s *Server) Start() error {
	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Server.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("webhook server listening", "addr", s.http.Addr, "workers", s.config.Server.Workers)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serving http: %w", err)
	}
	return nil
}

// Shutdown stops accepting deliveries, then drains queued runs until the
// context expires. Runs still in flight at the deadline are canceled.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	if s.http != nil {
		err = s.http.Shutdown(ctx)
	}

	// No handler can enqueue past this point.
	s.closeQueue.Do(func() { close(s.queue) })

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.stopWorkers()
		<-done
		if err == nil {
			err = ctx.Err()
		}
	}
	s.stopWorkers()
	return err
}

func (s *Server) worker(id int) {
	defer s.wg.Done()
	for event := range s.queue {
		if s.workerCtx.Err() != nil {
			return
		}
		if _, err := s.runner.Run(s.workerCtx, event); err != nil {
			s.logger.Error("review run failed",
				"worker", id,
				"delivery_id", event.DeliveryID,
				"repo", event.RepoFullName(),
				"pr", event.PRNumber,
				"error", err,
			)
		}
	}
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	event, err := s.gate.Admit(r)
	if err != nil {
		s.rejectDelivery(w, r, err)
		return
	}

	select {
	case s.queue <- event:
	default:
		// The delivery was never acted on, so its redelivery must not be
		// suppressed as a duplicate.
		s.gate.Forget(event)
		s.logger.Warn("review queue full, refusing delivery",
			"delivery_id", event.DeliveryID,
			"repo", event.RepoFullName(),
			"pr", event.PRNumber,
		)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "overloaded",
		})
		return
	}

	s.logger.Info("queued review",
		"delivery_id", event.DeliveryID,
		"repo", event.RepoFullName(),
		"pr", event.PRNumber,
		"action", event.Action,
	)
	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":      "queued",
		"delivery_id": event.DeliveryID,
	})
}

func (s *Server) rejectDelivery(w http.ResponseWriter, r *http.Request, err error) {
	kind := fault.KindOf(err)
	switch kind {
	case fault.AuthError:
		s.logger.Warn("rejected unsigned or badly signed delivery", "remote", r.RemoteAddr)
		writeJSON(w, http.StatusUnauthorized, map[string]string{
			"status": "rejected",
			"reason": "signature verification failed",
		})
	case fault.InvalidPayload:
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"status": "rejected",
			"reason": "malformed payload",
		})
	case fault.UnsupportedEvent:
		// Acknowledged so GitHub does not redeliver, but no run starts.
		writeJSON(w, http.StatusOK, map[string]string{
			"status": "ignored",
			"reason": err.Error(),
		})
	default:
		s.logger.Error("webhook admission failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"status": "error",
		})
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"version":     s.version,
		"provider":    s.config.Provider,
		"queue_depth": len(s.queue),
		"queue_size":  cap(s.queue),
		"workers":     s.config.Server.Workers,
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
