// Package httpapi exposes the gateway and history operations over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"aichat/internal/gateway"
	"aichat/internal/metrics"
	"aichat/internal/providers"
	"aichat/internal/queue"
	"aichat/internal/storage"
)

type Gateway interface {
	SendMessage(ctx context.Context, in gateway.Input) gateway.Output
	SummarizeHistory(ctx context.Context, in gateway.SummaryInput) gateway.Output
}

type HistoryStore interface {
	History(ctx context.Context, userID string) ([]storage.Turn, error)
	ClearHistory(ctx context.Context, userID string) (int64, error)
	LogAction(ctx context.Context, e storage.AuditEntry) error
}

type ToolLister interface {
	Tools() []providers.ToolID
	Mock() providers.ToolID
}

type Enqueuer interface {
	Enqueue(ctx context.Context, job queue.TurnJob) (string, error)
}

type Deduper interface {
	MarkFirst(ctx context.Context, userID, turnID string) error
	Release(ctx context.Context, userID, turnID string) error
}

type TurnResults interface {
	MarkPending(ctx context.Context, userID, turnID string) error
	Get(ctx context.Context, userID, turnID string) (queue.TurnResult, error)
}

type Sealer interface {
	Seal(plaintext, binding string) (string, error)
}

type Limiter interface {
	Allow(ctx context.Context, userID string, now time.Time) (bool, int64, time.Time, error)
}

// Async holds the collaborators of queued turns. A nil Async, or one missing
// a required field, disables the async endpoints. Limiter is optional.
type Async struct {
	Queue   Enqueuer
	Dedupe  Deduper
	Results TurnResults
	Sealer  Sealer
	Limiter Limiter
}

func (a *Async) ready() bool {
	return a != nil && a.Queue != nil && a.Dedupe != nil && a.Results != nil && a.Sealer != nil
}

type Server struct {
	gateway Gateway
	history HistoryStore
	tools   ToolLister
	async   *Async
	logger  zerolog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

type Config struct {
	Gateway Gateway
	History HistoryStore
	Tools   ToolLister
	Async   *Async
	Logger  zerolog.Logger
	Metrics *metrics.Metrics
	Now     func() time.Time
}

func New(cfg Config) *Server {
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Global()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Server{
		gateway: cfg.Gateway,
		history: cfg.History,
		tools:   cfg.Tools,
		async:   cfg.Async,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
		now:     cfg.Now,
	}
}

// Routes mounts the api under /api on r.
func (s *Server) Routes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Use(chimiddleware.RequestID)
		r.Use(s.requestLogger)
		r.Use(chimiddleware.Recoverer)

		r.Post("/messages", s.handleSendMessage)
		r.Post("/turns", s.handleEnqueueTurn)
		r.Get("/turns/{id}", s.handleGetTurn)
		r.Get("/history", s.handleHistory)
		r.Delete("/history", s.handleClearHistory)
		r.Post("/history/summary", s.handleSummary)
		r.Get("/tools", s.handleTools)
	})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		started := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug().
			Str("request_id", chimiddleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("took", time.Since(started)).
			Msg("http request")
	})
}

type errorBody struct {
	Success bool         `json:"success"`
	Error   string       `json:"error"`
	Kind    gateway.Kind `json:"kind,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, kind gateway.Kind, msg string) {
	writeJSON(w, status, errorBody{Success: false, Error: msg, Kind: kind})
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	return dec.Decode(v)
}
