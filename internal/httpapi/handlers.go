package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"aichat/internal/gateway"
	"aichat/internal/providers"
	"aichat/internal/queue"
	"aichat/internal/storage"
)

const (
	msgHistoryNotConfigured = "Chat history is not configured."
	msgAsyncNotConfigured   = "Async turns are not configured."
)

// handleSendMessage always answers 200 once the body decodes; the outcome is
// in the success flag.
func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var in gateway.Input
	if err := decode(w, r, &in); err != nil {
		writeError(w, http.StatusBadRequest, gateway.KindInvalidInput, "Invalid request body.")
		return
	}
	writeJSON(w, http.StatusOK, s.gateway.SendMessage(r.Context(), in))
}

type turnRequest struct {
	gateway.Input
	TurnID string `json:"turnId,omitempty"`
}

type turnResponse struct {
	TurnID    string          `json:"turnId"`
	Status    string          `json:"status"`
	Duplicate bool            `json:"duplicate,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
}

func (s *Server) handleEnqueueTurn(w http.ResponseWriter, r *http.Request) {
	var req turnRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, gateway.KindInvalidInput, "Invalid request body.")
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		writeError(w, http.StatusUnauthorized, gateway.KindUnauthenticated, gateway.ErrUnauthenticated.Error())
		return
	}
	if !s.async.ready() {
		writeError(w, http.StatusServiceUnavailable, gateway.KindConfiguration, msgAsyncNotConfigured)
		return
	}
	ctx := r.Context()
	log := s.logger.With().Str("user_id", req.UserID).Str("tool", req.Tool).Logger()

	if s.async.Limiter != nil {
		allowed, _, resetAt, err := s.async.Limiter.Allow(ctx, req.UserID, s.now())
		if err != nil {
			log.Error().Err(err).Msg("rate limit check failed")
			writeError(w, http.StatusInternalServerError, gateway.KindConfiguration, "Could not queue the turn.")
			return
		}
		if !allowed {
			w.Header().Set("Retry-After", fmt.Sprintf("%d", int(resetAt.Sub(s.now()).Seconds())+1))
			writeError(w, http.StatusTooManyRequests, "", "Too many turns, try again later.")
			return
		}
	}

	turnID := strings.TrimSpace(req.TurnID)
	if turnID == "" {
		turnID = uuid.NewString()
	}
	if err := s.async.Dedupe.MarkFirst(ctx, req.UserID, turnID); err != nil {
		if errors.Is(err, queue.ErrDuplicate) {
			status := queue.StatusPending
			if res, err := s.async.Results.Get(ctx, req.UserID, turnID); err == nil {
				status = res.Status
			}
			writeJSON(w, http.StatusOK, turnResponse{TurnID: turnID, Status: status, Duplicate: true})
			return
		}
		log.Error().Err(err).Msg("turn dedupe failed")
		writeError(w, http.StatusInternalServerError, gateway.KindConfiguration, "Could not queue the turn.")
		return
	}

	// Until the job is queued the claim is released on every failure, so a
	// retry with the same turn id is accepted.
	fail := func(err error, msg string) {
		log.Error().Err(err).Msg(msg)
		if err := s.async.Dedupe.Release(context.WithoutCancel(ctx), req.UserID, turnID); err != nil {
			log.Error().Err(err).Msg("failed to release turn id")
		}
		writeError(w, http.StatusInternalServerError, gateway.KindConfiguration, "Could not queue the turn.")
	}

	sealed, err := s.async.Sealer.Seal(req.APIKey, turnID)
	if err != nil {
		fail(err, "failed to seal credential")
		return
	}
	if err := s.async.Results.MarkPending(ctx, req.UserID, turnID); err != nil {
		fail(err, "failed to mark turn pending")
		return
	}
	if _, err := s.async.Queue.Enqueue(ctx, queue.TurnJob{
		TurnID:     turnID,
		UserID:     req.UserID,
		Prompt:     req.Prompt,
		Tool:       req.Tool,
		SealedKey:  sealed,
		OllamaHost: req.OllamaHost,
		EnqueuedAt: s.now().UTC(),
	}); err != nil {
		fail(err, "failed to enqueue turn")
		return
	}
	s.metrics.EnqueuedTurns.Inc()
	writeJSON(w, http.StatusAccepted, turnResponse{TurnID: turnID, Status: queue.StatusPending})
}

func (s *Server) handleGetTurn(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.URL.Query().Get("userId"))
	if userID == "" {
		writeError(w, http.StatusUnauthorized, gateway.KindUnauthenticated, gateway.ErrUnauthenticated.Error())
		return
	}
	if !s.async.ready() {
		writeError(w, http.StatusServiceUnavailable, gateway.KindConfiguration, msgAsyncNotConfigured)
		return
	}
	id := chi.URLParam(r, "id")
	res, err := s.async.Results.Get(r.Context(), userID, id)
	if err != nil {
		if errors.Is(err, queue.ErrUnknownTurn) {
			writeError(w, http.StatusNotFound, "", "Unknown turn.")
			return
		}
		s.logger.Error().Err(err).Str("turn_id", id).Msg("failed to read turn result")
		writeError(w, http.StatusInternalServerError, "", "Could not read the turn.")
		return
	}
	writeJSON(w, http.StatusOK, turnResponse{TurnID: id, Status: res.Status, Result: res.Output})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.historyUser(w, r)
	if !ok {
		return
	}
	turns, err := s.history.History(r.Context(), userID)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("failed to load history")
		writeError(w, http.StatusInternalServerError, gateway.KindHistoryUnavailable, "Failed to load chat history.")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"turns": turns})
}

func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.historyUser(w, r)
	if !ok {
		return
	}
	n, err := s.history.ClearHistory(r.Context(), userID)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("failed to clear history")
		writeError(w, http.StatusInternalServerError, gateway.KindHistoryUnavailable, "Failed to clear chat history.")
		return
	}
	meta, _ := json.Marshal(map[string]int64{"deleted": n})
	if err := s.history.LogAction(r.Context(), storage.AuditEntry{UserID: userID, Action: "history_cleared", MetaJSON: string(meta)}); err != nil {
		s.logger.Warn().Err(err).Str("user_id", userID).Msg("failed to log history clear")
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": n})
}

func (s *Server) historyUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := strings.TrimSpace(r.URL.Query().Get("userId"))
	if userID == "" {
		writeError(w, http.StatusUnauthorized, gateway.KindUnauthenticated, gateway.ErrUnauthenticated.Error())
		return "", false
	}
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, gateway.KindConfiguration, msgHistoryNotConfigured)
		return "", false
	}
	return userID, true
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	var in gateway.SummaryInput
	if err := decode(w, r, &in); err != nil {
		writeError(w, http.StatusBadRequest, gateway.KindInvalidInput, "Invalid request body.")
		return
	}
	writeJSON(w, http.StatusOK, s.gateway.SummarizeHistory(r.Context(), in))
}

func (s *Server) handleTools(w http.ResponseWriter, _ *http.Request) {
	tools := []providers.ToolID{}
	var mock providers.ToolID
	if s.tools != nil {
		tools = s.tools.Tools()
		mock = s.tools.Mock()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tools": tools,
		"auto":  providers.ToolAuto,
		"mock":  mock,
	})
}
