package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"aichat/internal/crypto"
	"aichat/internal/gateway"
	"aichat/internal/metrics"
	"aichat/internal/providers"
	"aichat/internal/providers/registry"
	"aichat/internal/queue"
	"aichat/internal/storage"
)

type stubGateway struct {
	inputs    []gateway.Input
	summaries []gateway.SummaryInput
}

func (g *stubGateway) SendMessage(_ context.Context, in gateway.Input) gateway.Output {
	g.inputs = append(g.inputs, in)
	if in.UserID == "" {
		return gateway.Output{Success: false, Error: "User not authenticated.", Kind: gateway.KindUnauthenticated}
	}
	return gateway.Output{Success: true, AIResponse: &providers.Normalized{Tool: providers.ToolID(in.Tool), Response: "ok"}}
}

func (g *stubGateway) SummarizeHistory(_ context.Context, in gateway.SummaryInput) gateway.Output {
	g.summaries = append(g.summaries, in)
	return gateway.Output{Success: true, AIResponse: &providers.Normalized{Tool: providers.ToolID(in.Tool), Response: "summary"}}
}

func newRouter(t *testing.T, cfg Config) http.Handler {
	t.Helper()
	if cfg.Gateway == nil {
		cfg.Gateway = &stubGateway{}
	}
	cfg.Logger = zerolog.Nop()
	cfg.Metrics = metrics.New()
	r := chi.NewRouter()
	New(cfg).Routes(r)
	return r
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestSendMessageHandler(t *testing.T) {
	gw := &stubGateway{}
	h := newRouter(t, Config{Gateway: gw})

	rec := do(t, h, http.MethodPost, "/api/messages", `{"prompt":"Hello","tool":"GPT","userId":"u1","apiKey":"k"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rec.Code, rec.Body.String())
	}
	var out gateway.Output
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !out.Success || out.AIResponse.Response != "ok" {
		t.Fatalf("unexpected output %+v", out)
	}
	if gw.inputs[0].APIKey != "k" || gw.inputs[0].Prompt != "Hello" {
		t.Fatalf("unexpected gateway input %+v", gw.inputs[0])
	}
}

func TestSendMessageFailureStillReturns200(t *testing.T) {
	h := newRouter(t, Config{})
	rec := do(t, h, http.MethodPost, "/api/messages", `{"prompt":"Hello","tool":"GPT"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"success":false`) || !strings.Contains(rec.Body.String(), "User not authenticated.") {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
}

func TestSendMessageMalformedJSON(t *testing.T) {
	h := newRouter(t, Config{})
	rec := do(t, h, http.MethodPost, "/api/messages", `{"prompt":`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestToolsHandler(t *testing.T) {
	reg, err := registry.Default(nil)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	h := newRouter(t, Config{Tools: reg})
	rec := do(t, h, http.MethodGet, "/api/tools", "")
	var body struct {
		Tools []string `json:"tools"`
		Auto  string   `json:"auto"`
		Mock  string   `json:"mock"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Auto != "Auto" || body.Mock != "FreeTool" {
		t.Fatalf("unexpected body %+v", body)
	}
	found := false
	for _, tool := range body.Tools {
		if tool == "GPT" {
			found = true
		}
		if tool == "Auto" || tool == "FreeTool" {
			t.Fatalf("reserved id listed as a tool: %s", tool)
		}
	}
	if !found {
		t.Fatalf("GPT missing from %v", body.Tools)
	}
}

func openStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(context.Background(), "sqlite", filepath.Join(t.TempDir(), "chat.db"), true)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func strPtr(v string) *string { return &v }

func TestHistoryHandlers(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	at := time.Date(2026, 4, 2, 8, 0, 0, 0, time.UTC)
	if err := store.AppendMessages(ctx,
		storage.Message{ID: "m1", UserID: "u1", Tool: "GPT", Input: strPtr("Hello"), CreatedAt: at},
		storage.Message{ID: "m2", UserID: "u1", Tool: "GPT", ProviderParsed: strPtr("Hi there"), ProviderRaw: strPtr("{}"), CreatedAt: at},
	); err != nil {
		t.Fatalf("seed: %v", err)
	}
	h := newRouter(t, Config{History: store})

	rec := do(t, h, http.MethodGet, "/api/history?userId=u1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rec.Code, rec.Body.String())
	}
	var hist struct {
		Turns []storage.Turn `json:"turns"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &hist); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(hist.Turns) != 1 || hist.Turns[0].Prompt != "Hello" || hist.Turns[0].Response != "Hi there" {
		t.Fatalf("unexpected history %+v", hist.Turns)
	}

	rec = do(t, h, http.MethodDelete, "/api/history?userId=u1", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"deleted":2`) {
		t.Fatalf("unexpected clear response %d %s", rec.Code, rec.Body.String())
	}
	n, err := store.CountActions(ctx, "u1", "history_cleared")
	if err != nil {
		t.Fatalf("count actions: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected clear to be logged once, got %d", n)
	}

	turns, err := store.History(ctx, "u1")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(turns) != 0 {
		t.Fatalf("expected empty history, got %d", len(turns))
	}
}

func TestHistoryHandlerErrors(t *testing.T) {
	h := newRouter(t, Config{})
	if rec := do(t, h, http.MethodGet, "/api/history", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/api/history?userId=u1", ""); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestSummaryHandler(t *testing.T) {
	gw := &stubGateway{}
	h := newRouter(t, Config{Gateway: gw})
	rec := do(t, h, http.MethodPost, "/api/history/summary", `{"userId":"u1","tool":"Gemini","apiKey":"k"}`)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "summary") {
		t.Fatalf("unexpected response %d %s", rec.Code, rec.Body.String())
	}
	if gw.summaries[0].Tool != "Gemini" || gw.summaries[0].UserID != "u1" {
		t.Fatalf("unexpected summary input %+v", gw.summaries[0])
	}
}

func newAsync(t *testing.T, limit int64) (*Async, *queue.StreamQueue, *crypto.Sealer) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	key := make([]byte, 32)
	sealer, err := crypto.NewSealer("k1", map[string][]byte{"k1": key})
	if err != nil {
		t.Fatalf("sealer: %v", err)
	}
	q := queue.NewStreamQueue(rdb, "turns", "workers", "c1", 10*time.Millisecond)
	if err := q.EnsureGroup(context.Background()); err != nil {
		t.Fatalf("ensure group: %v", err)
	}
	return &Async{
		Queue:   q,
		Dedupe:  queue.NewTurnDeduplicator(rdb, time.Hour),
		Results: queue.NewResultStore(rdb, time.Hour),
		Sealer:  sealer,
		Limiter: queue.NewRateLimiter(rdb, limit),
	}, q, sealer
}

func TestEnqueueTurnFlow(t *testing.T) {
	async, q, sealer := newAsync(t, 0)
	h := newRouter(t, Config{Async: async})

	rec := do(t, h, http.MethodPost, "/api/turns", `{"prompt":"Hello","tool":"GPT","userId":"u1","apiKey":"sk-1","turnId":"t-1"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d body=%s", rec.Code, rec.Body.String())
	}
	if strings.Contains(rec.Body.String(), "sk-1") {
		t.Fatalf("credential echoed back")
	}

	rec = do(t, h, http.MethodPost, "/api/turns", `{"prompt":"Hello","tool":"GPT","userId":"u1","apiKey":"sk-1","turnId":"t-1"}`)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"duplicate":true`) {
		t.Fatalf("expected duplicate response, got %d %s", rec.Code, rec.Body.String())
	}

	msgs, err := q.Read(context.Background(), 10)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected exactly one queued job, got %d", len(msgs))
	}
	job := msgs[0].Job
	if job.SealedKey == "" || strings.Contains(job.SealedKey, "sk-1") {
		t.Fatalf("credential not sealed: %q", job.SealedKey)
	}
	key, err := sealer.Open(job.SealedKey, "t-1")
	if err != nil || key != "sk-1" {
		t.Fatalf("open sealed key: %q %v", key, err)
	}

	rec = do(t, h, http.MethodGet, "/api/turns/t-1?userId=u1", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"status":"pending"`) {
		t.Fatalf("unexpected poll response %d %s", rec.Code, rec.Body.String())
	}

	if err := async.Results.(*queue.ResultStore).Put(context.Background(), "u1", "t-1", gateway.Output{Success: true}); err != nil {
		t.Fatalf("put: %v", err)
	}
	rec = do(t, h, http.MethodGet, "/api/turns/t-1?userId=u1", "")
	if !strings.Contains(rec.Body.String(), `"status":"done"`) || !strings.Contains(rec.Body.String(), `"success":true`) {
		t.Fatalf("unexpected done response %s", rec.Body.String())
	}

	if rec := do(t, h, http.MethodGet, "/api/turns/nope?userId=u1", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

type flakyEnqueuer struct {
	inner Enqueuer
	fails int
}

func (q *flakyEnqueuer) Enqueue(ctx context.Context, job queue.TurnJob) (string, error) {
	if q.fails > 0 {
		q.fails--
		return "", errors.New("stream unavailable")
	}
	return q.inner.Enqueue(ctx, job)
}

func TestEnqueueTurnRetryAfterQueueFailure(t *testing.T) {
	async, q, _ := newAsync(t, 0)
	async.Queue = &flakyEnqueuer{inner: q, fails: 1}
	h := newRouter(t, Config{Async: async})
	body := `{"prompt":"Hello","tool":"GPT","userId":"u1","turnId":"t-9"}`

	if rec := do(t, h, http.MethodPost, "/api/turns", body); rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d %s", rec.Code, rec.Body.String())
	}
	rec := do(t, h, http.MethodPost, "/api/turns", body)
	if rec.Code != http.StatusAccepted || strings.Contains(rec.Body.String(), `"duplicate":true`) {
		t.Fatalf("retry was not queued: %d %s", rec.Code, rec.Body.String())
	}
	msgs, err := q.Read(context.Background(), 10)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Job.TurnID != "t-9" {
		t.Fatalf("expected the retried job on the stream, got %+v", msgs)
	}
}

func TestTurnResultsAreScopedToUser(t *testing.T) {
	async, _, _ := newAsync(t, 0)
	h := newRouter(t, Config{Async: async})

	if err := async.Results.(*queue.ResultStore).Put(context.Background(), "alice", "t-1", gateway.Output{Success: true}); err != nil {
		t.Fatalf("put: %v", err)
	}
	rec := do(t, h, http.MethodPost, "/api/turns", `{"prompt":"x","tool":"GPT","userId":"bob","turnId":"t-1"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202 for bob, got %d", rec.Code)
	}

	rec = do(t, h, http.MethodGet, "/api/turns/t-1?userId=alice", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"status":"done"`) {
		t.Fatalf("alice's result was changed: %d %s", rec.Code, rec.Body.String())
	}
	if rec := do(t, h, http.MethodGet, "/api/turns/t-1", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without userId, got %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/api/turns/t-1?userId=carol", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for another user, got %d", rec.Code)
	}
}

func TestEnqueueTurnRateLimited(t *testing.T) {
	async, _, _ := newAsync(t, 1)
	h := newRouter(t, Config{Async: async})

	if rec := do(t, h, http.MethodPost, "/api/turns", `{"prompt":"a","tool":"GPT","userId":"u1"}`); rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	rec := do(t, h, http.MethodPost, "/api/turns", `{"prompt":"b","tool":"GPT","userId":"u1"}`)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}
}

func TestEnqueueTurnRequiresUserAndAsync(t *testing.T) {
	h := newRouter(t, Config{})
	if rec := do(t, h, http.MethodPost, "/api/turns", `{"prompt":"a","tool":"GPT"}`); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	rec := do(t, h, http.MethodPost, "/api/turns", `{"prompt":"a","tool":"GPT","userId":"u1"}`)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	var body errorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Kind != gateway.KindConfiguration {
		t.Fatalf("unexpected kind %q", body.Kind)
	}
}

type failingHistory struct{}

func (failingHistory) History(context.Context, string) ([]storage.Turn, error) {
	return nil, errors.New("db down")
}

func (failingHistory) ClearHistory(context.Context, string) (int64, error) {
	return 0, errors.New("db down")
}

func (failingHistory) LogAction(context.Context, storage.AuditEntry) error { return nil }

func TestHistoryUnavailable(t *testing.T) {
	h := newRouter(t, Config{History: failingHistory{}})
	rec := do(t, h, http.MethodGet, "/api/history?userId=u1", "")
	if rec.Code != http.StatusInternalServerError || !strings.Contains(rec.Body.String(), string(gateway.KindHistoryUnavailable)) {
		t.Fatalf("unexpected response %d %s", rec.Code, rec.Body.String())
	}
}
