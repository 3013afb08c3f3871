package worker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"aichat/internal/crypto"
	"aichat/internal/gateway"
	"aichat/internal/providers"
	"aichat/internal/queue"
)

type stubSender struct {
	inputs []gateway.Input
}

func (s *stubSender) SendMessage(_ context.Context, in gateway.Input) gateway.Output {
	s.inputs = append(s.inputs, in)
	return gateway.Output{
		Success:    true,
		AIResponse: &providers.Normalized{Tool: providers.ToolID(in.Tool), Response: "echo: " + in.Prompt},
	}
}

func newSealer(t *testing.T) *crypto.Sealer {
	t.Helper()
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	s, err := crypto.NewSealer("k1", map[string][]byte{"k1": key})
	if err != nil {
		t.Fatalf("new sealer: %v", err)
	}
	return s
}

func TestPollRunsTurnAndStoresResult(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	ctx := context.Background()
	q := queue.NewStreamQueue(rdb, "turns", "workers", "c1", 10*time.Millisecond)
	if err := q.EnsureGroup(ctx); err != nil {
		t.Fatalf("ensure group: %v", err)
	}
	results := queue.NewResultStore(rdb, time.Minute)
	sealer := newSealer(t)

	sealed, err := sealer.Seal("sk-live", "t1")
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if _, err := q.Enqueue(ctx, queue.TurnJob{TurnID: "t1", UserID: "u1", Prompt: "Hello", Tool: "GPT", SealedKey: sealed}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := results.MarkPending(ctx, "u1", "t1"); err != nil {
		t.Fatalf("mark pending: %v", err)
	}

	sender := &stubSender{}
	w := New(Config{Sender: sender, Queue: q, Results: results, Opener: sealer, Logger: zerolog.Nop()})

	n, err := w.Poll(ctx)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected one handled message, got %d", n)
	}
	if len(sender.inputs) != 1 || sender.inputs[0].APIKey != "sk-live" || sender.inputs[0].UserID != "u1" {
		t.Fatalf("unexpected gateway input %+v", sender.inputs)
	}

	res, err := results.Get(ctx, "u1", "t1")
	if err != nil {
		t.Fatalf("get result: %v", err)
	}
	if res.Status != queue.StatusDone {
		t.Fatalf("expected done, got %q", res.Status)
	}
	var out gateway.Output
	if err := json.Unmarshal(res.Output, &out); err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if !out.Success || out.AIResponse.Response != "echo: Hello" {
		t.Fatalf("unexpected output %+v", out)
	}

	n, err = w.Poll(ctx)
	if err != nil {
		t.Fatalf("second poll: %v", err)
	}
	if n != 0 {
		t.Fatalf("acked message was delivered again")
	}
}

// cancellingSender simulates a shutdown signal arriving mid turn.
type cancellingSender struct {
	stubSender
	cancel context.CancelFunc
}

func (s *cancellingSender) SendMessage(ctx context.Context, in gateway.Input) gateway.Output {
	s.cancel()
	return s.stubSender.SendMessage(ctx, in)
}

func TestPollFinishesJobWhenShutdownStartsMidTurn(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	bg := context.Background()
	q := queue.NewStreamQueue(rdb, "turns", "workers", "c1", 10*time.Millisecond)
	if err := q.EnsureGroup(bg); err != nil {
		t.Fatalf("ensure group: %v", err)
	}
	results := queue.NewResultStore(rdb, time.Minute)
	if _, err := q.Enqueue(bg, queue.TurnJob{TurnID: "t1", UserID: "u1", Prompt: "Hello", Tool: "FreeTool"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	ctx, cancel := context.WithCancel(bg)
	defer cancel()
	w := New(Config{Sender: &cancellingSender{cancel: cancel}, Queue: q, Results: results, Logger: zerolog.Nop()})
	if _, err := w.Poll(ctx); err != nil {
		t.Fatalf("poll: %v", err)
	}

	res, err := results.Get(bg, "u1", "t1")
	if err != nil || res.Status != queue.StatusDone {
		t.Fatalf("result not stored after cancel: %+v %v", res, err)
	}
	pending, err := rdb.XPending(bg, "turns", "workers").Result()
	if err != nil {
		t.Fatalf("xpending: %v", err)
	}
	if pending.Count != 0 {
		t.Fatalf("message left unacked: %d pending", pending.Count)
	}
}

func TestProcessRejectsBadSeal(t *testing.T) {
	sender := &stubSender{}
	w := New(Config{Sender: sender, Opener: newSealer(t), Logger: zerolog.Nop()})

	out := w.Process(context.Background(), queue.TurnJob{TurnID: "t1", UserID: "u1", Prompt: "x", Tool: "GPT", SealedKey: "v1.k1.AAAA"})
	if out.Success || out.Kind != gateway.KindConfiguration {
		t.Fatalf("expected configuration failure, got %+v", out)
	}
	if len(sender.inputs) != 0 {
		t.Fatalf("gateway should not run without a credential")
	}
}

func TestProcessWithoutKey(t *testing.T) {
	sender := &stubSender{}
	w := New(Config{Sender: sender, Logger: zerolog.Nop()})

	out := w.Process(context.Background(), queue.TurnJob{TurnID: "t1", UserID: "u1", Prompt: "x", Tool: "FreeTool"})
	if !out.Success {
		t.Fatalf("expected success, got %+v", out)
	}
	if sender.inputs[0].APIKey != "" {
		t.Fatalf("unexpected credential")
	}
}
