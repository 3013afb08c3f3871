package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"aichat/internal/gateway"
	"aichat/internal/queue"
)

type Sender interface {
	SendMessage(ctx context.Context, in gateway.Input) gateway.Output
}

type Opener interface {
	Open(sealed, binding string) (string, error)
}

type Queue interface {
	EnsureGroup(ctx context.Context) error
	Read(ctx context.Context, count int64) ([]queue.Message, error)
	Ack(ctx context.Context, messageID string) error
}

type Results interface {
	Put(ctx context.Context, userID, turnID string, v any) error
}

// Worker runs queued turns through the gateway. A job is attempted once;
// its outcome, success or not, is stored and the message acked.
type Worker struct {
	sender  Sender
	queue   Queue
	results Results
	opener  Opener
	logger  zerolog.Logger
}

type Config struct {
	Sender  Sender
	Queue   Queue
	Results Results
	Opener  Opener
	Logger  zerolog.Logger
}

func New(cfg Config) *Worker {
	return &Worker{
		sender:  cfg.Sender,
		queue:   cfg.Queue,
		results: cfg.Results,
		opener:  cfg.Opener,
		logger:  cfg.Logger,
	}
}

func (w *Worker) Start(ctx context.Context, concurrency int) error {
	if err := w.queue.EnsureGroup(ctx); err != nil {
		return err
	}
	if concurrency < 1 {
		concurrency = 1
	}

	wg := sync.WaitGroup{}
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			w.consumeLoop(ctx, slot)
		}(i)
	}

	<-ctx.Done()
	wg.Wait()
	return nil
}

func (w *Worker) consumeLoop(ctx context.Context, slot int) {
	log := w.logger.With().Int("slot", slot).Logger()
	for {
		if err := ctx.Err(); err != nil {
			return
		}
		if _, err := w.Poll(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error().Err(err).Msg("failed to read queue")
			time.Sleep(1 * time.Second)
		}
	}
}

// Poll reads and handles at most one message. It reports how many it handled.
func (w *Worker) Poll(ctx context.Context) (int, error) {
	messages, err := w.queue.Read(ctx, 1)
	if err != nil {
		return 0, err
	}
	// A job that was read is finished, stored and acked even during shutdown.
	ctx = context.WithoutCancel(ctx)
	for _, msg := range messages {
		log := w.logger.With().Str("turn_id", msg.Job.TurnID).Str("user_id", msg.Job.UserID).Logger()
		out := w.Process(ctx, msg.Job)
		if err := w.results.Put(ctx, msg.Job.UserID, msg.Job.TurnID, out); err != nil {
			log.Error().Err(err).Msg("failed to store turn result")
		}
		if err := w.queue.Ack(ctx, msg.ID); err != nil {
			log.Error().Err(err).Str("msg_id", msg.ID).Msg("failed to ack message")
		}
		if !out.Success {
			log.Warn().Str("kind", string(out.Kind)).Msg("async turn failed")
		}
	}
	return len(messages), nil
}

func (w *Worker) Process(ctx context.Context, job queue.TurnJob) gateway.Output {
	apiKey, err := w.openKey(job)
	if err != nil {
		w.logger.Error().Err(err).Str("turn_id", job.TurnID).Msg("failed to open sealed credential")
		return gateway.Output{
			Success: false,
			Error:   "Credential could not be read.",
			Kind:    gateway.KindConfiguration,
		}
	}
	return w.sender.SendMessage(ctx, gateway.Input{
		Prompt:     job.Prompt,
		Tool:       job.Tool,
		UserID:     job.UserID,
		APIKey:     apiKey,
		OllamaHost: job.OllamaHost,
	})
}

func (w *Worker) openKey(job queue.TurnJob) (string, error) {
	if job.SealedKey == "" {
		return "", nil
	}
	if w.opener == nil {
		return "", fmt.Errorf("no opener configured")
	}
	return w.opener.Open(job.SealedKey, job.TurnID)
}
