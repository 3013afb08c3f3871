// Package audit writes the two history records of a turn.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"aichat/internal/providers"
	"aichat/internal/storage"
)

var ErrWrite = errors.New("audit write failed")

type Store interface {
	AppendMessages(ctx context.Context, msgs ...storage.Message) error
}

// Entry describes one finished turn. Prompt must already be redacted.
type Entry struct {
	UserID         string
	Tool           providers.ToolID
	RedactedPrompt string
	Answer         providers.Normalized
	At             time.Time
}

type Logger struct {
	store Store
	newID func() string
}

type Config struct {
	Store Store
	NewID func() string
}

func New(cfg Config) *Logger {
	if cfg.NewID == nil {
		cfg.NewID = func() string { return uuid.NewString() }
	}
	return &Logger{store: cfg.Store, newID: cfg.NewID}
}

// Record appends the user-side then the AI-side record. Every failure is
// returned wrapped in ErrWrite.
func (l *Logger) Record(ctx context.Context, e Entry) error {
	if l == nil || l.store == nil {
		return fmt.Errorf("%w: no store configured", ErrWrite)
	}
	raw, err := stringifyRaw(e.Answer.RawResponse)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWrite, err)
	}
	prompt := e.RedactedPrompt
	parsed := e.Answer.Response
	at := e.At.UTC()

	user := storage.Message{
		ID:        l.newID(),
		UserID:    e.UserID,
		Tool:      string(e.Tool),
		Input:     &prompt,
		CreatedAt: at,
	}
	ai := storage.Message{
		ID:             l.newID(),
		UserID:         e.UserID,
		Tool:           string(e.Answer.Tool),
		ProviderParsed: &parsed,
		ProviderRaw:    &raw,
		CreatedAt:      at,
	}
	if err := l.store.AppendMessages(ctx, user, ai); err != nil {
		return fmt.Errorf("%w: %v", ErrWrite, err)
	}
	return nil
}

func stringifyRaw(v any) (string, error) {
	switch t := v.(type) {
	case nil:
		return "", nil
	case string:
		return t, nil
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return "", fmt.Errorf("marshal raw response: %w", err)
		}
		return string(b), nil
	}
}
