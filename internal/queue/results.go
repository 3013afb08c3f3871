package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	StatusPending = "pending"
	StatusDone    = "done"
)

var ErrUnknownTurn = errors.New("unknown turn")

type TurnResult struct {
	Status string          `json:"status"`
	Output json.RawMessage `json:"result,omitempty"`
}

// ResultStore keeps the outcome of async turns until the TTL runs out.
// Results are scoped to the user that submitted the turn.
type ResultStore struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewResultStore(rdb *redis.Client, ttl time.Duration) *ResultStore {
	return &ResultStore{redis: rdb, ttl: ttl}
}

func (s *ResultStore) MarkPending(ctx context.Context, userID, turnID string) error {
	return s.write(ctx, userID, turnID, TurnResult{Status: StatusPending})
}

// Put stores v, marshalled to JSON, as the finished result of turnID.
func (s *ResultStore) Put(ctx context.Context, userID, turnID string, v any) error {
	out, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal turn result: %w", err)
	}
	return s.write(ctx, userID, turnID, TurnResult{Status: StatusDone, Output: out})
}

func (s *ResultStore) Get(ctx context.Context, userID, turnID string) (TurnResult, error) {
	raw, err := s.redis.Get(ctx, resultKey(userID, turnID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return TurnResult{}, ErrUnknownTurn
		}
		return TurnResult{}, fmt.Errorf("get turn result: %w", err)
	}
	var res TurnResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return TurnResult{}, fmt.Errorf("decode turn result: %w", err)
	}
	return res, nil
}

func (s *ResultStore) write(ctx context.Context, userID, turnID string, res TurnResult) error {
	b, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshal turn result: %w", err)
	}
	if err := s.redis.Set(ctx, resultKey(userID, turnID), b, s.ttl).Err(); err != nil {
		return fmt.Errorf("set turn result: %w", err)
	}
	return nil
}

func resultKey(userID, turnID string) string {
	return fmt.Sprintf("aichat:result:%s:%s", userID, turnID)
}
