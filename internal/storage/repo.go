package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
)

// AppendMessages inserts records in one statement. Records are never updated.
func (s *Store) AppendMessages(ctx context.Context, msgs ...Message) error {
	if len(msgs) == 0 {
		return nil
	}
	q := s.sql.Insert("messages").
		Columns("id", "user_id", "tool", "input", "provider_parsed", "provider_raw", "created_at")
	for _, m := range msgs {
		if strings.TrimSpace(m.ID) == "" || strings.TrimSpace(m.UserID) == "" {
			return fmt.Errorf("message id and user id are required")
		}
		q = q.Values(m.ID, m.UserID, m.Tool, m.Input, m.ProviderParsed, m.ProviderRaw, m.CreatedAt.UTC())
	}

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build append messages query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("append messages: %w", err)
	}
	return nil
}

// ListMessages returns a user's records oldest first. On equal timestamps the
// user-side record sorts before the AI-side one. limit <= 0 means no limit.
func (s *Store) ListMessages(ctx context.Context, userID string, limit int) ([]Message, error) {
	q := s.sql.Select("id", "user_id", "tool", "input", "provider_parsed", "provider_raw", "created_at").
		From("messages").
		Where(sq.Eq{"user_id": userID}).
		OrderBy("created_at ASC", "input IS NULL ASC", "id ASC")
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list messages query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	out := make([]Message, 0)
	for rows.Next() {
		var m Message
		var input, parsed, raw sql.NullString
		if err := rows.Scan(&m.ID, &m.UserID, &m.Tool, &input, &parsed, &raw, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		if input.Valid {
			m.Input = &input.String
		}
		if parsed.Valid {
			m.ProviderParsed = &parsed.String
		}
		if raw.Valid {
			m.ProviderRaw = &raw.String
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message rows: %w", err)
	}
	return out, nil
}

// ClearHistory deletes every record of a user.
func (s *Store) ClearHistory(ctx context.Context, userID string) (int64, error) {
	q := s.sql.Delete("messages").Where(sq.Eq{"user_id": userID})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build clear history query: %w", err)
	}
	res, err := s.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return 0, fmt.Errorf("clear history: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("clear history rows affected: %w", err)
	}
	return n, nil
}

// History reconstructs a user's turns.
func (s *Store) History(ctx context.Context, userID string) ([]Turn, error) {
	msgs, err := s.ListMessages(ctx, userID, 0)
	if err != nil {
		return nil, err
	}
	return PairTurns(msgs), nil
}

// PairTurns walks records in order. A user record opens a turn and the next
// AI record closes it; an AI record with no open turn becomes a turn with an
// empty prompt.
func PairTurns(msgs []Message) []Turn {
	out := make([]Turn, 0, len(msgs)/2+1)
	open := -1
	for _, m := range msgs {
		if m.IsUser() {
			out = append(out, Turn{
				UserID:    m.UserID,
				Prompt:    *m.Input,
				Tool:      m.Tool,
				CreatedAt: m.CreatedAt,
			})
			open = len(out) - 1
			continue
		}
		if open < 0 {
			out = append(out, Turn{UserID: m.UserID, Tool: m.Tool, CreatedAt: m.CreatedAt})
			open = len(out) - 1
		}
		t := &out[open]
		t.AnsweredBy = m.Tool
		if m.ProviderParsed != nil {
			t.Response = *m.ProviderParsed
		}
		if m.ProviderRaw != nil {
			t.Raw = *m.ProviderRaw
		}
		open = -1
	}
	return out
}

func (s *Store) LogAction(ctx context.Context, e AuditEntry) error {
	if strings.TrimSpace(e.MetaJSON) == "" {
		e.MetaJSON = "{}"
	}
	if !json.Valid([]byte(e.MetaJSON)) {
		e.MetaJSON = "{}"
	}

	q := s.sql.Insert("audit_log").
		Columns("user_id", "action", "meta_json").
		Values(e.UserID, e.Action, e.MetaJSON)
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build audit insert query: %w", err)
	}
	_, err = s.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// CountActions returns how many audit rows a user has for action.
func (s *Store) CountActions(ctx context.Context, userID, action string) (int64, error) {
	q := s.sql.Select("COUNT(*)").From("audit_log").Where(sq.Eq{"user_id": userID, "action": action})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build count actions query: %w", err)
	}
	var n int64
	if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count actions: %w", err)
	}
	return n, nil
}
