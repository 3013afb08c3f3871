package gateway

import (
	"context"
	"fmt"
	"strings"

	"aichat/internal/providers"
	"aichat/internal/storage"
)

const noHistory = "No history to summarize."

type HistoryReader interface {
	History(ctx context.Context, userID string) ([]storage.Turn, error)
}

type SummaryInput struct {
	UserID     string `json:"userId"`
	Tool       string `json:"tool"`
	APIKey     string `json:"apiKey,omitempty"`
	OllamaHost string `json:"ollamaHost,omitempty"`
}

// SummarizeHistory asks a tool for a digest of the user's stored turns. The
// summary itself is not written back to history.
func (g *Gateway) SummarizeHistory(ctx context.Context, in SummaryInput) Output {
	ctx = context.WithoutCancel(ctx)
	tool := providers.ToolID(strings.TrimSpace(in.Tool))
	t := &turn{
		state:  StateIdle,
		tool:   tool,
		secret: strings.TrimSpace(in.APIKey),
		logger: g.logger.With().Str("user_id", in.UserID).Str("tool", string(tool)).Str("op", "summary").Logger(),
	}
	if strings.TrimSpace(in.UserID) == "" {
		return g.fail(t, ErrUnauthenticated)
	}
	t.to(StateAuthenticating)

	if g.history == nil {
		return g.fail(t, &Error{Kind: KindConfiguration, Tool: tool, Msg: "Chat history is not configured."})
	}
	turns, err := g.history.History(ctx, in.UserID)
	if err != nil {
		return g.fail(t, &Error{Kind: KindHistoryUnavailable, Tool: tool, Msg: "Failed to load chat history.", Err: err})
	}
	if len(turns) == 0 {
		return Output{Success: true, AIResponse: &providers.Normalized{Tool: tool, Response: noHistory}}
	}

	opts := providers.Options{Credential: in.APIKey, Host: in.OllamaHost}
	answer, err := g.answer(ctx, t, in.UserID, summaryPrompt(turns), opts)
	if err != nil {
		return g.fail(t, err)
	}
	t.to(StateDone)
	return Output{Success: true, AIResponse: &answer}
}

func summaryPrompt(turns []storage.Turn) string {
	var b strings.Builder
	b.WriteString("You are an AI assistant tasked with summarizing chat histories for users.\n\n")
	b.WriteString("Given the chat history below, provide a concise summary of the conversation, ")
	b.WriteString("including key topics discussed, decisions made, and any important action items.\n\n")
	b.WriteString("Chat History:\n")
	for _, t := range turns {
		if t.Prompt != "" {
			fmt.Fprintf(&b, "User: %s\n", t.Prompt)
		}
		if t.Response != "" {
			who := t.AnsweredBy
			if who == "" {
				who = t.Tool
			}
			fmt.Fprintf(&b, "AI (%s): %s\n", who, t.Response)
		}
	}
	b.WriteString("\nSummary:\n")
	return b.String()
}
