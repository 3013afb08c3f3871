package gateway

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"aichat/internal/audit"
	"aichat/internal/metrics"
	"aichat/internal/providers"
	"aichat/internal/redact"
)

// State names a step of one turn. Failed is reachable from every state
// before Done.
type State string

const (
	StateIdle           State = "Idle"
	StateAuthenticating State = "Authenticating"
	StateAutoDispatch   State = "AutoDispatch"
	StateMockDispatch   State = "MockDispatch"
	StateManualDispatch State = "ManualDispatch"
	StateNormalizing    State = "Normalizing"
	StateAuditing       State = "Auditing"
	StateDone           State = "Done"
	StateFailed         State = "Failed"
)

type Input struct {
	Prompt     string `json:"prompt"`
	Tool       string `json:"tool"`
	UserID     string `json:"userId"`
	APIKey     string `json:"apiKey,omitempty"`
	OllamaHost string `json:"ollamaHost,omitempty"`
}

type Output struct {
	Success    bool                  `json:"success"`
	AIResponse *providers.Normalized `json:"aiResponse,omitempty"`
	Error      string                `json:"error,omitempty"`
	Kind       Kind                  `json:"kind,omitempty"`
}

// Selector answers a turn in Auto mode, choosing the tool itself.
type Selector interface {
	Select(ctx context.Context, query, userID string, opts providers.Options) (providers.Normalized, error)
}

type Auditor interface {
	Record(ctx context.Context, e audit.Entry) error
}

type Gateway struct {
	dispatcher *Dispatcher
	selector   Selector
	redactor   *redact.Redactor
	auditor    Auditor
	history    HistoryReader
	logger     zerolog.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
}

// Config wires the gateway. Selector, Auditor and History may be nil; the
// operations that need them then fail with ConfigurationError, except the
// audit write which is only logged.
type Config struct {
	Dispatcher *Dispatcher
	Selector   Selector
	Redactor   *redact.Redactor
	Auditor    Auditor
	History    HistoryReader
	Logger     zerolog.Logger
	Metrics    *metrics.Metrics
	Now        func() time.Time
}

func New(cfg Config) *Gateway {
	if cfg.Redactor == nil {
		cfg.Redactor = redact.New(redact.LevelBasic)
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Global()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Gateway{
		dispatcher: cfg.Dispatcher,
		selector:   cfg.Selector,
		redactor:   cfg.Redactor,
		auditor:    cfg.Auditor,
		history:    cfg.History,
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
		now:        cfg.Now,
	}
}

type turn struct {
	state  State
	tool   providers.ToolID
	secret string
	logger zerolog.Logger
}

func (t *turn) to(s State) {
	t.logger.Debug().Str("from", string(t.state)).Str("state", string(s)).Msg("turn transition")
	t.state = s
}

// SendMessage runs one chat turn and never returns a Go error: every failure
// is reported through Output. A turn runs to Done or Failed even if the
// caller goes away; ctx only carries values.
func (g *Gateway) SendMessage(ctx context.Context, in Input) Output {
	ctx = context.WithoutCancel(ctx)
	tool := providers.ToolID(strings.TrimSpace(in.Tool))
	t := &turn{
		state:  StateIdle,
		tool:   tool,
		secret: strings.TrimSpace(in.APIKey),
		logger: g.logger.With().Str("user_id", in.UserID).Str("tool", string(tool)).Logger(),
	}

	if strings.TrimSpace(in.UserID) == "" {
		return g.fail(t, ErrUnauthenticated)
	}
	t.to(StateAuthenticating)

	if strings.TrimSpace(in.Prompt) == "" {
		return g.fail(t, &Error{Kind: KindInvalidInput, Tool: tool, Msg: "Prompt is required."})
	}

	opts := providers.Options{Credential: in.APIKey, Host: in.OllamaHost}
	answer, err := g.answer(ctx, t, in.UserID, in.Prompt, opts)
	if err != nil {
		return g.fail(t, err)
	}

	t.to(StateAuditing)
	g.record(ctx, t, in.UserID, in.Prompt, answer)

	t.to(StateDone)
	g.metrics.Turns.WithLabelValues(string(tool), "success").Inc()
	t.logger.Info().Str("answered_by", string(answer.Tool)).Msg("turn completed")
	return Output{Success: true, AIResponse: &answer}
}

func (g *Gateway) answer(ctx context.Context, t *turn, userID, prompt string, opts providers.Options) (providers.Normalized, error) {
	if g.dispatcher == nil {
		return providers.Normalized{}, configurationError(t.tool, fmt.Errorf("no dispatcher"))
	}
	reg := g.dispatcher.Registry()

	switch {
	case t.tool == providers.ToolAuto:
		t.to(StateAutoDispatch)
		if g.selector == nil {
			return providers.Normalized{}, &Error{Kind: KindConfiguration, Tool: t.tool, Msg: "Auto selection is not configured."}
		}
		answer, err := g.selector.Select(ctx, prompt, userID, opts)
		if err != nil {
			return providers.Normalized{}, &Error{
				Kind: KindProviderError,
				Tool: providers.ToolAuto,
				Msg:  fmt.Sprintf("Auto API error: %v", err),
				Err:  err,
			}
		}
		if _, ok := reg.Lookup(answer.Tool); !ok && !reg.IsMock(answer.Tool) {
			return providers.Normalized{}, &Error{
				Kind: KindProviderError,
				Tool: providers.ToolAuto,
				Msg:  fmt.Sprintf("Auto API error: selected unknown tool %q", answer.Tool),
			}
		}
		if strings.TrimSpace(answer.Response) == "" {
			answer.Response = providers.NoResponse
		}
		return answer, nil

	case reg.IsMock(t.tool):
		t.to(StateMockDispatch)
		return g.dispatcher.Mock(prompt), nil

	default:
		t.to(StateManualDispatch)
		answer, err := g.dispatcher.Dispatch(ctx, t.tool, prompt, opts)
		if err != nil {
			return providers.Normalized{}, err
		}
		t.to(StateNormalizing)
		return answer, nil
	}
}

// record writes the turn to history. Failures are absorbed.
func (g *Gateway) record(ctx context.Context, t *turn, userID, prompt string, answer providers.Normalized) {
	redacted := g.redactor.Redact(prompt)
	var err error
	if g.auditor == nil {
		err = fmt.Errorf("%w: no audit store configured", audit.ErrWrite)
	} else {
		err = g.auditor.Record(ctx, audit.Entry{
			UserID:         userID,
			Tool:           t.tool,
			RedactedPrompt: redacted,
			Answer:         answer,
			At:             g.now(),
		})
	}
	if err != nil {
		g.metrics.AuditFailures.Inc()
		t.logger.Warn().Err(err).Str("kind", string(KindAuditWrite)).Int("prompt_len", len(redacted)).Msg("failed to record turn")
	}
}

func (g *Gateway) fail(t *turn, err error) Output {
	kind := KindOf(err)
	t.to(StateFailed)
	label := string(t.tool)
	if kind == KindUnsupportedTool || kind == KindUnauthenticated {
		label = "none"
	}
	g.metrics.Turns.WithLabelValues(label, string(kind)).Inc()

	ev := t.logger.Warn().Str("kind", string(kind))
	if ge, ok := err.(*Error); ok && ge.Status != 0 {
		ev = ev.Int("status", ge.Status)
	}
	ev.Msg(maskSecret(err.Error(), t.secret))
	return Output{Success: false, Error: err.Error(), Kind: kind}
}

func maskSecret(msg, secret string) string {
	if secret == "" {
		return msg
	}
	return strings.ReplaceAll(msg, secret, "<redacted-key>")
}
