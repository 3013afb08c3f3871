package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"aichat/internal/providers"
)

// Kind classifies why a turn failed.
type Kind string

const (
	KindUnauthenticated    Kind = "Unauthenticated"
	KindInvalidInput       Kind = "InvalidInput"
	KindUnsupportedTool    Kind = "UnsupportedTool"
	KindProviderError      Kind = "ProviderError"
	KindConfiguration      Kind = "ConfigurationError"
	KindHistoryUnavailable Kind = "HistoryUnavailable"
	// KindAuditWrite is logged and counted, never returned to callers.
	KindAuditWrite Kind = "AuditWriteError"
)

type Error struct {
	Kind   Kind
	Tool   providers.ToolID
	Status int
	// Body is the provider's error payload, byte for byte.
	Body string
	Msg  string
	Err  error
}

func (e *Error) Error() string { return e.Msg }

func (e *Error) Unwrap() error { return e.Err }

var ErrUnauthenticated = &Error{Kind: KindUnauthenticated, Msg: "User not authenticated."}

// KindOf reports the Kind carried by err, or ProviderError for foreign errors.
func KindOf(err error) Kind {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind
	}
	return KindProviderError
}

func unsupportedTool(tool providers.ToolID) *Error {
	return &Error{Kind: KindUnsupportedTool, Tool: tool, Msg: fmt.Sprintf("Unsupported tool: %s", tool)}
}

func configurationError(tool providers.ToolID, err error) *Error {
	return &Error{Kind: KindConfiguration, Tool: tool, Msg: fmt.Sprintf("%s configuration error: %v", tool, err), Err: err}
}

func transportError(tool providers.ToolID, err error) *Error {
	return &Error{Kind: KindProviderError, Tool: tool, Msg: fmt.Sprintf("%s API error: %v", tool, err), Err: err}
}

// providerError keeps the upstream status and body. The message uses the
// provider's own error text when the body carries one.
func providerError(tool providers.ToolID, status int, body []byte) *Error {
	return &Error{
		Kind:   KindProviderError,
		Tool:   tool,
		Status: status,
		Body:   string(body),
		Msg:    fmt.Sprintf("%s API error: %d %s", tool, status, providerDetail(status, body)),
	}
}

func providerDetail(status int, body []byte) string {
	var envelope map[string]any
	if err := json.Unmarshal(body, &envelope); err == nil {
		switch e := envelope["error"].(type) {
		case map[string]any:
			if msg, ok := e["message"].(string); ok && strings.TrimSpace(msg) != "" {
				return msg
			}
		case string:
			if strings.TrimSpace(e) != "" {
				return e
			}
		}
		if msg, ok := envelope["message"].(string); ok && strings.TrimSpace(msg) != "" {
			return msg
		}
	}
	if text := strings.TrimSpace(string(body)); text != "" {
		return text
	}
	return http.StatusText(status)
}
