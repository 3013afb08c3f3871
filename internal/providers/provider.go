package providers

import (
	"encoding/json"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// ToolID names one upstream provider, the Auto mode or the mock.
type ToolID string

const (
	ToolAuto        ToolID = "Auto"
	ToolFree        ToolID = "FreeTool"
	ToolGPT         ToolID = "GPT"
	ToolGemini      ToolID = "Gemini"
	ToolDeepseek    ToolID = "Deepseek"
	ToolGrok        ToolID = "Grok"
	ToolPurplexcity ToolID = "Purplexcity"
	ToolOllama      ToolID = "Ollama"
	ToolOpenRouter  ToolID = "OpenRouter"
	ToolCohere      ToolID = "Cohere"
)

// NoResponse replaces the answer text when a payload does not carry it.
const NoResponse = "No response"

// Options carries the per-call inputs a descriptor may use.
type Options struct {
	Credential string
	// Host overrides the base URL for providers that accept a caller supplied host.
	Host string
}

// OutboundRequest is built fresh for every call.
type OutboundRequest struct {
	Tool     ToolID
	Method   string
	Endpoint string
	Headers  map[string]string
	Body     []byte
}

// Parsed is the descriptor level result of reading a provider payload.
type Parsed struct {
	Response string
	Raw      any
}

// Normalized is the common answer shape handed back to callers.
type Normalized struct {
	Tool        ToolID `json:"tool"`
	Response    string `json:"response"`
	RawResponse any    `json:"rawResponse,omitempty"`
}

// Descriptor is the wire contract of one provider.
type Descriptor interface {
	Tool() ToolID
	RequiresCredential() bool
	Endpoint(opts Options) (string, error)
	BuildRequest(prompt string, opts Options) (OutboundRequest, error)
	ParseResponse(raw []byte) Parsed
}

// RawValue returns raw as a decoded JSON value, or as a string when it is not JSON.
func RawValue(raw []byte) any {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	return v
}

// Repair returns raw when it is valid JSON, a repaired copy when it can be
// fixed, and nil otherwise.
func Repair(raw []byte) []byte {
	if json.Valid(raw) {
		return raw
	}
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" {
		return nil
	}
	fixed, err := jsonrepair.JSONRepair(trimmed)
	if err != nil || !json.Valid([]byte(fixed)) {
		return nil
	}
	return []byte(fixed)
}

// Parse builds a Parsed value, falling back to NoResponse for blank text.
func Parse(raw []byte, text string) Parsed {
	if strings.TrimSpace(text) == "" {
		text = NoResponse
	}
	return Parsed{Response: text, Raw: RawValue(raw)}
}

// AnyToText flattens string or content-part array values.
func AnyToText(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []any:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			if m, ok := item.(map[string]any); ok {
				if txt, ok := m["text"].(string); ok {
					parts = append(parts, txt)
				}
			}
		}
		return strings.Join(parts, "\n")
	default:
		return ""
	}
}
