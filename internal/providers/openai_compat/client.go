package openai_compat

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"aichat/internal/providers"
)

type Config struct {
	Tool       providers.ToolID
	BaseURL    string
	Model      string
	Endpoint   string
	AuthHeader string
	AuthScheme string
	Headers    map[string]string
}

// Descriptor speaks the chat-completions (or responses) dialect used by
// OpenAI and the providers that copy it.
type Descriptor struct {
	cfg Config
}

func New(cfg Config) *Descriptor {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "chat_completions"
	}
	if cfg.AuthHeader == "" {
		cfg.AuthHeader = "Authorization"
		if cfg.AuthScheme == "" {
			cfg.AuthScheme = "Bearer"
		}
	}
	return &Descriptor{cfg: cfg}
}

var _ providers.Descriptor = (*Descriptor)(nil)

func (d *Descriptor) Tool() providers.ToolID { return d.cfg.Tool }

func (d *Descriptor) RequiresCredential() bool { return true }

func (d *Descriptor) Endpoint(_ providers.Options) (string, error) {
	base := strings.TrimSpace(d.cfg.BaseURL)
	if base == "" {
		return "", fmt.Errorf("base url is empty")
	}
	if strings.HasSuffix(base, "/chat/completions") || strings.HasSuffix(base, "/responses") {
		return base, nil
	}

	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	path := strings.TrimSuffix(u.Path, "/")
	if isResponsesEndpoint(d.cfg.Endpoint) {
		u.Path = path + "/responses"
	} else {
		u.Path = path + "/chat/completions"
	}
	return u.String(), nil
}

func (d *Descriptor) BuildRequest(prompt string, opts providers.Options) (providers.OutboundRequest, error) {
	endpoint, err := d.Endpoint(opts)
	if err != nil {
		return providers.OutboundRequest{}, err
	}
	body, err := d.buildPayload(prompt)
	if err != nil {
		return providers.OutboundRequest{}, err
	}

	headers := map[string]string{"Content-Type": "application/json"}
	for k, v := range d.cfg.Headers {
		headers[k] = v
	}
	if key := strings.TrimSpace(opts.Credential); key != "" {
		value := key
		if d.cfg.AuthScheme != "" {
			value = d.cfg.AuthScheme + " " + key
		}
		headers[d.cfg.AuthHeader] = value
	}

	return providers.OutboundRequest{
		Tool:     d.cfg.Tool,
		Method:   http.MethodPost,
		Endpoint: endpoint,
		Headers:  headers,
		Body:     body,
	}, nil
}

func (d *Descriptor) buildPayload(prompt string) ([]byte, error) {
	if isResponsesEndpoint(d.cfg.Endpoint) {
		payload := map[string]any{
			"model": d.cfg.Model,
			"input": []map[string]any{
				{"role": "user", "content": prompt},
			},
		}
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal responses payload: %w", err)
		}
		return b, nil
	}

	payload := map[string]any{
		"model": d.cfg.Model,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal chat completion payload: %w", err)
	}
	return b, nil
}

func (d *Descriptor) ParseResponse(raw []byte) providers.Parsed {
	body := providers.Repair(raw)
	if body == nil {
		return providers.Parse(raw, "")
	}
	if isResponsesEndpoint(d.cfg.Endpoint) {
		return providers.Parse(raw, parseResponsesAPI(body))
	}
	return providers.Parse(raw, parseChatCompletions(body))
}

func parseChatCompletions(body []byte) string {
	var resp struct {
		Choices []struct {
			Message struct {
				Content any `json:"content"`
			} `json:"message"`
			Text string `json:"text"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &resp); err != nil || len(resp.Choices) == 0 {
		return ""
	}
	if resp.Choices[0].Text != "" {
		return resp.Choices[0].Text
	}
	return providers.AnyToText(resp.Choices[0].Message.Content)
}

func parseResponsesAPI(body []byte) string {
	var resp struct {
		OutputText string `json:"output_text"`
		Output     []struct {
			Content []struct {
				Text string `json:"text"`
			} `json:"content"`
		} `json:"output"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return ""
	}
	if strings.TrimSpace(resp.OutputText) != "" {
		return resp.OutputText
	}
	if len(resp.Output) > 0 && len(resp.Output[0].Content) > 0 {
		return resp.Output[0].Content[0].Text
	}
	return ""
}

func isResponsesEndpoint(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	return v == "responses" || v == "/v1/responses"
}
