package gemini

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"aichat/internal/providers"
)

const (
	defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta/models"
	defaultModel   = "gemini-1.5-flash"
)

type Config struct {
	Tool    providers.ToolID
	BaseURL string
	Model   string
}

// Descriptor targets the generateContent API. The credential travels as the
// `key` query parameter rather than a header.
type Descriptor struct {
	cfg Config
}

func New(cfg Config) *Descriptor {
	if cfg.Tool == "" {
		cfg.Tool = providers.ToolGemini
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = defaultModel
	}
	return &Descriptor{cfg: cfg}
}

var _ providers.Descriptor = (*Descriptor)(nil)

func (d *Descriptor) Tool() providers.ToolID { return d.cfg.Tool }

func (d *Descriptor) RequiresCredential() bool { return true }

func (d *Descriptor) Endpoint(opts providers.Options) (string, error) {
	u, err := url.Parse(strings.TrimRight(strings.TrimSpace(d.cfg.BaseURL), "/"))
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	if !strings.HasSuffix(u.Path, ":generateContent") {
		u.Path = u.Path + "/" + d.cfg.Model + ":generateContent"
	}
	if key := strings.TrimSpace(opts.Credential); key != "" {
		q := u.Query()
		q.Set("key", key)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func (d *Descriptor) BuildRequest(prompt string, opts providers.Options) (providers.OutboundRequest, error) {
	endpoint, err := d.Endpoint(opts)
	if err != nil {
		return providers.OutboundRequest{}, err
	}
	payload := map[string]any{
		"contents": []map[string]any{
			{"parts": []map[string]string{{"text": prompt}}},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return providers.OutboundRequest{}, fmt.Errorf("marshal generate content payload: %w", err)
	}
	return providers.OutboundRequest{
		Tool:     d.cfg.Tool,
		Method:   http.MethodPost,
		Endpoint: endpoint,
		Headers:  map[string]string{"Content-Type": "application/json"},
		Body:     body,
	}, nil
}

func (d *Descriptor) ParseResponse(raw []byte) providers.Parsed {
	body := providers.Repair(raw)
	if body == nil {
		return providers.Parse(raw, "")
	}
	var resp struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return providers.Parse(raw, "")
	}
	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return providers.Parse(raw, "")
	}
	return providers.Parse(raw, resp.Candidates[0].Content.Parts[0].Text)
}
