package custom_http

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"text/template"

	"aichat/internal/providers"
)

type Config struct {
	Tool         providers.ToolID
	URL          string
	Path         string
	Model        string
	InputField   string
	Extra        map[string]any
	ResponseKeys []string
	AuthHeader   string
	AuthScheme   string
	Headers      map[string]string
	BodyTemplate string
	Method       string
	// Keyless providers answer without a credential.
	Keyless bool
	// AllowHost lets the caller replace URL with their own host.
	AllowHost bool
}

// Descriptor covers providers that take the prompt in one flat body field.
type Descriptor struct {
	cfg Config
	tpl *template.Template
}

func New(cfg Config) (*Descriptor, error) {
	if cfg.Method == "" {
		cfg.Method = http.MethodPost
	}
	if cfg.InputField == "" {
		cfg.InputField = "input"
	}
	if cfg.AuthHeader == "" {
		cfg.AuthHeader = "Authorization"
		if cfg.AuthScheme == "" {
			cfg.AuthScheme = "Bearer"
		}
	}
	d := &Descriptor{cfg: cfg}
	if strings.TrimSpace(cfg.BodyTemplate) != "" {
		tpl, err := template.New("custom_http_body").
			Option("missingkey=zero").
			Funcs(template.FuncMap{"json": jsonString}).
			Parse(cfg.BodyTemplate)
		if err != nil {
			return nil, fmt.Errorf("parse body template: %w", err)
		}
		d.tpl = tpl
	}
	return d, nil
}

var _ providers.Descriptor = (*Descriptor)(nil)

func (d *Descriptor) Tool() providers.ToolID { return d.cfg.Tool }

func (d *Descriptor) RequiresCredential() bool { return !d.cfg.Keyless }

func (d *Descriptor) Endpoint(opts providers.Options) (string, error) {
	base := strings.TrimSpace(d.cfg.URL)
	if d.cfg.AllowHost && strings.TrimSpace(opts.Host) != "" {
		base = strings.TrimSpace(opts.Host)
	}
	if base == "" {
		return "", fmt.Errorf("custom http url is empty")
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if d.cfg.Path != "" && !strings.HasSuffix(u.Path, d.cfg.Path) {
		u.Path = strings.TrimSuffix(u.Path, "/") + d.cfg.Path
	}
	return u.String(), nil
}

func (d *Descriptor) BuildRequest(prompt string, opts providers.Options) (providers.OutboundRequest, error) {
	endpoint, err := d.Endpoint(opts)
	if err != nil {
		return providers.OutboundRequest{}, err
	}
	body, err := d.renderBody(prompt)
	if err != nil {
		return providers.OutboundRequest{}, err
	}

	headers := map[string]string{"Content-Type": "application/json"}
	for k, v := range d.cfg.Headers {
		if strings.Contains(v, "{{api_key}}") && strings.TrimSpace(opts.Credential) == "" {
			continue
		}
		headers[k] = strings.ReplaceAll(v, "{{api_key}}", opts.Credential)
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
		Method:   d.cfg.Method,
		Endpoint: endpoint,
		Headers:  headers,
		Body:     body,
	}, nil
}

func (d *Descriptor) renderBody(prompt string) ([]byte, error) {
	if d.tpl == nil {
		payload := make(map[string]any, len(d.cfg.Extra)+2)
		for k, v := range d.cfg.Extra {
			payload[k] = v
		}
		if d.cfg.Model != "" {
			payload["model"] = d.cfg.Model
		}
		payload[d.cfg.InputField] = prompt
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal custom payload: %w", err)
		}
		return b, nil
	}

	var buf bytes.Buffer
	if err := d.tpl.Execute(&buf, map[string]any{
		"Model":  d.cfg.Model,
		"Prompt": prompt,
	}); err != nil {
		return nil, fmt.Errorf("execute body template: %w", err)
	}
	return buf.Bytes(), nil
}

func (d *Descriptor) ParseResponse(raw []byte) providers.Parsed {
	return providers.Parse(raw, extractText(raw, d.cfg.ResponseKeys))
}

func extractText(raw []byte, keys []string) string {
	body := providers.Repair(raw)
	if body == nil {
		return ""
	}
	var simple map[string]any
	if err := json.Unmarshal(body, &simple); err != nil {
		return ""
	}

	if len(keys) == 0 {
		keys = []string{"text", "response", "answer", "output_text"}
	}
	for _, key := range keys {
		if v, ok := simple[key].(string); ok && strings.TrimSpace(v) != "" {
			return v
		}
	}

	if msg, ok := simple["message"].(map[string]any); ok {
		if content, ok := msg["content"].(string); ok && strings.TrimSpace(content) != "" {
			return content
		}
	}

	if choices, ok := simple["choices"].([]any); ok && len(choices) > 0 {
		if c0, ok := choices[0].(map[string]any); ok {
			if msg, ok := c0["message"].(map[string]any); ok {
				if content, ok := msg["content"].(string); ok && strings.TrimSpace(content) != "" {
					return content
				}
			}
			if text, ok := c0["text"].(string); ok && strings.TrimSpace(text) != "" {
				return text
			}
		}
	}

	if out, ok := simple["output"].([]any); ok && len(out) > 0 {
		if o0, ok := out[0].(map[string]any); ok {
			if content, ok := o0["content"].([]any); ok && len(content) > 0 {
				if c0, ok := content[0].(map[string]any); ok {
					if text, ok := c0["text"].(string); ok && strings.TrimSpace(text) != "" {
						return text
					}
				}
			}
		}
	}

	return ""
}

func jsonString(v string) string {
	b, _ := json.Marshal(v)
	return string(b)
}
