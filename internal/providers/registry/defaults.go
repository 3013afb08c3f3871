package registry

import (
	"fmt"

	"aichat/internal/providers"
)

func defaultOptions() []BuildOptions {
	return []BuildOptions{
		{Tool: providers.ToolGPT, Kind: "openai_compat", BaseURL: "https://api.openai.com/v1", Model: "gpt-4o-mini"},
		{Tool: providers.ToolGemini, Kind: "gemini", Model: "gemini-1.5-flash"},
		{Tool: providers.ToolDeepseek, Kind: "openai_compat", BaseURL: "https://api.deepseek.com", Model: "deepseek-chat"},
		{Tool: providers.ToolGrok, Kind: "openai_compat", BaseURL: "https://api.x.ai/v1", Model: "grok-beta"},
		{Tool: providers.ToolOpenRouter, Kind: "openai_compat", BaseURL: "https://openrouter.ai/api/v1", Model: "openrouter/auto"},
		{Tool: providers.ToolPurplexcity, Kind: "custom_http", BaseURL: "https://api.perplexcity.ai/v1/respond", InputField: "input"},
		{
			Tool:         providers.ToolCohere,
			Kind:         "custom_http",
			BaseURL:      "https://api.cohere.ai/v1/chat",
			Model:        "command-r",
			InputField:   "message",
			ResponseKeys: []string{"text"},
		},
		{
			Tool:         providers.ToolOllama,
			Kind:         "custom_http",
			BaseURL:      "http://localhost:11434",
			Path:         "/api/generate",
			Model:        "llama3",
			InputField:   "prompt",
			Extra:        map[string]any{"stream": false},
			ResponseKeys: []string{"response"},
			Keyless:      true,
			AllowHost:    true,
		},
	}
}

// Default registers the built-in providers, applying overrides on top.
// Overrides for unknown tools register new providers and must name a Kind.
func Default(overrides []BuildOptions) (*Registry, error) {
	opts := defaultOptions()
	index := make(map[providers.ToolID]int, len(opts))
	for i, o := range opts {
		index[o.Tool] = i
	}
	for _, o := range overrides {
		i, ok := index[o.Tool]
		if !ok {
			index[o.Tool] = len(opts)
			opts = append(opts, o)
			continue
		}
		opts[i] = merge(opts[i], o)
	}

	r := New(providers.ToolFree)
	for _, o := range opts {
		d, err := Build(o)
		if err != nil {
			return nil, fmt.Errorf("build provider %s: %w", o.Tool, err)
		}
		if err := r.Register(d); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func merge(base, o BuildOptions) BuildOptions {
	if o.Kind != "" {
		base.Kind = o.Kind
	}
	if o.BaseURL != "" {
		base.BaseURL = o.BaseURL
	}
	if o.Model != "" {
		base.Model = o.Model
	}
	if o.Endpoint != "" {
		base.Endpoint = o.Endpoint
	}
	if o.Path != "" {
		base.Path = o.Path
	}
	if o.InputField != "" {
		base.InputField = o.InputField
	}
	if len(o.Extra) > 0 {
		base.Extra = o.Extra
	}
	if len(o.ResponseKeys) > 0 {
		base.ResponseKeys = o.ResponseKeys
	}
	if o.AuthHeader != "" {
		base.AuthHeader = o.AuthHeader
		base.AuthScheme = o.AuthScheme
	}
	if len(o.Headers) > 0 {
		base.Headers = o.Headers
	}
	if o.BodyTemplate != "" {
		base.BodyTemplate = o.BodyTemplate
	}
	return base
}
