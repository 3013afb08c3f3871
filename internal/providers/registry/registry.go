package registry

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"aichat/internal/providers"
	"aichat/internal/providers/custom_http"
	"aichat/internal/providers/gemini"
	"aichat/internal/providers/openai_compat"
)

var ErrUnsupportedTool = errors.New("unsupported tool")

type BuildOptions struct {
	Tool         providers.ToolID
	Kind         string
	BaseURL      string
	Model        string
	Endpoint     string
	Path         string
	InputField   string
	Extra        map[string]any
	ResponseKeys []string
	AuthHeader   string
	AuthScheme   string
	Headers      map[string]string
	BodyTemplate string
	Keyless      bool
	AllowHost    bool
}

func Build(opts BuildOptions) (providers.Descriptor, error) {
	if strings.TrimSpace(string(opts.Tool)) == "" {
		return nil, fmt.Errorf("provider tool id is empty")
	}
	switch opts.Kind {
	case "openai_compat", "openai-compatible", "openai":
		return openai_compat.New(openai_compat.Config{
			Tool:       opts.Tool,
			BaseURL:    opts.BaseURL,
			Model:      opts.Model,
			Endpoint:   opts.Endpoint,
			AuthHeader: opts.AuthHeader,
			AuthScheme: opts.AuthScheme,
			Headers:    opts.Headers,
		}), nil

	case "gemini":
		return gemini.New(gemini.Config{
			Tool:    opts.Tool,
			BaseURL: opts.BaseURL,
			Model:   opts.Model,
		}), nil

	case "custom_http", "custom-http":
		return custom_http.New(custom_http.Config{
			Tool:         opts.Tool,
			URL:          opts.BaseURL,
			Path:         opts.Path,
			Model:        opts.Model,
			InputField:   opts.InputField,
			Extra:        opts.Extra,
			ResponseKeys: opts.ResponseKeys,
			AuthHeader:   opts.AuthHeader,
			AuthScheme:   opts.AuthScheme,
			Headers:      opts.Headers,
			BodyTemplate: opts.BodyTemplate,
			Keyless:      opts.Keyless,
			AllowHost:    opts.AllowHost,
		})

	default:
		return nil, fmt.Errorf("unsupported provider kind %q", opts.Kind)
	}
}

// Registry maps tool ids to their descriptors. It is filled once at startup
// and read concurrently afterwards.
type Registry struct {
	descriptors map[providers.ToolID]providers.Descriptor
	mock        providers.ToolID
}

func New(mock providers.ToolID) *Registry {
	return &Registry{
		descriptors: map[providers.ToolID]providers.Descriptor{},
		mock:        mock,
	}
}

func (r *Registry) Register(d providers.Descriptor) error {
	tool := d.Tool()
	if tool == providers.ToolAuto || tool == r.mock {
		return fmt.Errorf("tool id %q is reserved", tool)
	}
	if _, exists := r.descriptors[tool]; exists {
		return fmt.Errorf("tool %q already registered", tool)
	}
	r.descriptors[tool] = d
	return nil
}

func (r *Registry) Lookup(tool providers.ToolID) (providers.Descriptor, bool) {
	d, ok := r.descriptors[tool]
	return d, ok
}

func (r *Registry) IsMock(tool providers.ToolID) bool {
	return r.mock != "" && tool == r.mock
}

func (r *Registry) Mock() providers.ToolID {
	return r.mock
}

// Tools lists registered tool ids in name order, without Auto or the mock.
func (r *Registry) Tools() []providers.ToolID {
	out := make([]providers.ToolID, 0, len(r.descriptors))
	for tool := range r.descriptors {
		out = append(out, tool)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ResolveEndpoint returns ErrUnsupportedTool for unknown tools and the
// descriptor's error when its endpoint cannot be built.
func (r *Registry) ResolveEndpoint(tool providers.ToolID, opts providers.Options) (string, error) {
	d, ok := r.descriptors[tool]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedTool, tool)
	}
	endpoint, err := d.Endpoint(opts)
	if err != nil {
		return "", fmt.Errorf("resolve %s endpoint: %w", tool, err)
	}
	return endpoint, nil
}

func (r *Registry) BuildRequest(tool providers.ToolID, prompt string, opts providers.Options) (providers.OutboundRequest, error) {
	d, ok := r.descriptors[tool]
	if !ok {
		return providers.OutboundRequest{}, fmt.Errorf("%w: %s", ErrUnsupportedTool, tool)
	}
	return d.BuildRequest(prompt, opts)
}

func (r *Registry) ParseResponse(tool providers.ToolID, raw []byte) providers.Parsed {
	d, ok := r.descriptors[tool]
	if !ok {
		return providers.Parsed{
			Response: fmt.Sprintf("Unsupported tool for parsing: %s", tool),
			Raw:      providers.RawValue(raw),
		}
	}
	return d.ParseResponse(raw)
}
