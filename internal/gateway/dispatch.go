package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"aichat/internal/metrics"
	"aichat/internal/providers"
	"aichat/internal/providers/mock"
	"aichat/internal/providers/registry"
)

type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Dispatcher runs one provider call: build the request, send it, normalize
// the reply. It never retries.
type Dispatcher struct {
	registry *registry.Registry
	client   Doer
	logger   zerolog.Logger
	metrics  *metrics.Metrics
}

type DispatcherConfig struct {
	Registry   *registry.Registry
	HTTPClient Doer
	Logger     zerolog.Logger
	Metrics    *metrics.Metrics
}

func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Global()
	}
	return &Dispatcher{
		registry: cfg.Registry,
		client:   cfg.HTTPClient,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
	}
}

func (d *Dispatcher) Registry() *registry.Registry {
	return d.registry
}

// Mock answers for the reserved mock tool without looking at any credential.
func (d *Dispatcher) Mock(prompt string) providers.Normalized {
	return mock.Respond(d.registry.Mock(), prompt)
}

func (d *Dispatcher) Dispatch(ctx context.Context, tool providers.ToolID, prompt string, opts providers.Options) (providers.Normalized, error) {
	if d.registry.IsMock(tool) {
		return d.Mock(prompt), nil
	}
	if _, err := d.registry.ResolveEndpoint(tool, opts); err != nil {
		if errors.Is(err, registry.ErrUnsupportedTool) {
			return providers.Normalized{}, unsupportedTool(tool)
		}
		return providers.Normalized{}, configurationError(tool, err)
	}

	out, err := d.registry.BuildRequest(tool, prompt, opts)
	if err != nil {
		if errors.Is(err, registry.ErrUnsupportedTool) {
			return providers.Normalized{}, unsupportedTool(tool)
		}
		return providers.Normalized{}, configurationError(tool, err)
	}

	body, err := d.call(ctx, out)
	if err != nil {
		return providers.Normalized{}, err
	}

	parsed := d.registry.ParseResponse(tool, body)
	if parsed.Response == providers.NoResponse {
		d.logger.Warn().Str("tool", string(tool)).Int("bytes", len(body)).Msg("provider payload did not match known shape")
	}
	return providers.Normalized{
		Tool:        tool,
		Response:    parsed.Response,
		RawResponse: parsed.Raw,
	}, nil
}

func (d *Dispatcher) call(ctx context.Context, out providers.OutboundRequest) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, out.Method, out.Endpoint, bytes.NewReader(out.Body))
	if err != nil {
		return nil, configurationError(out.Tool, fmt.Errorf("build request: %w", err))
	}
	for k, v := range out.Headers {
		req.Header.Set(k, v)
	}

	started := time.Now()
	resp, err := d.client.Do(req)
	d.metrics.ProviderLatency.WithLabelValues(string(out.Tool)).Observe(time.Since(started).Seconds())
	if err != nil {
		// url errors echo the endpoint, which may hold a key query param.
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return nil, transportError(out.Tool, fmt.Errorf("request failed: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, transportError(out.Tool, fmt.Errorf("read response body: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		d.logger.Warn().
			Str("tool", string(out.Tool)).
			Int("status", resp.StatusCode).
			Msg("provider returned non-success status")
		return nil, providerError(out.Tool, resp.StatusCode, body)
	}
	return body, nil
}
