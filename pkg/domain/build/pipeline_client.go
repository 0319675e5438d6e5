package build

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/TencentBlueKing/bkpaas/pkg/configs/platform"
	domerr "github.com/TencentBlueKing/bkpaas/pkg/domain/errors"
	xe "github.com/TencentBlueKing/bkpaas/pkg/errors"
)

// PipelineBuild identifies a build started on the pipeline engine.
type PipelineBuild struct {
	BuildID string `json:"buildId"`

	// id of the job which runs the builder plugin.
	JobID string `json:"jobId"`
}

// PipelineLog is a log entry of a pipeline build.
type PipelineLog struct {
	LineNo  int64  `json:"lineNo"`
	Message string `json:"message"`
	Tag     string `json:"tag"`
	JobID   string `json:"jobId"`
}

// PipelineClient talks to the pipeline engine.
type PipelineClient interface {
	Start(ctx context.Context, templateID string, params map[string]string) (PipelineBuild, error)

	// Status returns the status of the build, like "RUNNING" or "SUCCEED".
	Status(ctx context.Context, buildID string) (string, error)

	Stop(ctx context.Context, buildID string) error

	// Logs returns all log entries of the build.
	Logs(ctx context.Context, buildID string) ([]PipelineLog, error)
}

// HTTPPipelineClient is a PipelineClient over the HTTP API of the pipeline engine.
//
// Requests are rate limited. 5xx responses and transport errors open the circuit.
type HTTPPipelineClient struct {
	base    *url.URL
	token   string
	client  *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

var _ PipelineClient = &HTTPPipelineClient{}

type PipelineClientOption func(*HTTPPipelineClient) *HTTPPipelineClient

func WithPipelineHTTPClient(c *http.Client) PipelineClientOption {
	return func(h *HTTPPipelineClient) *HTTPPipelineClient {
		h.client = c
		return h
	}
}

func WithPipelineBreaker(s gobreaker.Settings) PipelineClientOption {
	return func(h *HTTPPipelineClient) *HTTPPipelineClient {
		s.Name = "pipeline"
		h.breaker = gobreaker.NewCircuitBreaker(s)
		return h
	}
}

func NewHTTPPipelineClient(conf *platform.PipelineConfig, options ...PipelineClientOption) (*HTTPPipelineClient, error) {
	base, err := url.Parse(conf.URL())
	if err != nil {
		return nil, xe.Wrap(err)
	}
	h := &HTTPPipelineClient{
		base:    base,
		token:   conf.Token(),
		client:  &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(conf.RateLimit()), 1),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "pipeline",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
	}
	for _, opt := range options {
		h = opt(h)
	}
	return h, nil
}

type pipelineStatusError struct {
	code int
	body string
}

func (p *pipelineStatusError) Error() string {
	return fmt.Sprintf("status %d: %s", p.code, p.body)
}

func (h *HTTPPipelineClient) do(ctx context.Context, method string, path string, body any, out any) error {
	if err := h.limiter.Wait(ctx); err != nil {
		return xe.Wrap(err)
	}

	var payload []byte
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return xe.Wrap(err)
		}
		payload = buf
	}

	var clientErr *pipelineStatusError
	_, err := h.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, method, h.base.JoinPath(path).String(), bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+h.token)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		resp, err := h.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		data, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
		if err != nil {
			return nil, err
		}
		switch {
		case resp.StatusCode >= 500:
			return nil, &pipelineStatusError{code: resp.StatusCode, body: string(data)}
		case resp.StatusCode >= 400:
			clientErr = &pipelineStatusError{code: resp.StatusCode, body: string(data)}
			return nil, nil
		}
		if out != nil && len(data) != 0 {
			if err := json.Unmarshal(data, out); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if clientErr != nil {
		return xe.Wrap(&domerr.Upstream{Service: "pipeline", Retryable: false, Cause: clientErr})
	}
	if err != nil {
		return xe.Wrap(&domerr.Upstream{Service: "pipeline", Retryable: true, Cause: err})
	}
	return nil
}

func (h *HTTPPipelineClient) Start(ctx context.Context, templateID string, params map[string]string) (PipelineBuild, error) {
	resp := PipelineBuild{}
	if err := h.do(
		ctx, http.MethodPost, "/api/v1/templates/"+url.PathEscape(templateID)+"/builds",
		map[string]any{"params": params}, &resp,
	); err != nil {
		return PipelineBuild{}, err
	}
	if resp.BuildID == "" {
		return PipelineBuild{}, xe.Wrap(&domerr.Upstream{Service: "pipeline", Cause: fmt.Errorf("no build id is returned")})
	}
	return resp, nil
}

func (h *HTTPPipelineClient) Status(ctx context.Context, buildID string) (string, error) {
	resp := struct {
		Status string `json:"status"`
	}{}
	if err := h.do(ctx, http.MethodGet, "/api/v1/builds/"+url.PathEscape(buildID)+"/status", nil, &resp); err != nil {
		return "", err
	}
	return resp.Status, nil
}

func (h *HTTPPipelineClient) Stop(ctx context.Context, buildID string) error {
	return h.do(ctx, http.MethodPost, "/api/v1/builds/"+url.PathEscape(buildID)+"/stop", nil, nil)
}

func (h *HTTPPipelineClient) Logs(ctx context.Context, buildID string) ([]PipelineLog, error) {
	resp := struct {
		Logs []PipelineLog `json:"logs"`
	}{}
	if err := h.do(ctx, http.MethodGet, "/api/v1/builds/"+url.PathEscape(buildID)+"/logs", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Logs, nil
}
