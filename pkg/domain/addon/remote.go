package addon

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/sony/gobreaker"

	"github.com/TencentBlueKing/bkpaas/pkg/configs/platform"
	"github.com/TencentBlueKing/bkpaas/pkg/domain"
	domerr "github.com/TencentBlueKing/bkpaas/pkg/domain/errors"
	xe "github.com/TencentBlueKing/bkpaas/pkg/errors"
)

// RemoteBroker provisions instances through the HTTP API of a service broker.
//
// Requests carry a short-lived HS256 bearer token.
// Consecutive failures open the circuit, and requests fail fast until it recovers.
type RemoteBroker struct {
	name    string
	base    *url.URL
	secret  []byte
	issuer  string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
}

type RemoteBrokerOption func(*RemoteBroker) *RemoteBroker

func WithHTTPClient(c *http.Client) RemoteBrokerOption {
	return func(r *RemoteBroker) *RemoteBroker {
		r.client = c
		return r
	}
}

// WithBreakerSettings replaces the circuit breaker. Name is set to the broker name.
func WithBreakerSettings(s gobreaker.Settings) RemoteBrokerOption {
	return func(r *RemoteBroker) *RemoteBroker {
		s.Name = r.name
		r.breaker = gobreaker.NewCircuitBreaker(s)
		return r
	}
}

func NewRemoteBroker(conf *platform.BrokerConfig, options ...RemoteBrokerOption) (*RemoteBroker, error) {
	base, err := url.Parse(conf.URL())
	if err != nil {
		return nil, xe.Wrap(err)
	}
	r := &RemoteBroker{
		name:   conf.Name(),
		base:   base,
		secret: conf.JWTSecret(),
		issuer: conf.JWTIssuer(),
		client: &http.Client{Timeout: conf.Timeout()},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    conf.Name(),
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
	}
	for _, opt := range options {
		r = opt(r)
	}
	return r, nil
}

var _ Broker = &RemoteBroker{}

func (r *RemoteBroker) token() (string, error) {
	now := time.Now()
	return jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Issuer:    r.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(5 * time.Minute)),
	}).SignedString(r.secret)
}

// statusError is a non-2xx response.
type statusError struct {
	code int
	body string
}

func (s *statusError) Error() string {
	return fmt.Sprintf("status %d: %s", s.code, s.body)
}

// do sends a request through the circuit breaker, and decodes the response into out (if not nil).
//
// Client errors (4xx) do not count as failures of the broker.
func (r *RemoteBroker) do(ctx context.Context, method string, path string, body any, out any) error {
	var payload []byte
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return xe.Wrap(err)
		}
		payload = buf
	}

	var clientErr *statusError
	_, err := r.breaker.Execute(func() (any, error) {
		token, err := r.token()
		if err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, method, r.base.JoinPath(path).String(), bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := r.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return nil, err
		}
		switch {
		case resp.StatusCode >= 500:
			return nil, &statusError{code: resp.StatusCode, body: string(data)}
		case resp.StatusCode >= 400:
			clientErr = &statusError{code: resp.StatusCode, body: string(data)}
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
		if clientErr.code == http.StatusNotFound {
			return xe.Wrap(fmt.Errorf("broker %s: %w", r.name, domerr.ErrNotFound))
		}
		return xe.Wrap(&domerr.Upstream{Service: "broker " + r.name, Retryable: false, Cause: clientErr})
	}
	if err != nil {
		return xe.Wrap(&domerr.Upstream{
			Service:   "broker " + r.name,
			Retryable: true,
			Cause:     err,
		})
	}
	return nil
}

type provisionBody struct {
	PlanID string            `json:"plan_id"`
	Params map[string]string `json:"params"`
}

type provisionResponse struct {
	InstanceID  string            `json:"instance_id"`
	Credentials map[string]string `json:"credentials"`
	Config      struct {
		// credentials are enabled unless the broker says no.
		CredentialsEnabled *bool             `json:"credentials_enabled"`
		RecycleOnDelete    bool              `json:"recycle_on_delete"`
		Extra              map[string]string `json:"extra"`
	} `json:"config"`
}

func (r *RemoteBroker) Provision(ctx context.Context, req ProvisionRequest) (Provisioned, error) {
	body := provisionBody{
		PlanID: req.Plan.ID,
		Params: map[string]string{
			"app_code":        req.AppCode,
			"module":          req.Module,
			"env":             string(req.Stage),
			"engine_app_name": req.WorkloadApp,
			"egress_info":     req.EgressInfo,
		},
	}
	resp := provisionResponse{}
	if err := r.do(ctx, http.MethodPost, "/services/"+url.PathEscape(req.Service.ID)+"/instances/", body, &resp); err != nil {
		return Provisioned{}, err
	}
	config := domain.InstanceConfig{
		CredentialsEnabled: resp.Config.CredentialsEnabled == nil || *resp.Config.CredentialsEnabled,
		RecycleOnDelete:    resp.Config.RecycleOnDelete,
		Extra:              resp.Config.Extra,
	}
	return Provisioned{InstanceID: resp.InstanceID, Credentials: resp.Credentials, Config: config}, nil
}

// Deprovision deletes the instance. Instances already gone are not errors.
func (r *RemoteBroker) Deprovision(ctx context.Context, service domain.AddonService, instance domain.ServiceInstance) error {
	path := "/services/" + url.PathEscape(service.ID) + "/instances/" + url.PathEscape(instance.ID) + "/"
	err := r.do(ctx, http.MethodDelete, path, nil, nil)
	if errors.Is(err, domerr.ErrNotFound) {
		return nil
	}
	return err
}
