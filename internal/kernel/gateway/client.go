package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/time/rate"

	"github.com/GriffinCanCode/varinspector/internal/infrastructure/resilience"
)

// ErrKernelNotFound is returned when the gateway does not know a kernel id.
var ErrKernelNotFound = errors.New("kernel not found")

// KernelModel is the gateway's description of a running kernel.
type KernelModel struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	LastActivity   string `json:"last_activity,omitempty"`
	ExecutionState string `json:"execution_state,omitempty"`
	Connections    int    `json:"connections,omitempty"`
}

// StatusError is a non-2xx gateway response.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("gateway %s %s: status %d: %s", e.Method, e.Path, e.Code, e.Body)
}

// ClientConfig configures the REST client.
type ClientConfig struct {
	BaseURL    string
	Token      string
	Timeout    time.Duration
	MaxRetries int
	// RequestsPerSecond limits REST calls; zero means unlimited.
	RequestsPerSecond float64
}

// Client talks to the kernel REST API of a Jupyter server or kernel gateway.
type Client struct {
	baseURL *url.URL
	token   string

	resty   *resty.Client
	limiter *rate.Limiter
	breaker *resilience.Breaker
}

// NewClient creates a REST client. Transient failures are retried by the
// transport; repeated failures open a circuit breaker.
func NewClient(cfg ClientConfig) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid gateway url %q: %w", cfg.BaseURL, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid gateway url %q: scheme must be http or https", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = cfg.MaxRetries
	retryClient.RetryWaitMin = 100 * time.Millisecond
	retryClient.RetryWaitMax = 2 * time.Second
	retryClient.Logger = nil
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler

	restyClient := resty.NewWithClient(retryClient.StandardClient()).
		SetBaseURL(base.String()).
		SetTimeout(cfg.Timeout).
		SetHeader("User-Agent", "varinspector/1.0").
		SetHeader("Accept", "application/json").
		SetJSONMarshaler(sonic.Marshal).
		SetJSONUnmarshaler(sonic.Unmarshal)
	if cfg.Token != "" {
		restyClient.SetHeader("Authorization", "token "+cfg.Token)
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	breaker := resilience.New("kernel-gateway", resilience.Settings{
		Threshold: 5,
		Cooldown:  15 * time.Second,
		IsFailure: func(err error) bool {
			if errors.Is(err, ErrKernelNotFound) || errors.Is(err, context.Canceled) {
				return false
			}
			var se *StatusError
			// 4xx answers come from a healthy gateway
			return !errors.As(err, &se) || se.Code >= 500
		},
	})

	return &Client{
		baseURL: base,
		token:   cfg.Token,
		resty:   restyClient,
		limiter: rate.NewLimiter(limit, 1),
		breaker: breaker,
	}, nil
}

// ListKernels returns the kernels running on the gateway.
func (c *Client) ListKernels(ctx context.Context) ([]KernelModel, error) {
	var kernels []KernelModel
	err := c.do(ctx, http.MethodGet, "/api/kernels", nil, &kernels)
	return kernels, err
}

// GetKernel returns the kernel with the given id.
func (c *Client) GetKernel(ctx context.Context, id string) (*KernelModel, error) {
	var model KernelModel
	if err := c.do(ctx, http.MethodGet, "/api/kernels/"+url.PathEscape(id), nil, &model); err != nil {
		return nil, err
	}
	return &model, nil
}

// StartKernel starts a kernel from the named kernelspec.
func (c *Client) StartKernel(ctx context.Context, name string) (*KernelModel, error) {
	var model KernelModel
	body := map[string]string{"name": name}
	if err := c.do(ctx, http.MethodPost, "/api/kernels", body, &model); err != nil {
		return nil, err
	}
	return &model, nil
}

// RestartKernel restarts the kernel process keeping its id.
func (c *Client) RestartKernel(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/api/kernels/"+url.PathEscape(id)+"/restart", nil, nil)
}

// ShutdownKernel stops the kernel.
func (c *Client) ShutdownKernel(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/kernels/"+url.PathEscape(id), nil, nil)
}

// ChannelsURL returns the websocket URL of a kernel's channels endpoint.
func (c *Client) ChannelsURL(kernelID, sessionID string) string {
	u := *c.baseURL
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/api/kernels/" + url.PathEscape(kernelID) + "/channels"
	u.RawQuery = url.Values{"session_id": {sessionID}}.Encode()
	return u.String()
}

// Header returns the headers needed to open the channels websocket.
func (c *Client) Header() http.Header {
	h := http.Header{}
	if c.token != "" {
		h.Set("Authorization", "token "+c.token)
	}
	return h
}

// Breaker exposes the client's circuit breaker state.
func (c *Client) Breaker() *resilience.Breaker {
	return c.breaker
}

func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	return c.breaker.Do(func() error {
		req := c.resty.R().SetContext(ctx)
		if body != nil {
			req.SetBody(body)
		}
		if result != nil {
			req.SetResult(result)
		}

		resp, err := req.Execute(method, path)
		if err != nil {
			return fmt.Errorf("gateway %s %s: %w", method, path, err)
		}
		if resp.StatusCode() == http.StatusNotFound {
			return fmt.Errorf("%w: %s", ErrKernelNotFound, path)
		}
		if resp.IsError() {
			return &StatusError{
				Method: method,
				Path:   path,
				Code:   resp.StatusCode(),
				Body:   strings.TrimSpace(resp.String()),
			}
		}
		return nil
	})
}
