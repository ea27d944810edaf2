package attestation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"cctp-bridge/pkg/types"
)

const (
	// DefaultBaseURL is Circle's mainnet Iris API
	DefaultBaseURL = "https://iris-api.circle.com/v1"
	// MaxRequestsPerSecond stays under the Iris limit of 35 requests per second
	MaxRequestsPerSecond = 35

	defaultTimeout = 30 * time.Second
)

// Config represents attestation client configuration
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Client fetches CCTP attestations from the Iris API.
// It holds no per-transfer state and can be shared between transfers.
type Client struct {
	config         Config
	httpClient     *http.Client
	circuitBreaker *gobreaker.CircuitBreaker
	rateLimiter    *rate.Limiter
	logger         *zap.Logger
}

// NewClient creates a new Iris API client
func NewClient(config Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	cbSettings := gobreaker.Settings{
		Name:        "IrisAPI",
		MaxRequests: 5,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Info("attestation circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	}

	return &Client{
		config:         config,
		httpClient:     &http.Client{Timeout: config.Timeout},
		circuitBreaker: gobreaker.NewCircuitBreaker(cbSettings),
		rateLimiter:    rate.NewLimiter(rate.Limit(MaxRequestsPerSecond), 1),
		logger:         logger,
	}
}

// BaseURL returns the API root the client talks to
func (c *Client) BaseURL() string {
	return c.config.BaseURL
}

// FetchAttestation performs a single lookup of the attestation for a burn transaction.
// A 404 yields a NotFound record and no error.
func (c *Client) FetchAttestation(ctx context.Context, domain types.Domain, txID string) (types.AttestationRecord, error) {
	endpoint := fmt.Sprintf("/messages/%d/%s", uint32(domain), url.PathEscape(txID))

	body, status, err := c.doRequest(ctx, endpoint)
	if err != nil {
		return types.AttestationRecord{
			Domain:        domain,
			TransactionID: txID,
			Status:        types.AttestationError,
			Reason:        err.Error(),
		}, err
	}

	if status == http.StatusNotFound {
		c.logger.Debug("attestation not indexed yet",
			zap.Stringer("domain", domain),
			zap.String("tx", txID))
		return types.AttestationRecord{
			Domain:        domain,
			TransactionID: txID,
			Status:        types.AttestationNotFound,
		}, nil
	}

	return ParsePayload(domain, txID, body)
}

func (c *Client) doRequest(ctx context.Context, endpoint string) ([]byte, int, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, 0, fmt.Errorf("rate limiter: %w", ctxErr)
		}
		return nil, 0, &ServiceError{Err: fmt.Errorf("rate limiter: %w", err)}
	}

	var status int
	result, err := c.circuitBreaker.Execute(func() (interface{}, error) {
		body, code, err := c.doRequestInternal(ctx, endpoint)
		status = code
		return body, err
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, 0, ctxErr
		}
		var svcErr *ServiceError
		if errors.As(err, &svcErr) {
			return nil, status, err
		}
		return nil, status, &ServiceError{Err: err}
	}

	body, _ := result.([]byte)
	return body, status, nil
}

func (c *Client) doRequestInternal(ctx context.Context, endpoint string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+endpoint, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read body: %w", err)
	}

	// Not indexed yet is an expected answer and must not trip the breaker
	if resp.StatusCode == http.StatusNotFound {
		return nil, resp.StatusCode, nil
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, resp.StatusCode, &ServiceError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	return body, resp.StatusCode, nil
}
