package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"cctp-bridge/pkg/types"
)

const defaultTimeout = 30 * time.Second

var (
	// ErrPending means the relay accepted the request but has not minted yet
	ErrPending = errors.New("relay mint pending")
	// ErrRelayFailed covers transport errors, non-2xx answers and malformed bodies
	ErrRelayFailed = errors.New("relay mint request failed")
)

// ErrorResponse represents a relay error response
type ErrorResponse struct {
	StatusCode int    `json:"-"`
	Message    string `json:"message"`
	Error_     string `json:"error"`
}

func (e *ErrorResponse) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Error_
	}
	return fmt.Sprintf("relay API error [%d]: %s", e.StatusCode, msg)
}

func (e *ErrorResponse) Unwrap() error {
	return ErrRelayFailed
}

// Request asks the relay to mint a burn on the destination chain
type Request struct {
	Signature      string `json:"signature"`
	SourceDomain   uint32 `json:"sourceDomain"`
	FinalRecipient string `json:"finalRecipient"`
}

type mintResponse struct {
	Data struct {
		Pending     bool `json:"pending"`
		Transaction *struct {
			Hash           string `json:"hash"`
			FinalRecipient string `json:"finalRecipient"`
		} `json:"transaction"`
	} `json:"data"`
}

// Result is a completed relay mint
type Result struct {
	TransactionID  string
	FinalRecipient string
}

// Client posts mint requests to the relay endpoint
type Client struct {
	endpoint   string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a relay client for the given endpoint
func NewClient(endpoint string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger:     logger,
	}
}

// RequestMint posts one mint request. It returns ErrPending while the relay is still working.
func (c *Client) RequestMint(ctx context.Context, req Request) (Result, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Result{}, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, ctxErr
		}
		return Result{}, fmt.Errorf("%w: %w", ErrRelayFailed, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("%w: read body: %w", ErrRelayFailed, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errResp := &ErrorResponse{StatusCode: resp.StatusCode}
		if json.Unmarshal(data, errResp) != nil || (errResp.Message == "" && errResp.Error_ == "") {
			errResp.Message = string(data)
		}
		return Result{}, errResp
	}

	var out mintResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return Result{}, fmt.Errorf("%w: unmarshal response: %w", ErrRelayFailed, err)
	}

	if out.Data.Transaction != nil && out.Data.Transaction.Hash != "" {
		c.logger.Debug("relay minted",
			zap.String("burn", req.Signature),
			zap.String("tx", out.Data.Transaction.Hash))
		recipient := out.Data.Transaction.FinalRecipient
		if recipient == "" {
			recipient = req.FinalRecipient
		}
		return Result{TransactionID: out.Data.Transaction.Hash, FinalRecipient: recipient}, nil
	}

	if out.Data.Pending || out.Data.Transaction == nil {
		return Result{}, ErrPending
	}
	return Result{}, fmt.Errorf("%w: response has neither transaction nor pending flag", ErrRelayFailed)
}

// NewRequest builds a relay request for a burn
func NewRequest(burnTx string, source types.Domain, recipient string) Request {
	return Request{
		Signature:      burnTx,
		SourceDomain:   uint32(source),
		FinalRecipient: recipient,
	}
}
