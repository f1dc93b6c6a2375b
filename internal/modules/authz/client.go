// Package authz is the HTTP client for the blockchain-backed authorization
// service. The service owns issuance and revocation; this process only ever
// observes the results. Every call carries a bounded timeout; a timeout is a
// failure, never an open wait.
package authz

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rakshanetra/core/internal/pkg/apperr"
	"go.uber.org/zap"
)

const defaultTimeout = 5 * time.Second

// Client talks to the authorization service.
type Client struct {
	base   string
	http   *http.Client
	logger *zap.Logger
}

// New creates a Client for the given base URL.
func New(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		base:   strings.TrimRight(baseURL, "/"),
		http:   &http.Client{Timeout: timeout},
		logger: logger.Named("AuthzClient"),
	}
}

// ListRequests fetches the pending access request queue.
func (c *Client) ListRequests(ctx context.Context) ([]PendingRequest, error) {
	var out []PendingRequest
	if err := c.do(ctx, http.MethodGet, "/get_requests", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SubmitRequest queues an access request on behalf of a principal.
func (c *Client) SubmitRequest(ctx context.Context, req PendingRequest) error {
	if req.UserAddress == "" {
		return apperr.Validation("user address is required")
	}
	if req.Resource == "" {
		return apperr.Validation("resource is required")
	}
	if req.DurationSeconds < 1 {
		return apperr.Validation("duration must be at least 1 second")
	}
	return c.do(ctx, http.MethodPost, "/request_access", req, nil)
}

// Grant asks the service to issue a token on chain. The returned token id is
// assigned by the smart contract event log.
func (c *Client) Grant(ctx context.Context, userAddress, resource string, durationSeconds int64) (*GrantResult, error) {
	if userAddress == "" {
		return nil, apperr.Validation("user address is required")
	}
	if resource == "" {
		return nil, apperr.Validation("resource is required")
	}
	if durationSeconds < 1 {
		return nil, apperr.Validation("duration must be at least 1 second")
	}

	var out GrantResult
	err := c.do(ctx, http.MethodPost, "/grant_access", grantRequest{
		UserAddress: userAddress,
		Resource:    resource,
		Duration:    durationSeconds,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Revoke asks the service to revoke a token. The local record is not
// mutated; the status change flows back through polling and the change feed.
func (c *Client) Revoke(ctx context.Context, tokenID int64) (string, error) {
	if tokenID < 0 {
		return "", apperr.Validation("token id must be non-negative")
	}

	var out struct {
		TxHash string `json:"tx_hash"`
	}
	if err := c.do(ctx, http.MethodPost, "/revoke_access", revokeRequest{TokenID: tokenID}, &out); err != nil {
		return "", err
	}
	return out.TxHash, nil
}

// BatchStatus fetches authoritative status and remaining time for a set of
// tokens in one round-trip. The response is aligned by index with ids.
func (c *Client) BatchStatus(ctx context.Context, ids []int64) ([]StatusResult, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var out []StatusResult
	if err := c.do(ctx, http.MethodPost, "/get_token_status", batchStatusRequest{Tokens: ids}, &out); err != nil {
		return nil, err
	}
	// The service aligns by index; fill token ids for responses that omit them.
	for i := range out {
		if out[i].TokenID == 0 && i < len(ids) {
			out[i].TokenID = ids[i]
		}
	}
	return out, nil
}

// Check validates a single token against the contract.
func (c *Client) Check(ctx context.Context, tokenID int64) (bool, error) {
	if tokenID < 0 {
		return false, apperr.Validation("token id must be non-negative")
	}
	var out struct {
		Valid bool `json:"valid"`
	}
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/check_access/%d", tokenID), nil, &out); err != nil {
		return false, err
	}
	return out.Valid, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("authorization service unreachable", zap.String("path", path), zap.Error(err))
		return apperr.Network(err, "authorization service call failed")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperr.Network(err, "authorization service response unreadable")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var svcErr errorResponse
		if json.Unmarshal(data, &svcErr) == nil && svcErr.Error != "" {
			return apperr.Authorization("%s", svcErr.Error)
		}
		return apperr.Authorization("authorization service rejected %s (HTTP %d)", path, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return apperr.Network(err, "authorization service response malformed")
	}
	return nil
}
