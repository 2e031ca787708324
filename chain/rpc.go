package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	rpcCodeRateLimited = -32005
	rpcCodeNodeBehind  = -32004
)

// RPCClient talks JSON-RPC to the treasury node. Submissions are retried a
// bounded number of times with exponential backoff, but only until a
// signature is obtained; a submission that returned a signature is never
// re-sent.
type RPCClient struct {
	url        string
	wallet     string
	mint       string
	httpClient *http.Client
	timeout    time.Duration
	maxRetries uint64
}

func NewRPCClient(url, wallet, mint string, timeout time.Duration) *RPCClient {
	return &RPCClient{
		url:        url,
		wallet:     wallet,
		mint:       mint,
		httpClient: &http.Client{Timeout: timeout},
		timeout:    timeout,
		maxRetries: 3,
	}
}

func (c *RPCClient) WithMaxRetries(n uint64) *RPCClient {
	c.maxRetries = n
	return c
}

func (c *RPCClient) WithHTTPClient(h *http.Client) *RPCClient {
	c.httpClient = h
	return c
}

func (c *RPCClient) SweepFees(ctx context.Context) (SubmitResult, error) {
	return c.submit(ctx, "sweepCreatorFees", map[string]any{
		"wallet": c.wallet,
		"mint":   c.mint,
	})
}

func (c *RPCClient) SwapSolForToken(ctx context.Context, lamports uint64) (SubmitResult, error) {
	return c.submit(ctx, "swapSolForToken", map[string]any{
		"wallet":   c.wallet,
		"mint":     c.mint,
		"lamports": lamports,
	})
}

func (c *RPCClient) BurnTokens(ctx context.Context, quantity uint64) (SubmitResult, error) {
	return c.submit(ctx, "burnTokens", map[string]any{
		"wallet":   c.wallet,
		"mint":     c.mint,
		"quantity": quantity,
	})
}

func (c *RPCClient) VerifyFinalized(ctx context.Context, signature string) (VerifyResult, error) {
	var out struct {
		Finalized bool   `json:"finalized"`
		Err       string `json:"err"`
	}
	if err := c.call(ctx, "getSignatureStatus", map[string]any{"signature": signature}, &out); err != nil {
		return VerifyResult{}, fmt.Errorf("chain: verify %s: %w", signature, err)
	}
	return VerifyResult{Verified: out.Finalized, Err: out.Err}, nil
}

func (c *RPCClient) ClaimableFees(ctx context.Context) (uint64, error) {
	var out struct {
		Lamports uint64 `json:"lamports"`
	}
	if err := c.call(ctx, "getClaimableFees", map[string]any{"wallet": c.wallet, "mint": c.mint}, &out); err != nil {
		return 0, fmt.Errorf("chain: claimable fees: %w", err)
	}
	return out.Lamports, nil
}

func (c *RPCClient) SolBalance(ctx context.Context) (uint64, error) {
	var out struct {
		Lamports uint64 `json:"lamports"`
	}
	if err := c.call(ctx, "getBalance", map[string]any{"wallet": c.wallet}, &out); err != nil {
		return 0, fmt.Errorf("chain: sol balance: %w", err)
	}
	return out.Lamports, nil
}

func (c *RPCClient) TokenBalance(ctx context.Context) (uint64, error) {
	var out struct {
		Amount uint64 `json:"amount"`
	}
	if err := c.call(ctx, "getTokenBalance", map[string]any{"wallet": c.wallet, "mint": c.mint}, &out); err != nil {
		return 0, fmt.Errorf("chain: token balance: %w", err)
	}
	return out.Amount, nil
}

func (c *RPCClient) CurveState(ctx context.Context) (CurveState, error) {
	var out struct {
		Complete             bool   `json:"complete"`
		VirtualSolReserves   uint64 `json:"virtualSolReserves"`
		VirtualTokenReserves uint64 `json:"virtualTokenReserves"`
	}
	if err := c.call(ctx, "getCurveState", map[string]any{"mint": c.mint}, &out); err != nil {
		return CurveState{}, fmt.Errorf("chain: curve state: %w", err)
	}
	return CurveState{
		Listed:               out.Complete,
		VirtualSolReserves:   out.VirtualSolReserves,
		VirtualTokenReserves: out.VirtualTokenReserves,
	}, nil
}

// submit sends one action with bounded retry. Transient failures (transport
// errors, rate limiting) are retried with exponential backoff; rejections are
// permanent. Once a signature comes back no further attempt is made.
func (c *RPCClient) submit(ctx context.Context, method string, params map[string]any) (SubmitResult, error) {
	var res SubmitResult

	op := func() error {
		var out struct {
			Signature string `json:"signature"`
			Quantity  uint64 `json:"quantity"`
		}
		if err := c.call(ctx, method, params, &out); err != nil {
			if errors.Is(err, ErrRemoteRejected) {
				return backoff.Permanent(err)
			}
			return err
		}
		if out.Signature == "" {
			return backoff.Permanent(fmt.Errorf("chain: %s returned no signature", method))
		}
		res = SubmitResult{Signature: out.Signature, ObservedQuantity: out.Quantity}
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.maxRetries), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return SubmitResult{}, fmt.Errorf("chain: submit %s: %w", method, err)
	}
	return res, nil
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

func (c *RPCClient) call(ctx context.Context, method string, params any, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return ErrRemoteTimeout
		}
		return fmt.Errorf("transport: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("rate limited: %s", resp.Status)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if rpcResp.Error != nil {
		switch rpcResp.Error.Code {
		case rpcCodeRateLimited, rpcCodeNodeBehind:
			return fmt.Errorf("transient rpc error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message)
		default:
			return fmt.Errorf("%w: rpc error %d: %s", ErrRemoteRejected, rpcResp.Error.Code, rpcResp.Error.Message)
		}
	}

	if out != nil {
		if err := json.Unmarshal(rpcResp.Result, out); err != nil {
			return fmt.Errorf("decode result: %w", err)
		}
	}
	return nil
}
