package chain

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func rpcServer(t *testing.T, handler func(method string, params map[string]any) (any, *rpcError)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string         `json:"method"`
			Params map[string]any `json:"params"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode rpc request: %v", err)
		}
		result, rpcErr := handler(req.Method, req.Params)
		resp := map[string]any{"jsonrpc": "2.0", "id": 1}
		if rpcErr != nil {
			resp["error"] = rpcErr
		} else {
			resp["result"] = result
		}
		json.NewEncoder(w).Encode(resp)
	}))
}

func TestSubmit_ReturnsSignatureAndObservedQuantity(t *testing.T) {
	srv := rpcServer(t, func(method string, params map[string]any) (any, *rpcError) {
		if method != "swapSolForToken" {
			t.Errorf("unexpected method %s", method)
		}
		// Node reports a different fill than requested.
		return map[string]any{"signature": "sig-swap-1", "quantity": 987}, nil
	})
	defer srv.Close()

	client := NewRPCClient(srv.URL, "wallet", "mint", time.Second)
	res, err := client.SwapSolForToken(context.Background(), 1_000_000)
	if err != nil {
		t.Fatalf("swap: %v", err)
	}
	if res.Signature != "sig-swap-1" || res.ObservedQuantity != 987 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestSubmit_RetriesTransientThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := rpcServer(t, func(method string, params map[string]any) (any, *rpcError) {
		if calls.Add(1) < 3 {
			return nil, &rpcError{Code: rpcCodeRateLimited, Message: "slow down"}
		}
		return map[string]any{"signature": "sig-burn-1", "quantity": 500}, nil
	})
	defer srv.Close()

	client := NewRPCClient(srv.URL, "wallet", "mint", time.Second).WithMaxRetries(5)
	res, err := client.BurnTokens(context.Background(), 500)
	if err != nil {
		t.Fatalf("burn: %v", err)
	}
	if res.Signature != "sig-burn-1" {
		t.Fatalf("unexpected result %+v", res)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}
}

func TestSubmit_RejectionIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := rpcServer(t, func(method string, params map[string]any) (any, *rpcError) {
		calls.Add(1)
		return nil, &rpcError{Code: -32602, Message: "invalid params"}
	})
	defer srv.Close()

	client := NewRPCClient(srv.URL, "wallet", "mint", time.Second).WithMaxRetries(5)
	_, err := client.SweepFees(context.Background())
	if !errors.Is(err, ErrRemoteRejected) {
		t.Fatalf("expected ErrRemoteRejected, got %v", err)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("expected exactly 1 attempt, got %d", got)
	}
}

func TestVerifyFinalized(t *testing.T) {
	srv := rpcServer(t, func(method string, params map[string]any) (any, *rpcError) {
		if params["signature"] != "sig-1" {
			t.Errorf("unexpected signature %v", params["signature"])
		}
		return map[string]any{"finalized": true}, nil
	})
	defer srv.Close()

	client := NewRPCClient(srv.URL, "wallet", "mint", time.Second)
	res, err := client.VerifyFinalized(context.Background(), "sig-1")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !res.Verified {
		t.Fatalf("expected verified")
	}
}

func TestVerifyFinalized_TransportFailureIsUnknown(t *testing.T) {
	srv := rpcServer(t, nil)
	srv.Close() // immediately unreachable

	client := NewRPCClient(srv.URL, "wallet", "mint", 200*time.Millisecond)
	if _, err := client.VerifyFinalized(context.Background(), "sig-1"); err == nil {
		t.Fatalf("expected error for unreachable node")
	}
}

func TestCurveState(t *testing.T) {
	srv := rpcServer(t, func(method string, params map[string]any) (any, *rpcError) {
		return map[string]any{
			"complete":             false,
			"virtualSolReserves":   30_000_000_000,
			"virtualTokenReserves": 1_000_000_000_000,
		}, nil
	})
	defer srv.Close()

	client := NewRPCClient(srv.URL, "wallet", "mint", time.Second)
	state, err := client.CurveState(context.Background())
	if err != nil {
		t.Fatalf("curve state: %v", err)
	}
	if state.Listed {
		t.Errorf("expected pre-listing state")
	}
	if state.VirtualSolReserves != 30_000_000_000 {
		t.Errorf("unexpected reserves %d", state.VirtualSolReserves)
	}
}

func TestCall_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	defer srv.Close()

	client := NewRPCClient(srv.URL, "wallet", "mint", 50*time.Millisecond).WithMaxRetries(0)
	_, err := client.SolBalance(context.Background())
	if err == nil {
		t.Fatalf("expected timeout error")
	}
}
