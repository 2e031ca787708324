package chain

import (
	"context"
	"errors"
)

var (
	// ErrRemoteRejected signals the node refused the action outright.
	// Rejections are never retried.
	ErrRemoteRejected = errors.New("chain: action rejected")
	// ErrRemoteTimeout signals the call exceeded its deadline. The action may
	// still land on chain; only verification can tell.
	ErrRemoteTimeout = errors.New("chain: call timed out")
)

// SubmitResult is what every side-effecting submission returns: the chain
// signature (the globally unique reference for the action) and the quantity
// the node actually reports for it. Callers must use ObservedQuantity, never
// the amount they asked for.
type SubmitResult struct {
	Signature        string
	ObservedQuantity uint64
}

// VerifyResult reports whether a previously submitted signature finalized.
// A non-nil error from VerifyFinalized means the answer is unknown, not that
// the action failed.
type VerifyResult struct {
	Verified bool
	Err      string
}

// CurveState is the launch-platform bonding curve snapshot. Pre-listing it is
// the authoritative price source.
type CurveState struct {
	Listed               bool
	VirtualSolReserves   uint64
	VirtualTokenReserves uint64
}

// Client is the remote ledger boundary. All methods are blocking calls with
// a bounded per-call timeout; mutating methods are submitted at most once per
// obtained signature.
type Client interface {
	// SweepFees collects accrued creator fees into the operating wallet and
	// reports the swept lamports.
	SweepFees(ctx context.Context) (SubmitResult, error)
	// SwapSolForToken swaps the given lamports for the project token and
	// reports the token quantity actually received.
	SwapSolForToken(ctx context.Context, lamports uint64) (SubmitResult, error)
	// BurnTokens irreversibly destroys the given token quantity.
	BurnTokens(ctx context.Context, quantity uint64) (SubmitResult, error)

	VerifyFinalized(ctx context.Context, signature string) (VerifyResult, error)

	// ClaimableFees reports the creator fees currently collectible by a
	// sweep, without moving anything.
	ClaimableFees(ctx context.Context) (uint64, error)
	SolBalance(ctx context.Context) (uint64, error)
	TokenBalance(ctx context.Context) (uint64, error)
	CurveState(ctx context.Context) (CurveState, error)
}
