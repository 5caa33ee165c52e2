package ledger

import (
	"context"
	"math/big"
)

// Adapter captures the functionality the engine requires from the external
// token ledger. All calls may block on network I/O and must honour the
// supplied context.
type Adapter interface {
	// BalanceOf returns the spendable balance for an address.
	BalanceOf(ctx context.Context, address string) (*big.Int, error)
	// Claimable returns the royalty amount accrued for a chapter and author.
	Claimable(ctx context.Context, chapterID, author string) (*big.Int, error)
	// Transfer moves amount to the destination address and returns the
	// ledger's transfer reference.
	Transfer(ctx context.Context, destination string, amount *big.Int) (string, error)
	// Allowance reports how much the spender may move on the owner's behalf.
	Allowance(ctx context.Context, owner, spender string) (*big.Int, error)
}

// FuncAdapter adapts callback functions to the Adapter interface.
type FuncAdapter struct {
	BalanceFunc   func(ctx context.Context, address string) (*big.Int, error)
	ClaimableFunc func(ctx context.Context, chapterID, author string) (*big.Int, error)
	TransferFunc  func(ctx context.Context, destination string, amount *big.Int) (string, error)
	AllowanceFunc func(ctx context.Context, owner, spender string) (*big.Int, error)
}

// BalanceOf delegates to the configured callback.
func (f FuncAdapter) BalanceOf(ctx context.Context, address string) (*big.Int, error) {
	if f.BalanceFunc == nil {
		return big.NewInt(0), nil
	}
	return f.BalanceFunc(ctx, address)
}

// Claimable delegates to the configured callback.
func (f FuncAdapter) Claimable(ctx context.Context, chapterID, author string) (*big.Int, error) {
	if f.ClaimableFunc == nil {
		return big.NewInt(0), nil
	}
	return f.ClaimableFunc(ctx, chapterID, author)
}

// Transfer delegates to the configured callback.
func (f FuncAdapter) Transfer(ctx context.Context, destination string, amount *big.Int) (string, error) {
	if f.TransferFunc == nil {
		return "", nil
	}
	return f.TransferFunc(ctx, destination, amount)
}

// Allowance delegates to the configured callback.
func (f FuncAdapter) Allowance(ctx context.Context, owner, spender string) (*big.Int, error) {
	if f.AllowanceFunc == nil {
		return big.NewInt(0), nil
	}
	return f.AllowanceFunc(ctx, owner, spender)
}
