package claims

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"royaltyd/ledger"
	"royaltyd/native/royalty"
	"royaltyd/notify"
	"royaltyd/ratelimit"
)

const (
	testAuthor    = "0x2222222222222222222222222222222222222222"
	testCollector = "0xfeefeefeefeefeefeefeefeefeefeefeefeefee0"
)

func tokens(whole int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(whole), big.NewInt(1e18))
}

type capturedSend struct {
	author  string
	payload notify.Payload
}

type funcNotifier struct {
	mu    sync.Mutex
	sends []capturedSend
}

func (n *funcNotifier) Send(_ context.Context, author string, payload notify.Payload) (*notify.Receipt, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sends = append(n.sends, capturedSend{author: author, payload: payload})
	return &notify.Receipt{Success: true}, nil
}

func (n *funcNotifier) sent() []capturedSend {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]capturedSend, len(n.sends))
	copy(out, n.sends)
	return out
}

func newTestProcessor(t *testing.T, adapter ledger.Adapter, opts ...ProcessorOption) (*Processor, *MemoryHistory, *funcNotifier) {
	t.Helper()
	calc, err := royalty.NewCalculator(royalty.DefaultRates())
	require.NoError(t, err)
	history := NewMemoryHistory()
	notifier := &funcNotifier{}
	base := []ProcessorOption{
		WithNotifier(notifier),
		WithClock(func() time.Time { return time.Unix(1700000000, 0) }),
		WithMetrics(nil),
	}
	proc, err := NewProcessor(calc, adapter, history, testCollector, append(base, opts...)...)
	require.NoError(t, err)
	return proc, history, notifier
}

func TestProcessClaimSuccess(t *testing.T) {
	var transfers sync.Map
	adapter := ledger.FuncAdapter{
		ClaimableFunc: func(context.Context, string, string) (*big.Int, error) {
			return tokens(1), nil
		},
		TransferFunc: func(_ context.Context, destination string, amount *big.Int) (string, error) {
			transfers.Store(destination, new(big.Int).Set(amount))
			return "tx-" + destination[:6], nil
		},
	}
	proc, history, notifier := newTestProcessor(t, adapter)

	result, err := proc.ProcessClaim(context.Background(), Request{
		ChapterID:      "chapter-1",
		Author:         testAuthor,
		LicenseTermsID: "premium",
	})
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Equal(t, royalty.TierPremium, result.Tier)
	require.Zero(t, result.Claimed.Cmp(tokens(1)))
	// Premium: 10% royalty, 5% platform fee, 0.001 gas.
	require.Zero(t, result.PlatformFee.Cmp(big.NewInt(50_000_000_000_000_000)))
	require.Zero(t, result.Net.Cmp(big.NewInt(49_000_000_000_000_000)))
	require.NotEmpty(t, result.TransferRef)
	require.NotEmpty(t, result.FeeTransferRef)
	require.Empty(t, result.FeeError)

	paid, ok := transfers.Load(testAuthor)
	require.True(t, ok)
	require.Zero(t, paid.(*big.Int).Cmp(result.Net))
	fee, ok := transfers.Load(testCollector)
	require.True(t, ok)
	require.Zero(t, fee.(*big.Int).Cmp(result.PlatformFee))

	entries, total, err := history.List(context.Background(), testAuthor, HistoryFilter{})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Equal(t, StatusCompleted, entries[0].Status)
	require.Empty(t, entries[0].ErrorCode)

	sends := notifier.sent()
	require.Len(t, sends, 1)
	require.Equal(t, notify.TypeClaimSuccess, sends[0].payload.NotificationType())
}

func TestProcessClaimUsesLedgerAmountOverExpectation(t *testing.T) {
	adapter := ledger.FuncAdapter{
		ClaimableFunc: func(context.Context, string, string) (*big.Int, error) {
			return tokens(2), nil
		},
	}
	proc, _, _ := newTestProcessor(t, adapter)

	result, err := proc.ProcessClaim(context.Background(), Request{
		ChapterID:      "chapter-1",
		Author:         testAuthor,
		LicenseTermsID: "premium",
		Expected:       tokens(5),
	})
	require.NoError(t, err)
	require.Zero(t, result.Claimed.Cmp(tokens(2)), "ledger balance wins over the caller's expectation")
}

func TestProcessClaimRateLimited(t *testing.T) {
	var ledgerCalls atomic.Int64
	adapter := ledger.FuncAdapter{
		ClaimableFunc: func(context.Context, string, string) (*big.Int, error) {
			ledgerCalls.Add(1)
			return tokens(1), nil
		},
	}
	proc, _, _ := newTestProcessor(t, adapter, WithClaimLimit(2))
	ctx := context.Background()
	req := Request{ChapterID: "chapter-1", Author: testAuthor, LicenseTermsID: "premium"}

	for i := 0; i < 2; i++ {
		_, err := proc.ProcessClaim(ctx, req)
		require.NoError(t, err)
	}
	callsBefore := ledgerCalls.Load()
	_, err := proc.ProcessClaim(ctx, req)
	require.ErrorIs(t, err, ErrRateLimited)
	require.Equal(t, callsBefore, ledgerCalls.Load(), "a throttled claim must not reach the ledger")
}

func TestProcessClaimPartialFeeFailure(t *testing.T) {
	adapter := ledger.FuncAdapter{
		ClaimableFunc: func(context.Context, string, string) (*big.Int, error) {
			return tokens(1), nil
		},
		TransferFunc: func(_ context.Context, destination string, _ *big.Int) (string, error) {
			if destination == testCollector {
				return "", errors.New("fee account frozen")
			}
			return "tx-author", nil
		},
	}
	proc, history, _ := newTestProcessor(t, adapter)

	result, err := proc.ProcessClaim(context.Background(), Request{
		ChapterID:      "chapter-1",
		Author:         testAuthor,
		LicenseTermsID: "premium",
	})
	require.NoError(t, err)
	require.True(t, result.Success, "the author payout stands even when the fee leg fails")
	require.Equal(t, "tx-author", result.TransferRef)
	require.Empty(t, result.FeeTransferRef)
	require.Contains(t, result.FeeError, "fee account frozen")

	entries, _, err := history.List(context.Background(), testAuthor, HistoryFilter{})
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, entries[0].Status)
	require.Equal(t, "FEE_TRANSFER_FAILED", entries[0].ErrorCode)
}

func TestProcessClaimAuthorTransferFails(t *testing.T) {
	adapter := ledger.FuncAdapter{
		ClaimableFunc: func(context.Context, string, string) (*big.Int, error) {
			return tokens(1), nil
		},
		TransferFunc: func(_ context.Context, destination string, _ *big.Int) (string, error) {
			if destination == testAuthor {
				return "", errors.New("ledger rejected transfer")
			}
			return "tx-fee", nil
		},
	}
	proc, history, notifier := newTestProcessor(t, adapter)

	_, err := proc.ProcessClaim(context.Background(), Request{
		ChapterID:      "chapter-1",
		Author:         testAuthor,
		LicenseTermsID: "premium",
	})
	require.ErrorIs(t, err, ErrTransferFailed)

	entries, _, err := history.List(context.Background(), testAuthor, HistoryFilter{})
	require.NoError(t, err)
	require.Equal(t, StatusFailed, entries[0].Status)
	require.Equal(t, "LEDGER_TRANSFER_FAILED", entries[0].ErrorCode)

	sends := notifier.sent()
	require.Len(t, sends, 1)
	require.Equal(t, notify.TypeClaimFailed, sends[0].payload.NotificationType())
}

func TestProcessClaimNoClaimableFunds(t *testing.T) {
	adapter := ledger.FuncAdapter{
		ClaimableFunc: func(context.Context, string, string) (*big.Int, error) {
			return big.NewInt(0), nil
		},
	}
	proc, history, _ := newTestProcessor(t, adapter)

	_, err := proc.ProcessClaim(context.Background(), Request{
		ChapterID: "chapter-1",
		Author:    testAuthor,
	})
	require.ErrorIs(t, err, ErrNoClaimableFunds)

	entries, total, err := history.List(context.Background(), testAuthor, HistoryFilter{})
	require.NoError(t, err)
	require.Zero(t, total)
	require.Empty(t, entries)
}

func TestProcessClaimValidation(t *testing.T) {
	proc, _, _ := newTestProcessor(t, ledger.FuncAdapter{})
	ctx := context.Background()

	_, err := proc.ProcessClaim(ctx, Request{Author: testAuthor})
	require.ErrorIs(t, err, ErrChapterRequired)

	_, err = proc.ProcessClaim(ctx, Request{ChapterID: "chapter-1", Author: "not-an-address"})
	require.ErrorIs(t, err, ErrInvalidAddress)
}

func TestProcessClaimSerializedPerChapter(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	adapter := ledger.FuncAdapter{
		ClaimableFunc: func(context.Context, string, string) (*big.Int, error) {
			return tokens(1), nil
		},
		TransferFunc: func(_ context.Context, destination string, _ *big.Int) (string, error) {
			if destination == testAuthor {
				close(started)
				<-release
			}
			return "tx", nil
		},
	}
	proc, _, _ := newTestProcessor(t, adapter)
	ctx := context.Background()
	req := Request{ChapterID: "chapter-1", Author: testAuthor, LicenseTermsID: "premium"}

	errCh := make(chan error, 1)
	go func() {
		_, err := proc.ProcessClaim(ctx, req)
		errCh <- err
	}()
	<-started

	_, err := proc.ProcessClaim(ctx, req)
	require.ErrorIs(t, err, ErrClaimInProgress)

	// A different chapter is unaffected.
	_, err = proc.ProcessClaim(ctx, Request{ChapterID: "chapter-2", Author: testAuthor, LicenseTermsID: "premium"})
	require.NoError(t, err)

	close(release)
	require.NoError(t, <-errCh)
}

func TestProcessClaimPaused(t *testing.T) {
	adapter := ledger.FuncAdapter{
		ClaimableFunc: func(context.Context, string, string) (*big.Int, error) {
			return tokens(1), nil
		},
	}
	proc, _, _ := newTestProcessor(t, adapter)
	ctx := context.Background()
	req := Request{ChapterID: "chapter-1", Author: testAuthor, LicenseTermsID: "premium"}

	proc.Pause()
	require.True(t, proc.Paused())
	_, err := proc.ProcessClaim(ctx, req)
	require.ErrorIs(t, err, ErrProcessorPaused)

	proc.Resume()
	require.False(t, proc.Paused())
	_, err = proc.ProcessClaim(ctx, req)
	require.NoError(t, err)
}

func TestClaimableCachesAndInvalidates(t *testing.T) {
	var queries atomic.Int64
	adapter := ledger.FuncAdapter{
		ClaimableFunc: func(context.Context, string, string) (*big.Int, error) {
			queries.Add(1)
			return tokens(3), nil
		},
	}
	proc, _, _ := newTestProcessor(t, adapter)
	ctx := context.Background()

	first, err := proc.Claimable(ctx, "chapter-1", testAuthor, false)
	require.NoError(t, err)
	require.False(t, first.Cached)
	require.Zero(t, first.Amount.Cmp(tokens(3)))

	second, err := proc.Claimable(ctx, "chapter-1", testAuthor, false)
	require.NoError(t, err)
	require.True(t, second.Cached)
	require.Equal(t, int64(1), queries.Load())

	refreshed, err := proc.Claimable(ctx, "chapter-1", testAuthor, true)
	require.NoError(t, err)
	require.False(t, refreshed.Cached)
	require.Equal(t, int64(2), queries.Load())

	// A successful claim invalidates the cached amount.
	_, err = proc.ProcessClaim(ctx, Request{ChapterID: "chapter-1", Author: testAuthor, LicenseTermsID: "premium"})
	require.NoError(t, err)
	after, err := proc.Claimable(ctx, "chapter-1", testAuthor, false)
	require.NoError(t, err)
	require.False(t, after.Cached)
}

func TestProcessClaimLargePaymentAlert(t *testing.T) {
	adapter := ledger.FuncAdapter{
		ClaimableFunc: func(context.Context, string, string) (*big.Int, error) {
			return tokens(1), nil
		},
	}
	proc, _, notifier := newTestProcessor(t, adapter,
		WithLargePaymentThreshold(big.NewInt(1)))

	_, err := proc.ProcessClaim(context.Background(), Request{
		ChapterID:      "chapter-1",
		Author:         testAuthor,
		LicenseTermsID: "premium",
	})
	require.NoError(t, err)

	sends := notifier.sent()
	require.Len(t, sends, 2)
	require.Equal(t, notify.TypeClaimSuccess, sends[0].payload.NotificationType())
	require.Equal(t, notify.TypeLargePayment, sends[1].payload.NotificationType())
}

func TestHistoryIncludesSummary(t *testing.T) {
	adapter := ledger.FuncAdapter{
		ClaimableFunc: func(context.Context, string, string) (*big.Int, error) {
			return tokens(1), nil
		},
	}
	proc, _, _ := newTestProcessor(t, adapter,
		WithLimiter(ratelimit.New(ratelimit.WithWindow(time.Hour))),
		WithClaimLimit(10))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := proc.ProcessClaim(ctx, Request{ChapterID: "chapter-1", Author: testAuthor, LicenseTermsID: "premium"})
		require.NoError(t, err)
	}

	entries, total, summary, err := proc.History(ctx, testAuthor, HistoryFilter{Limit: 2})
	require.NoError(t, err)
	require.Equal(t, 3, total)
	require.Len(t, entries, 2)
	require.Equal(t, 3, summary.Completed)
	require.Zero(t, summary.TotalClaimed.Cmp(tokens(3)))
}
