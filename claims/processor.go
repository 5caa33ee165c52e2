package claims

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"royaltyd/cache"
	"royaltyd/ledger"
	"royaltyd/native/royalty"
	"royaltyd/notify"
	"royaltyd/observability"
	"royaltyd/ratelimit"
)

var (
	// ErrChapterRequired reports a missing chapter identifier.
	ErrChapterRequired = errors.New("claims: chapter id required")
	// ErrInvalidAddress reports a malformed author address.
	ErrInvalidAddress = errors.New("claims: invalid author address")
	// ErrRateLimited reports that the author exhausted the hourly claim budget.
	ErrRateLimited = errors.New("claims: rate limited")
	// ErrNoClaimableFunds reports a zero or below-minimum claimable balance.
	ErrNoClaimableFunds = errors.New("claims: no claimable funds")
	// ErrTransferFailed reports that the author payout could not be executed.
	ErrTransferFailed = errors.New("claims: transfer failed")
	// ErrProcessorPaused is returned when a claim is attempted while paused.
	ErrProcessorPaused = errors.New("claims: processor paused")
	// ErrClaimInProgress reports a concurrent claim for the same chapter and
	// author. The duplicate is rejected instead of racing the first claim to
	// a double payout.
	ErrClaimInProgress = errors.New("claims: claim already in progress")
)

// Default processing policy.
const (
	DefaultClaimsPerHour = 10
	claimableCacheTTL    = 30 * time.Second
)

var (
	defaultMinClaim     = big.NewInt(100_000_000_000_000)            // 0.0001 token
	defaultLargePayment = new(big.Int).Mul(big.NewInt(10), big.NewInt(1e18)) // 10 tokens
)

// TierResolver maps a claim onto the license tier its chapter is published
// under.
type TierResolver func(ctx context.Context, chapterID, licenseTermsID string) (royalty.Tier, error)

// Notifier is the slice of the dispatcher the processor needs.
type Notifier interface {
	Send(ctx context.Context, author string, payload notify.Payload) (*notify.Receipt, error)
}

// Processor validates claims, executes the payout and fee transfers, and
// records every attempt.
type Processor struct {
	calc         *royalty.Calculator
	adapter      ledger.Adapter
	history      HistoryRepository
	notifier     Notifier
	limiter      *ratelimit.Limiter
	claimable    cache.Store[string]
	resolveTier  TierResolver
	feeCollector string
	limit        int
	minClaim     *big.Int
	largePayment *big.Int
	metrics      *observability.ClaimsMetrics
	logger       *slog.Logger
	now          func() time.Time

	mu       sync.Mutex
	paused   bool
	inFlight map[string]struct{}
}

// ProcessorOption customises the processor instance.
type ProcessorOption func(*Processor)

// WithNotifier wires the notification dispatcher.
func WithNotifier(n Notifier) ProcessorOption {
	return func(p *Processor) { p.notifier = n }
}

// WithTierResolver overrides how chapters map to license tiers.
func WithTierResolver(resolver TierResolver) ProcessorOption {
	return func(p *Processor) {
		if resolver != nil {
			p.resolveTier = resolver
		}
	}
}

// WithClaimLimit overrides the hourly per-author claim budget.
func WithClaimLimit(limit int) ProcessorOption {
	return func(p *Processor) {
		if limit > 0 {
			p.limit = limit
		}
	}
}

// WithMinClaim overrides the minimum claimable amount worth processing.
func WithMinClaim(min *big.Int) ProcessorOption {
	return func(p *Processor) {
		if min != nil {
			p.minClaim = new(big.Int).Set(min)
		}
	}
}

// WithLargePaymentThreshold overrides the net amount that triggers an extra
// large-payment alert.
func WithLargePaymentThreshold(threshold *big.Int) ProcessorOption {
	return func(p *Processor) {
		if threshold != nil {
			p.largePayment = new(big.Int).Set(threshold)
		}
	}
}

// WithClaimableCache overrides the claimable-amount cache backend.
func WithClaimableCache(store cache.Store[string]) ProcessorOption {
	return func(p *Processor) {
		if store != nil {
			p.claimable = store
		}
	}
}

// WithLimiter overrides the rate limiter, mainly to shrink windows in tests.
func WithLimiter(limiter *ratelimit.Limiter) ProcessorOption {
	return func(p *Processor) {
		if limiter != nil {
			p.limiter = limiter
		}
	}
}

// WithMetrics overrides the default metrics registry.
func WithMetrics(m *observability.ClaimsMetrics) ProcessorOption {
	return func(p *Processor) { p.metrics = m }
}

// WithLogger overrides the processor's logger.
func WithLogger(logger *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithClock sets the function used to derive timestamps.
func WithClock(clock func() time.Time) ProcessorOption {
	return func(p *Processor) {
		if clock != nil {
			p.now = clock
		}
	}
}

// NewProcessor constructs a claim processor. The fee collector receives the
// platform's share of every payout.
func NewProcessor(calc *royalty.Calculator, adapter ledger.Adapter, history HistoryRepository, feeCollector string, opts ...ProcessorOption) (*Processor, error) {
	if calc == nil {
		return nil, fmt.Errorf("claims: calculator required")
	}
	if adapter == nil {
		return nil, fmt.Errorf("claims: ledger adapter required")
	}
	if history == nil {
		return nil, fmt.Errorf("claims: history repository required")
	}
	feeCollector = strings.TrimSpace(feeCollector)
	if !common.IsHexAddress(feeCollector) {
		return nil, fmt.Errorf("claims: invalid fee collector address %q", feeCollector)
	}
	p := &Processor{
		calc:         calc,
		adapter:      adapter,
		history:      history,
		limiter:      ratelimit.New(ratelimit.WithWindow(time.Hour)),
		claimable:    cache.NewMemory[string](claimableCacheTTL),
		feeCollector: feeCollector,
		limit:        DefaultClaimsPerHour,
		minClaim:     new(big.Int).Set(defaultMinClaim),
		largePayment: new(big.Int).Set(defaultLargePayment),
		metrics:      observability.Claims(),
		logger:       slog.Default(),
		now:          time.Now,
		inFlight:     make(map[string]struct{}),
	}
	p.resolveTier = func(_ context.Context, _, licenseTermsID string) (royalty.Tier, error) {
		if strings.TrimSpace(licenseTermsID) == "" {
			return royalty.TierFree, nil
		}
		return royalty.ParseTier(licenseTermsID)
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// ProcessClaim runs one claim end to end. Validation and rate-limit failures
// leave no trace; failures after the claimable query are recorded in history
// and trigger a claim-failed notification.
func (p *Processor) ProcessClaim(ctx context.Context, req Request) (*Result, error) {
	chapterID := strings.TrimSpace(req.ChapterID)
	if chapterID == "" {
		return nil, ErrChapterRequired
	}
	author := strings.TrimSpace(req.Author)
	if !common.IsHexAddress(author) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAddress, req.Author)
	}
	if req.Expected != nil && req.Expected.Sign() < 0 {
		return nil, fmt.Errorf("%w: expected amount must be non-negative", ErrChapterRequired)
	}

	p.mu.Lock()
	if p.paused {
		p.mu.Unlock()
		p.metrics.RecordError("paused")
		return nil, ErrProcessorPaused
	}
	flightKey := chapterID + "|" + author
	if _, busy := p.inFlight[flightKey]; busy {
		p.mu.Unlock()
		p.metrics.RecordError("in_progress")
		return nil, ErrClaimInProgress
	}
	p.inFlight[flightKey] = struct{}{}
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.inFlight, flightKey)
		p.mu.Unlock()
	}()

	now := p.now()
	if !p.limiter.Allow(author, p.limit, now) {
		p.metrics.RecordError("rate_limit")
		return nil, fmt.Errorf("%w: resets at %s", ErrRateLimited,
			p.limiter.ResetAt(author, now).Format(time.RFC3339))
	}

	tier, err := p.resolveTier(ctx, chapterID, req.LicenseTermsID)
	if err != nil {
		p.metrics.RecordError("tier")
		return nil, err
	}

	claimable, err := p.adapter.Claimable(ctx, chapterID, author)
	if err != nil {
		p.metrics.RecordError("ledger_query")
		p.recordFailure(ctx, req, tier, nil, "LEDGER_QUERY_FAILED", err)
		return nil, fmt.Errorf("claims: query claimable: %w", err)
	}
	if claimable == nil || claimable.Sign() <= 0 || claimable.Cmp(p.minClaim) < 0 {
		p.metrics.RecordError("no_funds")
		return nil, fmt.Errorf("%w: claimable %s below minimum", ErrNoClaimableFunds, claimable)
	}
	// The ledger's actual balance wins over the caller's expectation; a
	// mismatch is not an error.
	if req.Expected != nil && req.Expected.Cmp(claimable) != 0 {
		p.logger.Info("expected amount differs from claimable balance",
			"chapter", chapterID, "expected", req.Expected, "claimable", claimable)
	}

	breakdown, err := p.calc.ComputeBreakdown(claimable, tier, royalty.DefaultOptions())
	if err != nil {
		p.metrics.RecordError("breakdown")
		return nil, err
	}
	if breakdown.NetAmount.Sign() <= 0 {
		p.metrics.RecordError("no_funds")
		return nil, fmt.Errorf("%w: net amount is zero after fees", ErrNoClaimableFunds)
	}

	start := now
	authorRef, feeRef, feeErr, err := p.executeTransfers(ctx, author, breakdown)
	if err != nil {
		p.metrics.RecordError("transfer")
		p.metrics.RecordClaim(string(tier), "failed", p.now().Sub(start))
		p.recordFailure(ctx, req, tier, breakdown, "LEDGER_TRANSFER_FAILED", err)
		return nil, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}

	result := &Result{
		Success:     true,
		ChapterID:   chapterID,
		Author:      author,
		Tier:        tier,
		Claimed:     new(big.Int).Set(breakdown.TotalRevenue),
		PlatformFee: new(big.Int).Set(breakdown.PlatformFee),
		Net:         new(big.Int).Set(breakdown.NetAmount),
		TransferRef: authorRef,
		Timestamp:   p.now(),
	}
	entry := &HistoryEntry{
		ID:          uuid.NewString(),
		Author:      author,
		ChapterID:   chapterID,
		Tier:        tier,
		Status:      StatusCompleted,
		Claimed:     new(big.Int).Set(breakdown.TotalRevenue),
		PlatformFee: new(big.Int).Set(breakdown.PlatformFee),
		Net:         new(big.Int).Set(breakdown.NetAmount),
		TransferRef: authorRef,
		CreatedAt:   result.Timestamp,
	}
	if feeErr != nil {
		// Partial success: the author is paid, the fee leg is not. Keep the
		// shortfall visible instead of rolling anything back.
		result.FeeError = feeErr.Error()
		entry.ErrorCode = "FEE_TRANSFER_FAILED"
		entry.ErrorMessage = feeErr.Error()
		p.logger.Warn("platform fee transfer failed after author payout",
			"chapter", chapterID, "author", author, "err", feeErr)
	} else {
		result.FeeTransferRef = feeRef
		entry.FeeTransferRef = feeRef
	}
	if err := p.history.Append(ctx, entry); err != nil {
		p.logger.Error("record claim history", "chapter", chapterID, "author", author, "err", err)
	}
	p.invalidateClaimable(ctx, chapterID, author)
	p.metrics.RecordClaim(string(tier), "success", p.now().Sub(start))

	p.sendNotification(ctx, author, notify.ClaimSuccessPayload{
		ChapterID:   chapterID,
		Claimed:     breakdown.TotalRevenue,
		Net:         breakdown.NetAmount,
		TransferRef: authorRef,
	})
	if breakdown.NetAmount.Cmp(p.largePayment) >= 0 {
		p.sendNotification(ctx, author, notify.LargePaymentPayload{
			ChapterID: chapterID,
			Value:     breakdown.NetAmount,
		})
	}
	return result, nil
}

// executeTransfers runs the author and fee legs concurrently. Both settle
// before the function returns; the fee leg's error comes back separately
// because it does not fail the claim.
func (p *Processor) executeTransfers(ctx context.Context, author string, breakdown *royalty.Breakdown) (authorRef, feeRef string, feeErr, authorErr error) {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		authorRef, authorErr = p.adapter.Transfer(ctx, author, breakdown.NetAmount)
		p.metrics.RecordTransfer("author", authorErr == nil)
	}()
	if breakdown.PlatformFee.Sign() > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			feeRef, feeErr = p.adapter.Transfer(ctx, p.feeCollector, breakdown.PlatformFee)
			p.metrics.RecordTransfer("fee", feeErr == nil)
		}()
	}
	wg.Wait()
	if authorErr != nil {
		return "", "", nil, authorErr
	}
	return authorRef, feeRef, feeErr, nil
}

// Claimable reports the accrued royalty for a chapter, served from a 30s
// cache unless refresh is set.
func (p *Processor) Claimable(ctx context.Context, chapterID, author string, refresh bool) (*ClaimableCheck, error) {
	chapterID = strings.TrimSpace(chapterID)
	if chapterID == "" {
		return nil, ErrChapterRequired
	}
	author = strings.TrimSpace(author)
	if !common.IsHexAddress(author) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAddress, author)
	}
	key := chapterID + "|" + author
	if !refresh {
		if raw, ok, err := p.claimable.Get(ctx, key); err == nil && ok {
			if amount, parsed := new(big.Int).SetString(raw, 10); parsed {
				return &ClaimableCheck{
					ChapterID: chapterID,
					Author:    author,
					Amount:    amount,
					Cached:    true,
					CheckedAt: p.now(),
				}, nil
			}
		}
	}
	amount, err := p.adapter.Claimable(ctx, chapterID, author)
	if err != nil {
		return nil, fmt.Errorf("claims: query claimable: %w", err)
	}
	if amount == nil {
		amount = big.NewInt(0)
	}
	if err := p.claimable.Set(ctx, key, amount.String()); err != nil {
		p.logger.Warn("cache claimable amount", "chapter", chapterID, "err", err)
	}
	return &ClaimableCheck{
		ChapterID: chapterID,
		Author:    author,
		Amount:    new(big.Int).Set(amount),
		CheckedAt: p.now(),
	}, nil
}

// History returns the filtered page plus the author's aggregate summary.
func (p *Processor) History(ctx context.Context, author string, filter HistoryFilter) ([]*HistoryEntry, int, *HistorySummary, error) {
	author = strings.TrimSpace(author)
	if !common.IsHexAddress(author) {
		return nil, 0, nil, fmt.Errorf("%w: %q", ErrInvalidAddress, author)
	}
	entries, total, err := p.history.List(ctx, author, filter)
	if err != nil {
		return nil, 0, nil, err
	}
	summary, err := p.history.Summarize(ctx, author)
	if err != nil {
		return nil, 0, nil, err
	}
	return entries, total, summary, nil
}

// Pause halts new claim processing.
func (p *Processor) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused = true
}

// Resume re-enables claim processing.
func (p *Processor) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused = false
}

// Paused reports whether the processor accepts claims.
func (p *Processor) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

func (p *Processor) recordFailure(ctx context.Context, req Request, tier royalty.Tier, breakdown *royalty.Breakdown, code string, cause error) {
	entry := &HistoryEntry{
		ID:           uuid.NewString(),
		Author:       strings.TrimSpace(req.Author),
		ChapterID:    strings.TrimSpace(req.ChapterID),
		Tier:         tier,
		Status:       StatusFailed,
		ErrorCode:    code,
		ErrorMessage: cause.Error(),
		CreatedAt:    p.now(),
	}
	if breakdown != nil {
		entry.Claimed = new(big.Int).Set(breakdown.TotalRevenue)
		entry.PlatformFee = new(big.Int).Set(breakdown.PlatformFee)
		entry.Net = new(big.Int).Set(breakdown.NetAmount)
	}
	if err := p.history.Append(ctx, entry); err != nil {
		p.logger.Error("record failed claim", "chapter", req.ChapterID, "err", err)
	}
	p.sendNotification(ctx, entry.Author, notify.ClaimFailedPayload{
		ChapterID: entry.ChapterID,
		Reason:    cause.Error(),
	})
}

func (p *Processor) sendNotification(ctx context.Context, author string, payload notify.Payload) {
	if p.notifier == nil {
		return
	}
	if _, err := p.notifier.Send(ctx, author, payload); err != nil {
		p.logger.Warn("claim notification not delivered",
			"author", author, "type", payload.NotificationType(), "err", err)
	}
}

func (p *Processor) invalidateClaimable(ctx context.Context, chapterID, author string) {
	if err := p.claimable.Delete(ctx, chapterID+"|"+author); err != nil {
		p.logger.Warn("invalidate claimable cache", "chapter", chapterID, "err", err)
	}
}
