package royalty

import (
	"errors"
	"fmt"
	"math/big"
)

var (
	// ErrUnknownTier reports an unrecognised license tier identifier.
	ErrUnknownTier = errors.New("royalty: unknown license tier")
	// ErrNegativeAmount reports a negative revenue amount.
	ErrNegativeAmount = errors.New("royalty: revenue must be non-negative")
	// ErrAmountTooLarge reports revenue above the configured maximum.
	ErrAmountTooLarge = errors.New("royalty: revenue exceeds maximum")
)

// Amounts are fixed-point integers with 18 implied decimals (wei-style).
var (
	defaultGasFee      = big.NewInt(1_000_000_000_000_000)      // 0.001 token
	defaultMinViable   = big.NewInt(1_000_000_000_000_000)      // 0.001 token
	defaultOptimal     = big.NewInt(10_000_000_000_000_000)     // 0.01 token
	defaultMaxRevenue  = new(big.Int).Exp(big.NewInt(10), big.NewInt(24), nil) // 1e6 tokens
	bpsDenominator     = big.NewInt(10_000)
)

// Breakdown is the computed split of a revenue amount. The split invariant
// RoyaltyAmount + PlatformFee + ReaderRewards + RemainingAmount == TotalRevenue
// holds for every breakdown the calculator produces.
type Breakdown struct {
	Tier            Tier     `json:"tier"`
	TotalRevenue    *big.Int `json:"totalRevenue"`
	RoyaltyAmount   *big.Int `json:"royaltyAmount"`
	PlatformFee     *big.Int `json:"platformFee"`
	ReaderRewards   *big.Int `json:"readerRewards"`
	RemainingAmount *big.Int `json:"remainingAmount"`
	GasFeeEstimate  *big.Int `json:"gasFeeEstimate"`
	NetAmount       *big.Int `json:"netAmount"`
}

// Clone returns a deep copy of the breakdown.
func (b *Breakdown) Clone() *Breakdown {
	if b == nil {
		return nil
	}
	clone := &Breakdown{Tier: b.Tier}
	clone.TotalRevenue = cloneBig(b.TotalRevenue)
	clone.RoyaltyAmount = cloneBig(b.RoyaltyAmount)
	clone.PlatformFee = cloneBig(b.PlatformFee)
	clone.ReaderRewards = cloneBig(b.ReaderRewards)
	clone.RemainingAmount = cloneBig(b.RemainingAmount)
	clone.GasFeeEstimate = cloneBig(b.GasFeeEstimate)
	clone.NetAmount = cloneBig(b.NetAmount)
	return clone
}

// Options toggles the optional deductions applied to a breakdown.
type Options struct {
	IncludeGasFee      bool
	IncludePlatformFee bool
}

// DefaultOptions applies both the platform fee and the gas estimate.
func DefaultOptions() Options {
	return Options{IncludeGasFee: true, IncludePlatformFee: true}
}

// Recommendation summarises whether claiming now is worthwhile.
type Recommendation string

// Claim preview recommendations.
const (
	RecommendClaimNow    Recommendation = "claim_now"
	RecommendWait        Recommendation = "wait_for_more"
	RecommendTierUpgrade Recommendation = "consider_tier_upgrade"
)

// Comparison holds per-tier breakdowns for the same revenue amount.
type Comparison struct {
	Revenue     *big.Int            `json:"revenue"`
	CurrentTier Tier                `json:"currentTier"`
	Breakdowns  map[Tier]*Breakdown `json:"breakdowns"`
	Recommended Tier                `json:"recommendedTier"`
}

// Preview bundles a breakdown with the tier comparison and a claim-timing
// recommendation.
type Preview struct {
	Breakdown      *Breakdown     `json:"breakdown"`
	Comparison     *Comparison    `json:"comparison"`
	Recommendation Recommendation `json:"recommendation"`
}

// Calculator maps revenue amounts onto tier-specific royalty splits. It is
// pure: no I/O, deterministic for a given rate table.
type Calculator struct {
	rates      map[Tier]Rates
	gasFee     *big.Int
	maxRevenue *big.Int
	minViable  *big.Int
	optimal    *big.Int
}

// CalculatorOption customises a calculator instance.
type CalculatorOption func(*Calculator)

// WithGasFee overrides the fixed gas-fee estimate.
func WithGasFee(fee *big.Int) CalculatorOption {
	return func(c *Calculator) {
		if fee != nil {
			c.gasFee = new(big.Int).Set(fee)
		}
	}
}

// WithMaxRevenue overrides the maximum accepted revenue amount.
func WithMaxRevenue(max *big.Int) CalculatorOption {
	return func(c *Calculator) {
		if max != nil {
			c.maxRevenue = new(big.Int).Set(max)
		}
	}
}

// WithThresholds overrides the minimum-viable and optimal-claim thresholds
// used by Preview.
func WithThresholds(minViable, optimal *big.Int) CalculatorOption {
	return func(c *Calculator) {
		if minViable != nil {
			c.minViable = new(big.Int).Set(minViable)
		}
		if optimal != nil {
			c.optimal = new(big.Int).Set(optimal)
		}
	}
}

// NewCalculator constructs a calculator for the supplied rate table. The
// table is validated up front; a tier whose rates exceed 100% is rejected.
func NewCalculator(rates map[Tier]Rates, opts ...CalculatorOption) (*Calculator, error) {
	if rates == nil {
		rates = DefaultRates()
	}
	if err := ValidateRates(rates); err != nil {
		return nil, err
	}
	cloned := make(map[Tier]Rates, len(rates))
	for tier, entry := range rates {
		cloned[tier] = entry
	}
	calc := &Calculator{
		rates:      cloned,
		gasFee:     new(big.Int).Set(defaultGasFee),
		maxRevenue: new(big.Int).Set(defaultMaxRevenue),
		minViable:  new(big.Int).Set(defaultMinViable),
		optimal:    new(big.Int).Set(defaultOptimal),
	}
	for _, opt := range opts {
		opt(calc)
	}
	return calc, nil
}

// Rates returns the configured split for a tier.
func (c *Calculator) Rates(tier Tier) (Rates, bool) {
	entry, ok := c.rates[tier]
	return entry, ok
}

// ComputeBreakdown splits the revenue amount according to the tier's rates.
// The remainder after royalty, platform fee, and reader rewards stays with
// the platform pool so the four parts always recompose the total.
func (c *Calculator) ComputeBreakdown(revenue *big.Int, tier Tier, opts Options) (*Breakdown, error) {
	rates, ok := c.rates[tier]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTier, tier)
	}
	if revenue == nil || revenue.Sign() < 0 {
		return nil, ErrNegativeAmount
	}
	if revenue.Cmp(c.maxRevenue) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrAmountTooLarge, revenue)
	}

	royaltyAmount := applyBps(revenue, rates.RoyaltyBps)
	platformFee := big.NewInt(0)
	if opts.IncludePlatformFee {
		platformFee = applyBps(revenue, rates.PlatformBps)
	}
	readerRewards := applyBps(revenue, rates.ReaderBps)

	remaining := new(big.Int).Set(revenue)
	remaining.Sub(remaining, royaltyAmount)
	remaining.Sub(remaining, platformFee)
	remaining.Sub(remaining, readerRewards)

	gasFee := big.NewInt(0)
	if opts.IncludeGasFee {
		gasFee = new(big.Int).Set(c.gasFee)
	}

	net := new(big.Int).Set(royaltyAmount)
	net.Sub(net, platformFee)
	net.Sub(net, gasFee)
	if net.Sign() < 0 {
		net.SetInt64(0)
	}

	return &Breakdown{
		Tier:            tier,
		TotalRevenue:    new(big.Int).Set(revenue),
		RoyaltyAmount:   royaltyAmount,
		PlatformFee:     platformFee,
		ReaderRewards:   readerRewards,
		RemainingAmount: remaining,
		GasFeeEstimate:  gasFee,
		NetAmount:       net,
	}, nil
}

// CompareTiers computes breakdowns for every configured tier and recommends
// the one with the highest net amount. Ties go to the broader-access tier.
func (c *Calculator) CompareTiers(current Tier, revenue *big.Int) (*Comparison, error) {
	if _, ok := c.rates[current]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTier, current)
	}
	comparison := &Comparison{
		Revenue:     cloneBig(revenue),
		CurrentTier: current,
		Breakdowns:  make(map[Tier]*Breakdown, len(c.rates)),
	}
	var best Tier
	var bestNet *big.Int
	for _, tier := range Tiers(c.rates) {
		breakdown, err := c.ComputeBreakdown(revenue, tier, DefaultOptions())
		if err != nil {
			return nil, err
		}
		comparison.Breakdowns[tier] = breakdown
		if bestNet == nil || breakdown.NetAmount.Cmp(bestNet) > 0 {
			best = tier
			bestNet = breakdown.NetAmount
		}
	}
	comparison.Recommended = best
	return comparison, nil
}

// PreviewClaim reports whether the accrued revenue is worth claiming at the
// current tier. Net below the minimum-viable threshold recommends waiting;
// net at or above the optimal threshold recommends claiming immediately; in
// between, a tier with a strictly better net suggests an upgrade.
func (c *Calculator) PreviewClaim(revenue *big.Int, tier Tier) (*Preview, error) {
	breakdown, err := c.ComputeBreakdown(revenue, tier, DefaultOptions())
	if err != nil {
		return nil, err
	}
	comparison, err := c.CompareTiers(tier, revenue)
	if err != nil {
		return nil, err
	}
	recommendation := RecommendClaimNow
	switch {
	case breakdown.NetAmount.Cmp(c.minViable) < 0:
		recommendation = RecommendWait
	case breakdown.NetAmount.Cmp(c.optimal) >= 0:
		recommendation = RecommendClaimNow
	case comparison.Recommended != tier:
		recommendation = RecommendTierUpgrade
	}
	return &Preview{
		Breakdown:      breakdown,
		Comparison:     comparison,
		Recommendation: recommendation,
	}, nil
}

// MinimumViable returns the configured minimum-viable claim threshold.
func (c *Calculator) MinimumViable() *big.Int {
	return new(big.Int).Set(c.minViable)
}

func applyBps(amount *big.Int, bps uint32) *big.Int {
	if amount == nil || amount.Sign() <= 0 || bps == 0 {
		return big.NewInt(0)
	}
	out := new(big.Int).Mul(amount, big.NewInt(int64(bps)))
	return out.Div(out, bpsDenominator)
}

func cloneBig(in *big.Int) *big.Int {
	if in == nil {
		return nil
	}
	return new(big.Int).Set(in)
}
