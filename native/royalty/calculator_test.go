package royalty

import (
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func tokens(whole int64, fraction int64) *big.Int {
	out := new(big.Int).Mul(big.NewInt(whole), tokenUnit)
	return out.Add(out, big.NewInt(fraction))
}

func TestComputeBreakdownPremiumSplit(t *testing.T) {
	calc, err := NewCalculator(nil)
	require.NoError(t, err)

	breakdown, err := calc.ComputeBreakdown(tokens(1, 0), TierPremium, DefaultOptions())
	require.NoError(t, err)

	require.Equal(t, "100000000000000000", breakdown.RoyaltyAmount.String(), "10% royalty")
	require.Equal(t, "50000000000000000", breakdown.PlatformFee.String(), "5% platform fee")
	require.Equal(t, "30000000000000000", breakdown.ReaderRewards.String(), "3% reader rewards")
}

func TestComputeBreakdownSplitInvariant(t *testing.T) {
	calc, err := NewCalculator(nil)
	require.NoError(t, err)

	revenues := []*big.Int{
		big.NewInt(0),
		big.NewInt(1),
		big.NewInt(999),
		tokens(1, 0),
		tokens(12, 345),
		tokens(999_999, 0),
	}
	for _, tier := range Tiers(DefaultRates()) {
		for _, revenue := range revenues {
			breakdown, err := calc.ComputeBreakdown(revenue, tier, DefaultOptions())
			require.NoError(t, err)

			sum := new(big.Int).Set(breakdown.RoyaltyAmount)
			sum.Add(sum, breakdown.PlatformFee)
			sum.Add(sum, breakdown.ReaderRewards)
			sum.Add(sum, breakdown.RemainingAmount)
			require.Zero(t, sum.Cmp(breakdown.TotalRevenue),
				"tier %s revenue %s: parts must recompose the total", tier, revenue)

			require.GreaterOrEqual(t, breakdown.NetAmount.Sign(), 0,
				"tier %s revenue %s: net amount floored at zero", tier, revenue)
		}
	}
}

func TestComputeBreakdownOptions(t *testing.T) {
	calc, err := NewCalculator(nil)
	require.NoError(t, err)

	breakdown, err := calc.ComputeBreakdown(tokens(1, 0), TierPremium, Options{})
	require.NoError(t, err)
	require.Zero(t, breakdown.PlatformFee.Sign())
	require.Zero(t, breakdown.GasFeeEstimate.Sign())
	// Without deductions the net equals the full royalty share.
	require.Zero(t, breakdown.NetAmount.Cmp(breakdown.RoyaltyAmount))
}

func TestComputeBreakdownRejectsBadInput(t *testing.T) {
	calc, err := NewCalculator(nil)
	require.NoError(t, err)

	_, err = calc.ComputeBreakdown(big.NewInt(-1), TierFree, DefaultOptions())
	require.ErrorIs(t, err, ErrNegativeAmount)

	_, err = calc.ComputeBreakdown(tokens(1, 0), Tier("platinum"), DefaultOptions())
	require.ErrorIs(t, err, ErrUnknownTier)

	tooLarge := new(big.Int).Mul(tokens(1_000_000, 0), big.NewInt(2))
	_, err = calc.ComputeBreakdown(tooLarge, TierFree, DefaultOptions())
	require.ErrorIs(t, err, ErrAmountTooLarge)
}

func TestNewCalculatorValidatesRates(t *testing.T) {
	_, err := NewCalculator(map[Tier]Rates{
		TierFree: {RoyaltyBps: 9000, PlatformBps: 2000, ReaderBps: 100},
	})
	require.Error(t, err)

	_, err = NewCalculator(map[Tier]Rates{Tier("gold"): {RoyaltyBps: 100}})
	require.True(t, errors.Is(err, ErrUnknownTier))
}

func TestCompareTiersRecommendsHighestNet(t *testing.T) {
	calc, err := NewCalculator(nil)
	require.NoError(t, err)

	comparison, err := calc.CompareTiers(TierFree, tokens(10, 0))
	require.NoError(t, err)
	require.Len(t, comparison.Breakdowns, 3)
	// Exclusive pays 20% royalty against a 3% platform fee, the best net.
	require.Equal(t, TierExclusive, comparison.Recommended)
}

func TestCompareTiersTieBreaksTowardBroaderTier(t *testing.T) {
	// Identical rates across tiers force a tie; the broader tier must win.
	flat := Rates{RoyaltyBps: 1000, PlatformBps: 500, ReaderBps: 300}
	calc, err := NewCalculator(map[Tier]Rates{
		TierFree:      flat,
		TierPremium:   flat,
		TierExclusive: flat,
	})
	require.NoError(t, err)

	comparison, err := calc.CompareTiers(TierExclusive, tokens(5, 0))
	require.NoError(t, err)
	require.Equal(t, TierFree, comparison.Recommended)
}

func TestPreviewClaimThresholds(t *testing.T) {
	calc, err := NewCalculator(nil)
	require.NoError(t, err)

	// Tiny accrual: net is below the minimum-viable threshold.
	preview, err := calc.PreviewClaim(big.NewInt(1_000_000), TierPremium)
	require.NoError(t, err)
	require.Equal(t, RecommendWait, preview.Recommendation)

	// Large accrual: net clears the optimal-claim threshold.
	preview, err = calc.PreviewClaim(tokens(10, 0), TierExclusive)
	require.NoError(t, err)
	require.Equal(t, RecommendClaimNow, preview.Recommendation)

	// Middling accrual: net clears viability but a better tier exists.
	tenth := new(big.Int).Div(tokenUnit, big.NewInt(10))
	preview, err = calc.PreviewClaim(tenth, TierPremium)
	require.NoError(t, err)
	require.Equal(t, RecommendTierUpgrade, preview.Recommendation)
}

func TestComputeBreakdownDeterministic(t *testing.T) {
	calc, err := NewCalculator(nil)
	require.NoError(t, err)

	first, err := calc.ComputeBreakdown(tokens(3, 141_592), TierPremium, DefaultOptions())
	require.NoError(t, err)
	second, err := calc.ComputeBreakdown(tokens(3, 141_592), TierPremium, DefaultOptions())
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestFormatTokens(t *testing.T) {
	cases := []struct {
		amount *big.Int
		want   string
	}{
		{big.NewInt(0), "0"},
		{tokens(1, 0), "1"},
		{new(big.Int).Div(tokenUnit, big.NewInt(2)), "0.5"},
		{tokens(12, 0).Add(tokens(12, 0), new(big.Int).Div(tokenUnit, big.NewInt(4))), "12.25"},
		{new(big.Int).Neg(tokens(2, 0)), "-2"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, FormatTokens(tc.amount))
	}
}
