package royalty

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Tier identifies a license class with fixed revenue-split percentages.
type Tier string

// Supported license tiers, ordered from broadest to most restrictive access.
const (
	TierFree      Tier = "free"
	TierPremium   Tier = "premium"
	TierExclusive Tier = "exclusive"
)

// tierOrder ranks tiers for deterministic iteration and tie-breaking. Lower
// rank wins ties because it keeps content on the broader-access tier.
var tierOrder = []Tier{TierFree, TierPremium, TierExclusive}

// Rates captures the revenue split for one tier in basis points.
type Rates struct {
	RoyaltyBps  uint32
	PlatformBps uint32
	ReaderBps   uint32
}

// DefaultRates returns the built-in tier rate table.
func DefaultRates() map[Tier]Rates {
	return map[Tier]Rates{
		TierFree:      {RoyaltyBps: 500, PlatformBps: 1000, ReaderBps: 200},
		TierPremium:   {RoyaltyBps: 1000, PlatformBps: 500, ReaderBps: 300},
		TierExclusive: {RoyaltyBps: 2000, PlatformBps: 300, ReaderBps: 500},
	}
}

// ParseTier normalises and validates a tier identifier.
func ParseTier(raw string) (Tier, error) {
	tier := Tier(strings.ToLower(strings.TrimSpace(raw)))
	switch tier {
	case TierFree, TierPremium, TierExclusive:
		return tier, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownTier, raw)
}

// rank returns the tie-break position for the tier, or the map size when the
// tier is unknown so unknown entries sort last.
func rank(tier Tier) int {
	for i, candidate := range tierOrder {
		if candidate == tier {
			return i
		}
	}
	return len(tierOrder)
}

// ValidateRates checks every configured tier splits at most 100% of revenue.
// Run at start-up so a bad rate table fails construction instead of skewing
// every breakdown afterwards.
func ValidateRates(rates map[Tier]Rates) error {
	if len(rates) == 0 {
		return fmt.Errorf("royalty: rate table is empty")
	}
	for tier, entry := range rates {
		if _, err := ParseTier(string(tier)); err != nil {
			return err
		}
		total := entry.RoyaltyBps + entry.PlatformBps + entry.ReaderBps
		if total > 10_000 {
			return fmt.Errorf("royalty: tier %s rates sum to %d bps, exceeds 10000", tier, total)
		}
	}
	return nil
}

// rateFile mirrors the YAML representation of a tier rate entry.
type rateFile struct {
	Tier        string `yaml:"tier"`
	RoyaltyBps  uint32 `yaml:"royalty_bps"`
	PlatformBps uint32 `yaml:"platform_bps"`
	ReaderBps   uint32 `yaml:"reader_bps"`
}

// LoadRates reads a tier rate table from the provided YAML file on disk.
func LoadRates(path string) (map[Tier]Rates, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open tier rates: %w", err)
	}
	defer file.Close()
	dec := yaml.NewDecoder(file)
	var entries []rateFile
	if err := dec.Decode(&entries); err != nil {
		return nil, fmt.Errorf("decode tier rates: %w", err)
	}
	rates := make(map[Tier]Rates, len(entries))
	for _, entry := range entries {
		tier, err := ParseTier(entry.Tier)
		if err != nil {
			return nil, err
		}
		if _, exists := rates[tier]; exists {
			return nil, fmt.Errorf("royalty: duplicate rate entry for tier %s", tier)
		}
		rates[tier] = Rates{
			RoyaltyBps:  entry.RoyaltyBps,
			PlatformBps: entry.PlatformBps,
			ReaderBps:   entry.ReaderBps,
		}
	}
	if err := ValidateRates(rates); err != nil {
		return nil, err
	}
	return rates, nil
}

// Tiers lists the configured tiers in canonical order.
func Tiers(rates map[Tier]Rates) []Tier {
	out := make([]Tier, 0, len(rates))
	for tier := range rates {
		out = append(out, tier)
	}
	sort.Slice(out, func(i, j int) bool { return rank(out[i]) < rank(out[j]) })
	return out
}
