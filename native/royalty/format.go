package royalty

import (
	"math/big"
	"strings"
)

// tokenDecimals is the implied fixed-point precision of all amounts.
const tokenDecimals = 18

var tokenUnit = new(big.Int).Exp(big.NewInt(10), big.NewInt(tokenDecimals), nil)

// FormatTokens renders a fixed-point amount as a human-readable decimal
// string, trimming trailing zeros ("1500000000000000000" -> "1.5").
func FormatTokens(amount *big.Int) string {
	if amount == nil || amount.Sign() == 0 {
		return "0"
	}
	value := new(big.Int).Set(amount)
	negative := value.Sign() < 0
	if negative {
		value.Neg(value)
	}
	whole, frac := new(big.Int).QuoRem(value, tokenUnit, new(big.Int))
	out := whole.String()
	if frac.Sign() > 0 {
		digits := frac.String()
		if pad := tokenDecimals - len(digits); pad > 0 {
			digits = strings.Repeat("0", pad) + digits
		}
		digits = strings.TrimRight(digits, "0")
		out += "." + digits
	}
	if negative {
		out = "-" + out
	}
	return out
}

// ParseTokens parses a base-10 fixed-point integer string.
func ParseTokens(raw string) (*big.Int, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return big.NewInt(0), true
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, false
	}
	return value, true
}
