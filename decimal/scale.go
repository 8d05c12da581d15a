// Package decimal converts between human-readable decimal amounts and
// chain-native raw integer amounts using arbitrary-precision integer math
// exclusively. No part of this package ever touches a float: the upstream
// design is explicit that binary floating point must never represent a
// custody amount. This is implemented against the standard library
// (math/big) deliberately — no pack example ships a fixed-point decimal
// library, and introducing one here would duplicate exactly what math/big
// already guarantees (exact integer arithmetic), so stdlib is the correct
// choice rather than an unjustified one.
package decimal

import (
	"math/big"
	"strings"

	"github.com/pkg/errors"
)

// ToRaw converts a human decimal string (e.g. "1.5") to its raw integer
// representation at the given number of decimals (e.g. 18 -> "1500000000000000000"),
// by string manipulation and big.Int parsing only: split on '.', right-pad
// the fractional part to decimals, concatenate, parse as base 10.
func ToRaw(amountHuman string, decimals int) (string, error) {
	if decimals < 0 {
		return "", errors.Errorf("negative decimals %d", decimals)
	}
	s := strings.TrimSpace(amountHuman)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	parts := strings.SplitN(s, ".", 2)
	whole := parts[0]
	frac := ""
	if len(parts) == 2 {
		frac = parts[1]
	}
	if whole == "" {
		whole = "0"
	}
	if len(frac) > decimals {
		return "", errors.Errorf("amount %q has more than %d fractional digits", amountHuman, decimals)
	}
	frac = frac + strings.Repeat("0", decimals-len(frac))

	digits := whole + frac
	n, ok := new(big.Int).SetString(digits, 10)
	if !ok {
		return "", errors.Errorf("invalid decimal amount %q", amountHuman)
	}
	if neg {
		n.Neg(n)
	}
	return n.String(), nil
}

// FromRaw renders a raw integer amount back to a human decimal string at
// the given number of decimals. The orchestration planner uses it to fill
// consolidation_queue.amount_human from wallet_balances.available_raw;
// withdrawal jobs keep the request's own amount_human.
func FromRaw(amountRaw string, decimals int) (string, error) {
	n, ok := new(big.Int).SetString(amountRaw, 10)
	if !ok {
		return "", errors.Errorf("invalid raw amount %q", amountRaw)
	}
	neg := n.Sign() < 0
	if neg {
		n.Neg(n)
	}
	digits := n.String()
	if decimals == 0 {
		if neg {
			return "-" + digits, nil
		}
		return digits, nil
	}
	for len(digits) <= decimals {
		digits = "0" + digits
	}
	cut := len(digits) - decimals
	whole, frac := digits[:cut], digits[cut:]
	frac = strings.TrimRight(frac, "0")
	out := whole
	if frac != "" {
		out += "." + frac
	}
	if neg {
		out = "-" + out
	}
	return out, nil
}
