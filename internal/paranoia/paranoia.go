// Package paranoia implements the perimeter input validators the core runs
// at every store and handler boundary, including refusal of a fixed set of
// known-bad sha256 sentinel values that indicate an untyped-None bug
// upstream rather than a real hex digest.
package paranoia

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
)

// sentinelHashes are sha256 hex digests of values that should never
// legitimately reach a hex32 field: the empty string, a lone space, and the
// stringified forms of None/True/False from a dynamically typed caller.
var sentinelHashes = map[string]string{
	sha256Hex(""):      "empty string",
	sha256Hex(" "):      "single space",
	sha256Hex("None"):  "stringified None",
	sha256Hex("True"):  "stringified True",
	sha256Hex("False"): "stringified False",
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

var walletIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,128}$`)

// IsHex32 reports whether s is exactly 64 lowercase-or-uppercase hex
// characters (a 32-byte digest) and is not one of the known-bad sentinels.
func IsHex32(s string) bool {
	if len(s) != 64 {
		return false
	}
	if _, err := hex.DecodeString(s); err != nil {
		return false
	}
	if _, bad := sentinelHashes[s]; bad {
		return false
	}
	return true
}

// RequireHex32 is IsHex32 as an error-returning assertion for call sites
// that want a descriptive failure instead of a bare bool.
func RequireHex32(field, s string) error {
	if !IsHex32(s) {
		return fmt.Errorf("paranoia: %s must be a 32-byte hex digest", field)
	}
	return nil
}

// IsPositiveMsats reports whether v is a plausible msat amount: strictly
// positive and at most 10^10 msats (0.1 BTC), guarding against overflow or
// unit-confused callers passing sats where msats were expected.
func IsPositiveMsats(v int64) bool {
	return v > 0 && v <= 10_000_000_000
}

// IsUnixTimestamp reports whether v is a plausible unix timestamp: between
// zero (meaning "unset"/"never", handled by callers) and 2^31, the classic
// 32-bit epoch rollover bound.
func IsUnixTimestamp(v int64) bool {
	return v >= 0 && v < 1<<31
}

// IsWalletID reports whether s is a short alphanumeric identifier safe to
// use as a store key component.
func IsWalletID(s string) bool {
	return walletIDPattern.MatchString(s)
}

// IsPrintableShortString reports whether s is non-empty, at most maxLen
// bytes, and contains no control characters.
func IsPrintableShortString(s string, maxLen int) bool {
	if len(s) == 0 || len(s) > maxLen {
		return false
	}
	for _, r := range s {
		if r < 0x20 || r == 0x7f {
			return false
		}
	}
	return true
}
