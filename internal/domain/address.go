package domain

import "strings"

// ZeroAddress is the canonical EVM zero address. Transfers from it are mints,
// transfers to it are burns.
const ZeroAddress = "0x0000000000000000000000000000000000000000"

// NormalizeAddress returns the canonical lower-case form of an address or hash.
func NormalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

// IsZeroAddress reports whether addr is the zero address.
func IsZeroAddress(addr string) bool {
	return NormalizeAddress(addr) == ZeroAddress
}
