package domain

import (
	"crypto/ed25519"
	"errors"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// Address errors
var (
	ErrInvalidAddress = errors.New("invalid address")
)

// ValidateAddress checks that addr is a base58-encoded 32-byte identifier.
func ValidateAddress(addr string) error {
	raw, err := base58.Decode(addr)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if len(raw) != 32 {
		return fmt.Errorf("%w: expected 32 bytes, got %d", ErrInvalidAddress, len(raw))
	}
	return nil
}

// IsOnCurve reports whether addr decodes to a valid ed25519 curve point.
// Wallet accounts are curve points; derived module accounts are not.
func IsOnCurve(addr string) bool {
	raw, err := base58.Decode(addr)
	if err != nil || len(raw) != 32 {
		return false
	}
	_, err = new(edwards25519.Point).SetBytes(raw)
	return err == nil
}

// ValidateAccountAddress checks that addr is a well-formed address and
// a valid curve point. Externally supplied accounts — callers, the
// administrator, recovery destinations — must be wallet keys.
func ValidateAccountAddress(addr string) error {
	if err := ValidateAddress(addr); err != nil {
		return err
	}
	if !IsOnCurve(addr) {
		return fmt.Errorf("%w: not an ed25519 curve point", ErrInvalidAddress)
	}
	return nil
}

// AddressFromPublicKey encodes an ed25519 public key as a base58 address.
func AddressFromPublicKey(pub ed25519.PublicKey) string {
	return base58.Encode(pub)
}
