package model

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"

	"github.com/arenax/settlement-engine/internal/errs"
)

// Protocol-wide bet bounds: 0.01 SOL to 100 SOL in lamports.
const (
	MinBetLamports uint64 = 10_000_000
	MaxBetLamports uint64 = 100_000_000_000
)

// MaxFeeBasisPoints caps the platform fee at 10%.
const MaxFeeBasisPoints uint16 = 1000

// usernameRegex matches 3-30 chars from [A-Za-z0-9_-].
var usernameRegex = regexp.MustCompile(`^[A-Za-z0-9_-]{3,30}$`)

// ValidateUsername checks length and charset.
func ValidateUsername(username string) error {
	if !usernameRegex.MatchString(username) {
		return errs.ErrInvalidUsername
	}
	return nil
}

// ValidateKycLevel checks the compliance tier is 0-2.
func ValidateKycLevel(level uint8) error {
	if level > 2 {
		return errs.ErrInvalidKycLevel
	}
	return nil
}

// ValidateRegion checks the region flags are 0-4.
func ValidateRegion(region uint8) error {
	if region > 4 {
		return errs.ErrInvalidRegion
	}
	return nil
}

// ValidateFeeBasisPoints checks the platform fee is at most 1000 bps.
func ValidateFeeBasisPoints(bps uint16) error {
	if bps > MaxFeeBasisPoints {
		return errs.ErrInvalidFeePercentage
	}
	return nil
}

// ValidateChoice checks a bet choice is 1 or 2.
func ValidateChoice(choice uint8) error {
	if choice != Choice1 && choice != Choice2 {
		return errs.ErrInvalidChoice
	}
	return nil
}

// userAddressNamespace is the fixed tag mixed into user address
// derivation. Changing it would orphan every existing account.
const userAddressNamespace = "user-account:v1:"

// DeriveUserAddress maps an authority identity to its unique account
// address. The derivation is deterministic, so a second account for the
// same authority collides with the first in any uniqueness-enforcing
// store keyed by address.
func DeriveUserAddress(authority string) string {
	sum := sha256.Sum256([]byte(userAddressNamespace + authority))
	return hex.EncodeToString(sum[:])
}
