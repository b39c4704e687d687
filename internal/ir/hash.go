package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// DomainCorrelationKey separates correlation key hashes from any other
// hash computed over the same bytes. The version suffix allows migrating
// the algorithm without colliding with stored configurations.
const DomainCorrelationKey = "correlate/correlation-key/v1"

// hashWithDomain computes SHA256(domain || 0x00 || data).
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// CorrelationKeyValue computes the stored value of a correlation key for
// the given parameter subset. Subscriptions registered against a subset
// carry this value as their configuration.
func CorrelationKeyValue(params []Parameter) (string, error) {
	canonical, err := MarshalCanonical(params)
	if err != nil {
		return "", fmt.Errorf("correlation key: %w", err)
	}
	return hashWithDomain(DomainCorrelationKey, canonical), nil
}

// MustCorrelationKeyValue is like CorrelationKeyValue but panics on error.
// Use only in tests or with parameters known to be valid.
func MustCorrelationKeyValue(params ...Parameter) string {
	v, err := CorrelationKeyValue(params)
	if err != nil {
		panic(err)
	}
	return v
}
