// Package ir holds the shared vocabulary of the correlation engine.
//
// Every other internal package imports ir; ir imports nothing internal.
// The package defines:
//   - Occurrence: one normalized inbound event
//   - Subscription: a stored interest in an event type
//   - Disposition: the action a matched subscription maps to
//   - Value: the sealed set of typed field values (string, integer, boolean)
//
// Correlation key values are content-addressed: SHA-256 with domain
// separation over the canonical JSON of the correlated parameters.
// Canonical JSON orders object keys by UTF-16 code units and NFC-normalizes
// strings so that equal parameter sets always hash to the same key.
package ir
