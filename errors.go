package krl

import "errors"

var (
	// ErrInvalidConfig is returned by New when the configuration fails
	// validation. Configuration problems surface at construction and never
	// on the Check path.
	ErrInvalidConfig = errors.New("krl: invalid configuration")

	// ErrEmptyKey is returned by Check, Reset, and Decrement when the
	// resolved rate limit key is empty.
	ErrEmptyKey = errors.New("krl: empty rate limit key")

	// ErrResetAllUnsupported is returned by ResetAll when the configured
	// store does not implement store.BulkResetter.
	ErrResetAllUnsupported = errors.New("krl: store does not support reset all")
)
