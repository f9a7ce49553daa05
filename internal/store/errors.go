// Boreal - Real-Time Astronomical Alert Broker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/boreal

package store

import (
	"context"
	"errors"
	"strings"
)

// Sentinel errors returned by the store. Callers branch on these with
// errors.Is to pick the policy from the error taxonomy: transient errors
// are retried with bounded attempts, duplicates are idempotent no-ops,
// invalid input is dropped and logged, not-found surfaces to the caller.
var (
	ErrNotFound     = errors.New("store: not found")
	ErrInvalidInput = errors.New("store: invalid input")

	// ErrTransient wraps failures worth retrying (connection loss,
	// transient lock conflicts). Tests also inject it directly.
	ErrTransient = errors.New("store: transient failure")
)

// transientFragments are substrings of driver/engine errors that indicate a
// retryable condition rather than a permanent one.
var transientFragments = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"driver: bad connection",
	"database is locked",
	"could not set lock",
	"io error",
	"timeout",
}

// IsTransient reports whether err represents a condition that may succeed
// on retry. Deadline expiry is deliberately not transient: the caller's
// time budget is spent.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTransient) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, frag := range transientFragments {
		if strings.Contains(msg, frag) {
			return true
		}
	}
	return false
}

// isDuplicateKey reports whether err is a unique/primary key violation.
// Duplicate keys are not errors in this system; they signal idempotent
// re-delivery and are treated as no-op success.
func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "primary key or unique constraint violat") ||
		strings.Contains(msg, "constraint error")
}
