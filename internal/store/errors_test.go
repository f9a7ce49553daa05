// Boreal - Real-Time Astronomical Alert Broker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/boreal

package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestIsTransient(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"sentinel", ErrTransient, true},
		{"wrapped sentinel", fmt.Errorf("query: %w", ErrTransient), true},
		{"connection reset", errors.New("read tcp: connection reset by peer"), true},
		{"bad connection", errors.New("driver: bad connection"), true},
		{"locked", errors.New("IO Error: database is locked"), true},
		{"deadline", context.DeadlineExceeded, false},
		{"canceled", context.Canceled, false},
		{"not found", ErrNotFound, false},
		{"invalid input", ErrInvalidInput, false},
		{"syntax error", errors.New("Parser Error: syntax error at or near"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestIsDuplicateKey(t *testing.T) {
	t.Parallel()

	if !isDuplicateKey(errors.New(`Constraint Error: Duplicate key "candid: 1" violates primary key constraint`)) {
		t.Error("duplicate key violation not recognized")
	}
	if isDuplicateKey(errors.New("some other failure")) {
		t.Error("unrelated error classified as duplicate key")
	}
	if isDuplicateKey(nil) {
		t.Error("nil classified as duplicate key")
	}
}
