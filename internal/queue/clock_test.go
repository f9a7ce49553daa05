// Boreal - Real-Time Astronomical Alert Broker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/boreal

package queue

import (
	"testing"
	"time"
)

func TestFakeClockAfterFiresOnAdvance(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	clk := NewFakeClock(start)

	timer := clk.After(time.Minute)
	select {
	case <-timer:
		t.Fatal("timer fired before the clock advanced")
	default:
	}

	// Short of the deadline: still pending.
	clk.Advance(30 * time.Second)
	select {
	case <-timer:
		t.Fatal("timer fired before its deadline")
	default:
	}

	clk.Advance(30 * time.Second)
	select {
	case at := <-timer:
		if !at.Equal(start.Add(time.Minute)) {
			t.Errorf("fired at %v, want %v", at, start.Add(time.Minute))
		}
	default:
		t.Fatal("timer did not fire at its deadline")
	}
}

func TestFakeClockAfterNonPositive(t *testing.T) {
	t.Parallel()

	clk := NewFakeClock(time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC))
	select {
	case <-clk.After(0):
	default:
		t.Fatal("After(0) did not fire immediately")
	}
}
