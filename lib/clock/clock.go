// Copyright 2026 The Masa Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts time for testability. Production code
// injects Real(); tests inject Fake() and advance it explicitly.
//
// Run and step timings, history timestamps, and retention cutoffs all
// flow through a Clock so tests never depend on the wall clock.
package clock

import "time"

// Clock provides the time operations masa needs. Functions that read
// the current time or wait for a duration accept a Clock (or sit on a
// struct that carries one) instead of calling the time package.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives the current time after
	// duration d elapses. If d <= 0 the channel receives immediately.
	After(d time.Duration) <-chan time.Time

	// Sleep pauses the calling goroutine for at least duration d.
	Sleep(d time.Duration)
}

// Real returns a Clock backed by the standard time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

func (realClock) Sleep(d time.Duration) { time.Sleep(d) }
