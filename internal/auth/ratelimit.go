// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Taskboard Contributors

package auth

import (
	"time"
)

// Login lockout defaults.
const (
	// LockoutDuration is the time an account is locked after too many failures.
	LockoutDuration = 15 * time.Minute

	// LockoutThreshold is the number of consecutive failures that triggers a lockout.
	LockoutThreshold = 7
)

// LockoutPolicy decides when repeated login failures lock an account.
// A zero Threshold disables lockout.
type LockoutPolicy struct {
	Threshold int
	Duration  time.Duration
}

// DefaultLockoutPolicy returns the standard lockout policy.
func DefaultLockoutPolicy() LockoutPolicy {
	return LockoutPolicy{Threshold: LockoutThreshold, Duration: LockoutDuration}
}

// LockoutState describes an account's lockout at a point in time.
type LockoutState struct {
	IsLockedOut bool
	Remaining   time.Duration
}

// Check evaluates the lockout state of an account at now.
func (p LockoutPolicy) Check(lockedUntil *time.Time, now time.Time) LockoutState {
	if !IsLockedOut(lockedUntil, now) {
		return LockoutState{}
	}
	return LockoutState{IsLockedOut: true, Remaining: lockedUntil.Sub(now)}
}

// NextLockout returns the lockout timestamp after the given number of
// consecutive failures, or nil while under the threshold.
func (p LockoutPolicy) NextLockout(failures int, now time.Time) *time.Time {
	if p.Threshold <= 0 || failures < p.Threshold {
		return nil
	}
	lockout := now.Add(p.Duration)
	return &lockout
}

// IsLockedOut returns true if the lockout time is after now.
func IsLockedOut(lockedUntil *time.Time, now time.Time) bool {
	return lockedUntil != nil && lockedUntil.After(now)
}
