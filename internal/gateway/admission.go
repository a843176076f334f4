// ABOUTME: Admission control for concurrent websocket connections
// ABOUTME: Enforces per-session and global caps under a single lock so counters never drift

package gateway

import (
	"sync"
)

// AdmitReason explains a rejected admission.
type AdmitReason string

const (
	// ReasonPerSessionLimit means the session already holds the maximum
	// number of concurrent connections.
	ReasonPerSessionLimit AdmitReason = "per_session_limit"
	// ReasonGlobalLimit means the gateway is at capacity.
	ReasonGlobalLimit AdmitReason = "global_limit"
)

// AdmitResult is the outcome of a TryAdmit call.
type AdmitResult struct {
	Accepted bool
	Reason   AdmitReason
}

// AdmissionController tracks live connection counts per session and globally.
// Both counter families are mutated under one mutex: checking them
// independently would let the global count drift from the per-session sum.
type AdmissionController struct {
	mu         sync.Mutex
	perSession map[string]int
	global     int
	maxPerUser int
	maxGlobal  int
}

// NewAdmissionController creates a controller with the given caps. A cap of
// zero or below disables that check.
func NewAdmissionController(maxPerUser, maxGlobal int) *AdmissionController {
	return &AdmissionController{
		perSession: make(map[string]int),
		maxPerUser: maxPerUser,
		maxGlobal:  maxGlobal,
	}
}

// TryAdmit atomically checks and increments both counters. On rejection no
// state is mutated.
func (a *AdmissionController) TryAdmit(sessionKey string) AdmitResult {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.maxPerUser > 0 && a.perSession[sessionKey] >= a.maxPerUser {
		return AdmitResult{Accepted: false, Reason: ReasonPerSessionLimit}
	}
	if a.maxGlobal > 0 && a.global >= a.maxGlobal {
		return AdmitResult{Accepted: false, Reason: ReasonGlobalLimit}
	}

	a.perSession[sessionKey]++
	a.global++
	return AdmitResult{Accepted: true}
}

// Release atomically decrements both counters, floored at zero. Releasing a
// session that was never admitted (or already released) is a no-op, so a
// double release in a cleanup path can never drive a counter negative.
func (a *AdmissionController) Release(sessionKey string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	n, ok := a.perSession[sessionKey]
	if !ok {
		return
	}
	if n <= 1 {
		delete(a.perSession, sessionKey)
	} else {
		a.perSession[sessionKey] = n - 1
	}
	if a.global > 0 {
		a.global--
	}
}

// Counts returns the global connection count and the per-session sum. The two
// are equal by construction; both are returned so tests can assert it.
func (a *AdmissionController) Counts() (global, sessionSum int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, n := range a.perSession {
		sessionSum += n
	}
	return a.global, sessionSum
}
