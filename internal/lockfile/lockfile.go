// Package lockfile coordinates interactive authentication across bridge
// processes.
//
// Several bridge processes (one per editor window, typically) may target the
// same remote server concurrently. Only one of them may drive the
// browser-based login; the rest detect the running leader, wait on its
// completion probe, and reuse the persisted credentials. The lock exists for
// UX deduplication, not data integrity: a benign race where two processes
// briefly both lead is accepted, because a redundant login prompt is cheaper
// than a stuck lock.
package lockfile

import (
	"time"
)

// MaxAge is the hard expiry for a lock record. A record older than this is
// unconditionally stale regardless of liveness or reachability.
const MaxAge = 30 * time.Minute

// Record is the persisted lock for one fingerprint, stored as
// {fingerprint}_lock.json. Exactly one valid record may exist per
// fingerprint at a time.
type Record struct {
	// PID is the process id of the lock owner.
	PID int `json:"pid"`

	// Port is the owner's callback listener port on loopback.
	Port int `json:"port"`

	// AcquiredAt is the acquisition time in epoch milliseconds.
	AcquiredAt int64 `json:"acquired_at"`
}

// Age returns how long ago the lock was acquired.
func (r *Record) Age() time.Duration {
	return time.Since(time.UnixMilli(r.AcquiredAt))
}

// Expired reports whether the record has passed MaxAge.
func (r *Record) Expired() bool {
	return r.Age() > MaxAge
}

// Role says whether this process drives the interactive login or waits for
// another process to finish it.
type Role int

const (
	// RoleLeader runs the callback listener and the interactive flow.
	RoleLeader Role = iota

	// RoleFollower waits on the leader's completion probe and reuses the
	// persisted tokens afterwards.
	RoleFollower
)

// String makes Role satisfy fmt.Stringer.
func (r Role) String() string {
	switch r {
	case RoleLeader:
		return "leader"
	case RoleFollower:
		return "follower"
	default:
		return "unknown"
	}
}
