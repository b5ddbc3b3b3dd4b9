// Package attempt persists the bounded per-(user, passage) attempt log that
// feeds trouble-spot history.
//
// The log is strictly bounded: only the most recent [Capacity] attempts per
// (user, passage) pair are retained, oldest evicted first. Appends for the
// same pair are serialised so concurrent submissions cannot interleave an
// insert with an eviction; different pairs never block each other.
package attempt

import (
	"context"

	"github.com/offbookhq/offbook/internal/assess"
)

// Capacity is the maximum number of attempts retained per (user, passage)
// pair.
const Capacity = 10

// Store is the attempt log. Implementations must be safe for concurrent use.
type Store interface {
	// Append adds res to the log for (userID, passageRef), evicting the
	// oldest attempt when the log is at capacity.
	Append(ctx context.Context, userID, passageRef string, res *assess.Result) error

	// Log returns the retained attempts for (userID, passageRef) in
	// chronological order, oldest first. An unknown pair yields an empty
	// slice, not an error.
	Log(ctx context.Context, userID, passageRef string) ([]*assess.Result, error)
}
