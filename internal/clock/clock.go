// Package clock implements the vector-clock and Lamport-timestamp predicates
// of §4.1: pure functions over map[string]int64, no shared mutable state of
// their own. Grounded on the teacher's version-counter handling in
// ot.go (RoomState.CurrentVersion, Operation.Version) generalized to full
// per-user vector clocks, and on the other_examples vector_clock.go
// (aidenlippert-zerostate) HappensBefore/ConcurrentWith shape.
package clock

// VectorClock is a per-user monotonic counter map. The zero value behaves as
// the all-zero clock.
type VectorClock map[string]int64

// Copy returns an independent copy.
func (vc VectorClock) Copy() VectorClock {
	out := make(VectorClock, len(vc))
	for k, v := range vc {
		out[k] = v
	}
	return out
}

// Increment bumps the counter for user and returns the receiver for chaining.
func (vc VectorClock) Increment(user string) VectorClock {
	vc[user]++
	return vc
}

// HappensBefore reports whether a causally precedes b: every entry of a is
// <= the corresponding entry of b, and at least one is strictly less.
func HappensBefore(a, b VectorClock) bool {
	strictlyLess := false
	for k, av := range a {
		bv := b[k]
		if av > bv {
			return false
		}
		if av < bv {
			strictlyLess = true
		}
	}
	for k, bv := range b {
		if _, ok := a[k]; !ok && bv > 0 {
			strictlyLess = true
		}
	}
	return strictlyLess
}

// Concurrent reports whether neither clock happens-before the other.
func Concurrent(a, b VectorClock) bool {
	return !HappensBefore(a, b) && !HappensBefore(b, a)
}

// Equal reports whether two clocks carry identical counters (ignoring
// explicit zero entries vs. absent keys).
func Equal(a, b VectorClock) bool {
	return !HappensBefore(a, b) && !HappensBefore(b, a) && sameKeys(a, b)
}

func sameKeys(a, b VectorClock) bool {
	for k, av := range a {
		if b[k] != av {
			return false
		}
	}
	for k, bv := range b {
		if a[k] != bv {
			return false
		}
	}
	return true
}

// Merge returns the per-key maximum of a and b; the result is a clock that
// causally dominates both inputs.
func Merge(a, b VectorClock) VectorClock {
	out := make(VectorClock, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		if v > out[k] {
			out[k] = v
		}
	}
	return out
}

// Valid rejects malformed clocks: every entry must be a non-negative integer.
// Callers surface this as VALIDATION_FAILED per §4.1.
func Valid(vc VectorClock) bool {
	for _, v := range vc {
		if v < 0 {
			return false
		}
	}
	return true
}

// Lamport is a single scalar logical clock, totally ordered with user-id
// tie-breaking.
type Lamport int64

// Merge produces the new-event Lamport value: max(self, other) + 1.
func (l Lamport) Merge(other Lamport) Lamport {
	if other > l {
		return other + 1
	}
	return l + 1
}

// Tie is the total order used when (lamport, timestamp) alone can't break a
// tie: lexicographic comparison of user ids.
type Tie struct {
	Lamport   int64
	Timestamp int64
	UserID    string
}

// Less implements the total order (lamport, timestamp, user_id) ascending.
func (t Tie) Less(o Tie) bool {
	if t.Lamport != o.Lamport {
		return t.Lamport < o.Lamport
	}
	if t.Timestamp != o.Timestamp {
		return t.Timestamp < o.Timestamp
	}
	return t.UserID < o.UserID
}
