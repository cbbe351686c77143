package buffer

// OverflowPolicy defines how a bounded queue behaves when it reaches capacity.
type OverflowPolicy int

const (
	// DropOldest removes the oldest item to make room for new items.
	DropOldest OverflowPolicy = iota

	// DropNewest drops new items when the queue is full.
	DropNewest

	// Block causes Put to block until a drain frees space.
	Block
)

// String returns a human-readable representation of the overflow policy.
func (p OverflowPolicy) String() string {
	switch p {
	case DropOldest:
		return "DropOldest"
	case DropNewest:
		return "DropNewest"
	case Block:
		return "Block"
	default:
		return "Unknown"
	}
}

// ParseOverflowPolicy maps a configuration string to a policy. Unknown values
// fall back to DropOldest.
func ParseOverflowPolicy(s string) OverflowPolicy {
	switch s {
	case "drop_newest", "DropNewest":
		return DropNewest
	case "block", "Block":
		return Block
	default:
		return DropOldest
	}
}

// DropCallback is called with every item discarded by an overflow policy.
type DropCallback[T any] func(item T)
