package filter

import (
	"github.com/natsift/natsift/internal/matcher"
)

// Snapshot is an immutable bundle of the compiled expression index and the
// metadata workers need to fan out matches. Published atomically by the
// SubscriptionManager; once published it never mutates, so readers keep
// their reference for the full match-and-publish cycle while writers swap
// in fresh ones.
type Snapshot struct {
	Tree *matcher.Tree

	// Subscription id -> precomputed output subject, e.g. "sensor.filtered.42".
	OutputSubjects map[uint64]string

	ActiveCount int
}
