package storage

import (
	"time"
)

// Config configures the SQLite store.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default
}

// User is a messenger user. The id is the platform-assigned sender id.
// Users are created on first interaction and never deleted.
type User struct {
	ID     string
	Notify bool
}

// Feed is a named comic source. Rows are created lazily on first
// subscription and deleted when the last subscriber leaves.
type Feed struct {
	ID   int64
	Name string
}

// Subscription links a user to a feed. FeedName is denormalized for display.
type Subscription struct {
	UserID   string
	FeedID   int64
	FeedName string
}

// openSentinel marks a delivery row as "open": the most recent item sent to
// a user for a feed, not yet superseded by a newer delivery.
var openSentinel = time.Date(9999, time.December, 31, 0, 0, 0, 0, time.UTC)

// DeliveryRecord is one row of the delivery ledger. At most one open row
// exists per (user, feed); RecordDelivery closes the prior open row and
// inserts the next in a single transaction.
type DeliveryRecord struct {
	UserID        string
	FeedID        int64
	ItemID        string
	DeliveredFrom time.Time
	DeliveredTo   time.Time
}

// Open reports whether the row is the current open record for its pair.
func (r DeliveryRecord) Open() bool {
	return r.DeliveredTo.Equal(openSentinel)
}
