package storage

import (
	"context"
	"time"
)

// Store is the persistence API used by the engine and the broadcaster.
//
// All operations are synchronous; multi-row writes run in a single
// transaction. Errors are I/O or constraint failures and should be
// surfaced, not retried.
type Store interface {
	// UpsertUser inserts the user if unknown. An existing user's
	// notification flag is left untouched.
	UpsertUser(ctx context.Context, id string) (User, error)
	SetNotification(ctx context.Context, id string, enabled bool) error
	// Users returns every known user.
	Users(ctx context.Context) ([]User, error)

	GetOrCreateFeed(ctx context.Context, name string) (Feed, error)
	GetFeed(ctx context.Context, name string) (Feed, bool, error)
	// DeleteFeed removes a feed; subscriptions cascade. The caller is
	// expected to have verified the feed has no subscribers left.
	DeleteFeed(ctx context.Context, feedID int64) error

	AddSubscription(ctx context.Context, userID string, feedID int64) error
	RemoveSubscription(ctx context.Context, userID string, feedID int64) error
	SubscriptionsByUser(ctx context.Context, userID string) ([]Subscription, error)
	SubscriptionsByFeed(ctx context.Context, feedID int64) ([]Subscription, error)

	// RecordDelivery closes any open record for (user, feed) and inserts a
	// new open record for the item, atomically.
	RecordDelivery(ctx context.Context, userID string, feedID int64, itemID string) error
	// OpenDeliveriesByUser returns the user's open records, at most one per feed.
	OpenDeliveriesByUser(ctx context.Context, userID string) ([]DeliveryRecord, error)

	// BroadcastClock returns when the last scheduled sweep ran, if ever.
	BroadcastClock(ctx context.Context) (t time.Time, ok bool, err error)
	SetBroadcastClock(ctx context.Context, t time.Time) error

	Close() error
}
