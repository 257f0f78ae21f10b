// Package storage persists toonbot's subscription state:
//
//   - Users (messenger id + notification flag)
//   - Feeds (named comic sources, garbage-collected when unsubscribed)
//   - Subscriptions (user x feed)
//   - Delivery ledger (which item went to which user, open/closed rows)
//   - Broadcast clock (when the last scheduled sweep ran)
//
// Uniqueness and cascade invariants are enforced here and nowhere else.
package storage
