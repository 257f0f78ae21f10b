// Package messenger adapts toonbot to the Facebook Messenger platform:
// webhook ingress (verification handshake + page event batches) and the
// Graph API send pipeline.
//
// The webhook must be acknowledged within a short window or the platform
// resends the event, so inbound events are handed off to a buffered
// channel and processed asynchronously. Outbound sends are fire-and-forget
// behind a rate-limited worker pool; failures are logged, never returned
// to the engine.
package messenger
