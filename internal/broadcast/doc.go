// Package broadcast runs the recurring update sweep: every interval, each
// opted-in user gets at most one new comic item through the engine.
//
// The sweep self-throttles on a persisted clock so a restart inside the
// interval does not replay a broadcast burst.
package broadcast
