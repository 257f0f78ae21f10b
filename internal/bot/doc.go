// Package bot implements toonbot's subscription engine: which comic item a
// user should receive next, how the delivery is recorded so it is never
// repeated, and the text-command surface driving it all.
//
// The engine is deliberately single-instance: two processes sharing one
// database would double-broadcast, because the broadcast clock is checked
// and written without a cross-process lock.
package bot
