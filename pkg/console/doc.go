// Package console multiplexes PTY-backed sessions: one zlogin -C console
// per zone and any number of host shell terminals. A single reader goroutine
// per PTY fans output out to subscribers over bounded queues, so one slow
// WebSocket can never stall the console or its siblings; overflow drops the
// oldest chunks and injects a visible marker. Writes are serialized through
// a single channel in arrival order.
//
// Each session keeps two output tails: a raw byte ring for replay when a
// subscriber attaches mid-stream, and a line ring persisted to the store so
// the tail survives agent restarts. Recipe automation can take exclusive
// write control of a zone console; interactive input is discarded while it
// holds the session and the stream carries automation markers so attached
// users can tell why.
package console
