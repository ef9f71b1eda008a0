// Package session implements the Listener and Context sessions.
//
// A session owns one transport and moves DISCONNECTED -> READY -> DISCONNECTED
// through Login and Logout. Typed operations are request/response pairs over
// that transport. Inbound notifications become Events on a buffered channel so
// the receive goroutine never blocks on operator-facing state.
package session
