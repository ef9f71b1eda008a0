// Package transport owns one framed connection to one SPELL peer (listener or context).
//
// Ownership boundary:
// - dial/TLS/retry, one receive goroutine per connection
// - sequence assignment and the pending-correlation table
// - request timeouts and orphaned-response handling
// - inbound notification/request dispatch to a Listener
package transport
