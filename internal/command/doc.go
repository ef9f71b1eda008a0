// Package command is the operator-facing state machine over the listener and
// context sessions.
//
// Ownership boundary:
// - verb preconditions (connected, attached, context running)
// - attach/detach ordering around context stop and kill
// - "all" expansion to a one-time snapshot
// - REPL line parsing and batch execution
//
// It owns no network state; sessions are injected as interfaces.
package command
