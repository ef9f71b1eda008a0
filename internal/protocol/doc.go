// Package protocol owns the SPELL control message model and its wire codec.
//
// Ownership boundary:
// - Message (id, kind, route, sequence, flat field map)
// - field values (string, list, map) and reserved separator rules
// - Message <-> frame encoding on top of frame/ and tlv/
//
// Request/response correlation lives in internal/transport; typed operations built
// from message pairs live in internal/session.
package protocol
