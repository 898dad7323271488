// Package entity defines the records moved by the liftsync engine.
//
// Three entity kinds are mirrored locally and synchronized with the remote
// row store: method instances, workout templates and workout sessions. The
// engine never looks inside an entity's domain payload. Payloads are carried
// as raw JSON documents and only canonicalized (sorted keys, NFC strings) so
// that the same logical document always produces the same bytes.
//
// # Time and revisions
//
// All timestamps, including the server-assigned revision marker stored in
// updated_at, are fixed-width UTC ISO-8601 strings:
//
//	2006-01-02T15:04:05.000000Z
//
// Fixed width makes lexical comparison equal to chronological comparison,
// which is what both SQLite and the remote range queries rely on.
package entity
