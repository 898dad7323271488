// Package engine implements the liftsync sync orchestrator.
//
// ARCHITECTURE:
//
// One sync cycle is a push phase followed by a pull phase, for the owner
// that is signed in when the cycle starts:
//
//  1. Push: up to PushBatch outbox entries are delivered to the remote
//     oldest-first. A failure marks that entry failed and stops the batch,
//     so later entries are never delivered ahead of an earlier one.
//  2. Pull: every entity kind is pulled concurrently. Each kind pages
//     through remote rows newer than its stored cursor, applies them with
//     last-writer-wins, skips ids that still have pending outbox entries,
//     and finally moves the cursor to the greatest revision observed.
//
// Cycles never overlap: RunCycle holds a mutex for the whole cycle. The
// Scheduler turns triggers (start, connectivity, foreground, timer, manual)
// into cycles through a signal buffer of one, so any number of triggers
// arriving during a cycle collapse into exactly one follow-up cycle.
//
// ERROR HANDLING:
//
//   - Remote failures during push are recorded on the entry (attempts,
//     last_error) and end the push phase; pull still runs.
//   - Remote failures during pull are recorded in Summary.PullErrors for that
//     kind; other kinds are unaffected and the cycle succeeds.
//   - Local store failures abort the cycle with a *StoreError. Every store
//     write is its own transaction, so nothing is left half-applied.
//   - If the signed-in owner changes mid-cycle, the cycle stops before its
//     next write and returns ErrOwnerChanged.
//
// Signed out or offline, RunCycle does nothing and returns a zero Summary.
package engine
