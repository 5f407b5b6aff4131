// Package session owns the lifecycle of browser sessions: creation with a
// bound CSRF token, validation against the owning user, the sudo window,
// and deletion.
//
// # States
//
// A session is active while now < Expires and expired afterwards. Expiry is
// detected lazily by [Manager.Validate], which schedules the row for deletion
// in the background, and eagerly by [Manager.RunSweeper].
//
// The elevated sub-state (sudo) is active while SudoUntil is set and in the
// future. It is entered at login and re-entered by [Manager.Elevate] after
// any fresh password proof.
//
// # What this package must NOT do
//
//   - Read cookies or write HTTP responses.
//   - Evaluate permissions.
//   - Log session ids.
package session
