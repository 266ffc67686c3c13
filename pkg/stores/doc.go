// Package stores keeps transcripts of core sessions in SQLite. Every
// command sent to a core, the lines that came back and how the exchange
// was classified are stored per session, so a failed run can be replayed
// or inspected after the core is gone.
package stores
