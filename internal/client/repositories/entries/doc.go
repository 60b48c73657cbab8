// Package entries provides the client's event journal.
//
// The journal is local-only storage of plaintext entries keyed by entryId.
// Entries created on this device are appended with pushed=0 and flipped to
// pushed=1 once the server acknowledges them; entries received from the
// server are inserted already pushed together with their server sequence.
// Receiving an entry twice is a no-op, which makes replay after a crash
// between append and checkpoint safe.
//
// The SQLite implementation works over dbx.DBTX, so it can be bound to a
// *sql.DB or to a *sql.Tx.
package entries
