// Package client talks to the vaultsync server and opens the local
// database.
//
// GRPCClient covers the account RPCs (Register, GetSalt, Login, Refresh,
// Ping) and opens sync streams. A stream is wrapped in a Conn, which
// multiplexes write, entries and subscribe requests by request id and
// routes pushed change frames to a Subscription. VaultClient calls the
// vault HTTP API (roster registration, stats, notes, destroy).
//
// Transport failures are mapped to ErrUnavailable, ErrUnauthorized,
// ErrClosed, the common sentinel errors, or the typed QuotaExceededError,
// TooManyRequestsError and WriteTimeoutError. Retryable tells transient
// failures apart.
//
// InitDatabase opens the SQLite database and applies the embedded goose
// migrations; NewRepositories binds the local stores to it.
package client
