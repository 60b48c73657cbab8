// Package cli provides the vaultsync command-line client.
//
// It wires configuration, local storage, the identity and journal services,
// the sync engine and the server APIs behind a cobra command tree. Every
// command opens the local database under its single-writer lock; the
// interactive shell keeps it open and runs the sync engine in the
// background.
//
// Key features:
//   - register / login / logout (online with offline fallback)
//   - identity create / import / show / clear
//   - devices list / note / refresh / destroy
//   - record / list / show journal entries
//   - sync (one pass) and watch (live)
package cli
