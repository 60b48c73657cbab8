package models

import "time"

// Device is one entry of the namespace device roster. Note belongs to the
// client; the sync counters are copied from the server.
type Device struct {
	PublicKey       string
	Note            string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	LastSyncedAt    *time.Time
	SyncCount       int64
	UsedStorageSize int64
	MaxStorageSize  int64
}

// AuditEvent names an identity operation recorded in the audit log.
type AuditEvent string

const (
	AuditMnemonicCreated  AuditEvent = "mnemonic_created"
	AuditMnemonicImported AuditEvent = "mnemonic_imported"
	AuditIdentityCleared  AuditEvent = "identity_cleared"
)

type AuditRecord struct {
	ID        int64
	Timestamp time.Time
	Event     AuditEvent
}
