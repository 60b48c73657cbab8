package models

import "time"

// Vault is one registered device's sync slot for a user within a namespace.
type Vault struct {
	ID        string
	Namespace string
	UserID    string
	PublicKey string
	Note      string

	// CurrentSequence is the last sequence number handed out for this
	// vault's stream.
	CurrentSequence int64
	SyncCount       int64
	LastSyncAt      *time.Time
	UsedStorageSize int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// PersistedEntry is the stored form of one encrypted journal entry addressed
// to one vault. The server never sees plaintext or unwrapped keys.
type PersistedEntry struct {
	VaultID        string
	Sequence       int64
	EntryID        string
	IV             []byte
	EncryptedEntry []byte
	EncryptedDEK   []byte

	// BlobKey is set when EncryptedEntry was offloaded to object storage; the
	// column then holds nothing and the ciphertext lives under this key.
	BlobKey string
	Size    int64

	CreatedAt time.Time
}

// VaultKey addresses one vault.
type VaultKey struct {
	Namespace string
	UserID    string
	PublicKey string
}

// SyncStats summarises a vault's usage. MaxStorageSize comes from the
// owner's tier and is filled in by the caller that knows it.
type SyncStats struct {
	SyncCount       int64      `json:"syncCount"`
	LastSyncAt      *time.Time `json:"lastSyncAt"`
	UsedStorageSize int64      `json:"usedStorageSize"`
	MaxStorageSize  int64      `json:"maxStorageSize"`
}

// SyncInfo is SyncStats plus the user-settable parts of a vault.
type SyncInfo struct {
	SyncStats
	PublicKey string    `json:"publicKey"`
	Note      string    `json:"note"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
