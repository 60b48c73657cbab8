package proto

import "time"

// Vault HTTP API paths. Per-vault calls take q=base64("namespace:publicKey");
// registration takes q=base64("namespace").
const (
	PathRegister = "/sync/api/register"
	PathStats    = "/sync/api/stats"
	PathUpdate   = "/sync/api/update"
	PathDestroy  = "/sync/api/destroy"
)

type RegisterItem struct {
	PublicKey string    `json:"publicKey"`
	Note      string    `json:"note"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type RegisterRequest struct {
	Items []RegisterItem `json:"items"`
}

type SyncStats struct {
	SyncCount       int64      `json:"syncCount"`
	LastSyncAt      *time.Time `json:"lastSyncAt"`
	UsedStorageSize int64      `json:"usedStorageSize"`
	MaxStorageSize  int64      `json:"maxStorageSize"`
}

// SyncPublicKeyItem is one device of the namespace roster.
type SyncPublicKeyItem struct {
	SyncStats
	PublicKey string    `json:"publicKey"`
	Note      string    `json:"note"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type UpdateNoteRequest struct {
	Note string `json:"note"`
}

type DestroyStatus struct {
	InstanceID  string    `json:"instanceId"`
	Status      string    `json:"status"`
	DeleteAfter time.Time `json:"deleteAfter"`
}

// ErrorBody is the JSON body of every non-2xx response. Code, Limit and
// Current are set for quota failures.
type ErrorBody struct {
	Error   string `json:"error"`
	Code    int    `json:"code,omitempty"`
	Limit   int64  `json:"limit,omitempty"`
	Current int64  `json:"current,omitempty"`
}
