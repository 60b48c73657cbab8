package proto

type RegisterUserRequest struct {
	Username string `json:"username"`
	Salt     []byte `json:"salt"`
	Verifier []byte `json:"verifier"`
}

type RegisterUserResponse struct {
	UserID string `json:"userId"`
}

type GetSaltRequest struct {
	Username string `json:"username"`
}

type GetSaltResponse struct {
	Salt []byte `json:"salt"`
}

type LoginRequest struct {
	Username          string `json:"username"`
	VerifierCandidate []byte `json:"verifierCandidate"`
}

type LoginResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

type RefreshTokenRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type RefreshTokenResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

type PingRequest struct{}

type PingResponse struct {
	Status string `json:"status"`
}

// Frame types.
const (
	FrameWrite       = "write"
	FrameEntries     = "entries"
	FrameSubscribe   = "subscribe"
	FrameUnsubscribe = "unsubscribe"

	FrameWritten    = "written"
	FrameBatch      = "batch"
	FrameSubscribed = "subscribed"
	FrameChange     = "change"
	FrameError      = "error"
)

// Envelope is an entry DEK wrapped for one recipient device.
type Envelope struct {
	PublicKey    string `json:"publicKey"`
	EncryptedDEK []byte `json:"encryptedDEK"`
}

// Entry is an encrypted journal entry. Outgoing entries carry Keys, one
// envelope per recipient; entries read back carry the reader's own
// EncryptedDEK and the server sequence.
type Entry struct {
	EntryID        string     `json:"entryId"`
	IV             []byte     `json:"iv"`
	EncryptedEntry []byte     `json:"encryptedEntry"`
	EncryptedDEK   []byte     `json:"encryptedDEK,omitempty"`
	Keys           []Envelope `json:"keys,omitempty"`
	Sequence       int64      `json:"sequence,omitempty"`
}

// ClientFrame is a request on the sync stream.
//
//	write        Entries
//	entries      After, Limit
//	subscribe    After
//	unsubscribe  -
type ClientFrame struct {
	Type      string  `json:"type"`
	RequestID string  `json:"requestId"`
	Entries   []Entry `json:"entries,omitempty"`
	After     int64   `json:"after,omitempty"`
	Limit     int     `json:"limit,omitempty"`
}

// ServerFrame is a response or push on the sync stream. Change frames
// carry the RequestID of the subscribe that started the feed.
type ServerFrame struct {
	Type       string   `json:"type"`
	RequestID  string   `json:"requestId,omitempty"`
	Entries    []Entry  `json:"entries,omitempty"`
	Accepted   []string `json:"accepted,omitempty"`
	Duplicates []string `json:"duplicates,omitempty"`
	Head       int64    `json:"head,omitempty"`
	// Status is a serialized google.rpc.Status for error frames.
	Status []byte `json:"status,omitempty"`
}

// MetadataSession carries base64("namespace:publicKey:token") on the sync
// stream.
const MetadataSession = "q"

// Error reasons used in errdetails.ErrorInfo.
const (
	ErrorDomain       = "vaultsync"
	ReasonUsageLimit  = "USAGE_LIMIT"
	ReasonRateLimited = "RATE_LIMITED"

	// ErrorInfo metadata keys for ReasonUsageLimit.
	MetaCode    = "code"
	MetaLimit   = "limit"
	MetaCurrent = "current"
)
