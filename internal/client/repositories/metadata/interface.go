package metadata

import (
	"context"
)

// Well-known keys.
const (
	KeyMnemonic     = "identity/mnemonic"
	KeyUsername     = "account/username"
	KeyAccessToken  = "account/access_token"
	KeyRefreshToken = "account/refresh_token"
	KeySalt         = "account/salt"
	KeyVerifier     = "account/verifier"
	// KeyCheckpointPrefix is followed by the namespace.
	KeyCheckpointPrefix = "sync/checkpoint/"
)

// Repository is a small key/value store for local client state.
type Repository interface {
	// Get reports ok=false when the key is absent.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	// DeletePrefix removes every key starting with prefix.
	DeletePrefix(ctx context.Context, prefix string) error
	// List returns the keys starting with prefix; an empty prefix lists all.
	List(ctx context.Context, prefix string) (map[string][]byte, error)
}
