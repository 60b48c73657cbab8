// Package common contains shared constants and sentinel errors used across
// vaultsync components.
package common

const (
	// AccessTokenHeaderName is the gRPC metadata key used to carry the
	// access token on outbound account requests.
	AccessTokenHeaderName = "access_token"

	// SyncQueryHeaderName is the gRPC metadata key carrying the realtime
	// channel credentials: base64("namespace:publicKey:token").
	SyncQueryHeaderName = "q"

	// SyncQueryParam is the HTTP query parameter used by the vault API.
	SyncQueryParam = "q"
)
