package proto

import (
	"encoding/base64"
	"errors"
	"strings"
)

var ErrMalformedSession = errors.New("malformed session")

// Session identifies the device on a sync stream.
type Session struct {
	Namespace string
	PublicKey string
	Token     string
}

// EncodeSession returns base64("namespace:publicKey:token").
func EncodeSession(s Session) string {
	return base64.StdEncoding.EncodeToString([]byte(s.Namespace + ":" + s.PublicKey + ":" + s.Token))
}

func DecodeSession(q string) (Session, error) {
	raw, err := base64.StdEncoding.DecodeString(q)
	if err != nil {
		return Session{}, ErrMalformedSession
	}
	parts := strings.Split(string(raw), ":")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return Session{}, ErrMalformedSession
	}
	return Session{Namespace: parts[0], PublicKey: parts[1], Token: parts[2]}, nil
}

// EncodeNamespaceKey returns base64("namespace:publicKey"), the query
// parameter of per-vault HTTP calls.
func EncodeNamespaceKey(namespace, publicKey string) string {
	return base64.StdEncoding.EncodeToString([]byte(namespace + ":" + publicKey))
}

// EncodeNamespace returns base64("namespace"), the query parameter of
// registration.
func EncodeNamespace(namespace string) string {
	return base64.StdEncoding.EncodeToString([]byte(namespace))
}

// DecodeNamespaceKey accepts base64("namespace:publicKey") or, when
// publicKey is not required, base64("namespace").
func DecodeNamespaceKey(q string, needKey bool) (namespace, publicKey string, err error) {
	raw, err := base64.StdEncoding.DecodeString(q)
	if err != nil {
		return "", "", ErrMalformedSession
	}
	ns, pk, found := strings.Cut(string(raw), ":")
	if ns == "" || (needKey && (!found || pk == "")) || strings.Contains(pk, ":") {
		return "", "", ErrMalformedSession
	}
	return ns, pk, nil
}
