// Package models defines the client's journal, roster and audit records.
package models

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

var ErrIncorrectField = errors.New("field must be name=value")

// Entry is a plaintext journal event. LocalSeq orders the local journal;
// RemoteSequence is the server sequence it was received at, zero for
// entries that originated on this device.
type Entry struct {
	EntryID        string          `json:"entryId"`
	EventType      string          `json:"eventType"`
	Payload        json.RawMessage `json:"payload"`
	CreatedAt      time.Time       `json:"createdAt"`
	LocalSeq       int64           `json:"-"`
	Pushed         bool            `json:"-"`
	RemoteSequence int64           `json:"-"`
}

// ParseFields turns name=value pairs into a payload object.
func ParseFields(s []string) (map[string]string, error) {
	fields := make(map[string]string, len(s))
	for _, item := range s {
		name, value, ok := strings.Cut(item, "=")
		if !ok || name == "" || strings.Contains(value, "=") {
			return nil, ErrIncorrectField
		}
		fields[name] = value
	}
	return fields, nil
}
