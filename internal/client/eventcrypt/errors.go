package eventcrypt

import "fmt"

// DecryptDEKError means the entry key was not wrapped for this device or
// the wrap is corrupt.
type DecryptDEKError struct {
	EntryID string
	Err     error
}

func (e *DecryptDEKError) Error() string {
	return fmt.Sprintf("decrypt DEK of entry %s: %v", e.EntryID, e.Err)
}

func (e *DecryptDEKError) Unwrap() error { return e.Err }

// DecryptionError means the entry payload failed authentication.
type DecryptionError struct {
	EntryID string
	Err     error
}

func (e *DecryptionError) Error() string {
	return fmt.Sprintf("decrypt entry %s: %v", e.EntryID, e.Err)
}

func (e *DecryptionError) Unwrap() error { return e.Err }
