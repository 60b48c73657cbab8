//go:build !unix

package lock

// FileLock is a no-op where flock(2) is unavailable.
type FileLock struct{}

func Acquire(string) (*FileLock, error) { return &FileLock{}, nil }

func (l *FileLock) Release() error { return nil }
