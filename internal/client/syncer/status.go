package syncer

import (
	"fmt"
	"time"
)

type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateError
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Status is one point of the engine's connection lifecycle. NextRetry is
// set while reconnecting; Reason describes a disconnect; Err carries the
// cause of an error or of the pending reconnect. Unreadable counts the
// server entries this engine skipped because it could not decrypt them.
type Status struct {
	State      State
	NextRetry  time.Time
	Reason     string
	Err        error
	At         time.Time
	Unreadable int
}

// UnreadableEntry is a server entry the device could not decrypt. The
// checkpoint moved past it, so it is not fetched again.
type UnreadableEntry struct {
	EntryID  string
	Sequence int64
	Err      error
	At       time.Time
}

func (s Status) String() string {
	switch s.State {
	case StateReconnecting:
		return fmt.Sprintf("reconnecting at %s", s.NextRetry.Format(time.TimeOnly))
	case StateDisconnected:
		if s.Reason != "" {
			return "disconnected: " + s.Reason
		}
	case StateError:
		if s.Err != nil {
			return "error: " + s.Err.Error()
		}
	}
	return s.State.String()
}

// broadcaster fans status updates out to watchers. A slow watcher loses
// intermediate updates, never the latest one.
type broadcaster struct {
	watchers map[chan Status]struct{}
}

func (b *broadcaster) add() chan Status {
	if b.watchers == nil {
		b.watchers = make(map[chan Status]struct{})
	}
	ch := make(chan Status, 8)
	b.watchers[ch] = struct{}{}
	return ch
}

func (b *broadcaster) remove(ch chan Status) {
	if _, ok := b.watchers[ch]; ok {
		delete(b.watchers, ch)
		close(ch)
	}
}

func (b *broadcaster) publish(st Status) {
	for ch := range b.watchers {
		for {
			select {
			case ch <- st:
			default:
				select {
				case <-ch:
				default:
				}
				continue
			}
			break
		}
	}
}
