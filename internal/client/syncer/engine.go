// Package syncer keeps the local journal and the server streams of one
// namespace in step. A running Engine catches up from the journal
// checkpoint, tails the live feed and pushes locally recorded entries,
// reconnecting with capped exponential backoff until a fault that retrying
// cannot fix.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/dmitrijs2005/vaultsync/internal/client/client"
	"github.com/dmitrijs2005/vaultsync/internal/client/eventcrypt"
	"github.com/dmitrijs2005/vaultsync/internal/client/journal"
	"github.com/dmitrijs2005/vaultsync/internal/client/models"
	"github.com/dmitrijs2005/vaultsync/internal/common"
	"github.com/dmitrijs2005/vaultsync/internal/logging"
)

var ErrRunning = errors.New("sync engine already running")

// Journal is the local event log as seen by the engine.
type Journal interface {
	Changed() <-chan struct{}
	Checkpoint(ctx context.Context, namespace string) (int64, error)
	Apply(ctx context.Context, namespace string, batch []*models.Entry) (*journal.ApplyResult, error)
	AdvanceCheckpoint(ctx context.Context, namespace string, sequence int64) error
	Pending(ctx context.Context, limit int) ([]*models.Entry, error)
	MarkPushed(ctx context.Context, entryIDs []string) error
}

// Identity provides the device keys and the recipient roster.
type Identity interface {
	CipherKeys(ctx context.Context) (eventcrypt.Keys, error)
	RecipientKeys(ctx context.Context) ([]string, error)
	SyncPublicKeys(ctx context.Context, namespace string) ([]*models.Device, error)
	OnClear(fn func())
}

// TokenRefresher renews an expired session.
type TokenRefresher interface {
	Refresh(ctx context.Context) error
}

type Config struct {
	Namespace     string
	SlotWidth     time.Duration
	WriteTimeout  time.Duration
	BackoffMin    time.Duration
	BackoffMax    time.Duration
	PushInterval  time.Duration
	PushBatchSize int
	CatchUpLimit  int
}

func (c *Config) defaults() {
	if c.SlotWidth <= 0 {
		c.SlotWidth = eventcrypt.DefaultSlotWidth
	}
	if c.BackoffMin <= 0 {
		c.BackoffMin = time.Second
	}
	if c.BackoffMax < c.BackoffMin {
		c.BackoffMax = c.BackoffMin
	}
	if c.PushInterval <= 0 {
		c.PushInterval = 5 * time.Second
	}
	if c.PushBatchSize <= 0 {
		c.PushBatchSize = 50
	}
	if c.CatchUpLimit <= 0 {
		c.CatchUpLimit = 200
	}
}

type Engine struct {
	cfg      Config
	dialer   client.Dialer
	tokens   TokenRefresher
	journal  Journal
	identity Identity
	logger   logging.Logger
	now      func() time.Time

	mu         sync.Mutex
	status     Status
	bc         broadcaster
	cancel     context.CancelFunc
	done       chan struct{}
	unreadable []UnreadableEntry
	skipped    int
}

// keepUnreadable bounds the skipped entries kept for Unreadable.
const keepUnreadable = 20

// New builds an engine and registers its Stop with the identity, so
// clearing the identity ends synchronisation first.
func New(cfg Config, dialer client.Dialer, tokens TokenRefresher, j Journal, id Identity, logger logging.Logger) *Engine {
	cfg.defaults()
	e := &Engine{
		cfg:      cfg,
		dialer:   dialer,
		tokens:   tokens,
		journal:  j,
		identity: id,
		logger:   logger.With("module", "syncer", "namespace", cfg.Namespace),
		now:      time.Now,
	}
	e.status = Status{State: StateDisconnected, At: e.now()}
	id.OnClear(e.Stop)
	return e
}

// Status returns the latest status.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// Watch streams status changes, starting with the current one. The
// returned func stops the stream.
func (e *Engine) Watch() (<-chan Status, func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ch := e.bc.add()
	ch <- e.status
	return ch, func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		e.bc.remove(ch)
	}
}

func (e *Engine) setStatus(st Status) {
	st.At = e.now()
	e.mu.Lock()
	defer e.mu.Unlock()
	st.Unreadable = e.skipped
	e.status = st
	e.bc.publish(st)
}

// Unreadable returns the most recently skipped entries, oldest first.
func (e *Engine) Unreadable() []UnreadableEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]UnreadableEntry(nil), e.unreadable...)
}

// noteUnreadable records a skipped entry and republishes the status with
// the new count.
func (e *Engine) noteUnreadable(entryID string, seq int64, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.skipped++
	e.unreadable = append(e.unreadable, UnreadableEntry{EntryID: entryID, Sequence: seq, Err: err, At: e.now()})
	if n := len(e.unreadable); n > keepUnreadable {
		e.unreadable = e.unreadable[n-keepUnreadable:]
	}
	e.status.Unreadable = e.skipped
	e.bc.publish(e.status)
}

// Start runs the engine in the background until Stop, ctx cancellation or
// a fatal error.
func (e *Engine) Start(ctx context.Context) error {
	keys, err := e.identity.CipherKeys(ctx)
	if err != nil {
		return err
	}

	e.mu.Lock()
	if e.running() {
		e.mu.Unlock()
		return ErrRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	e.cancel, e.done = cancel, done
	e.mu.Unlock()

	cipher := eventcrypt.New(keys, e.cfg.SlotWidth)
	go func() {
		defer close(done)
		defer cipher.Wipe()
		e.run(ctx, cipher)
	}()
	return nil
}

// Stop ends a running engine and waits for it.
func (e *Engine) Stop() {
	e.mu.Lock()
	cancel, done := e.cancel, e.done
	e.mu.Unlock()
	if done == nil {
		return
	}
	cancel()
	<-done

	e.mu.Lock()
	if e.done == done {
		e.cancel, e.done = nil, nil
	}
	e.mu.Unlock()
}

// running reports whether a started engine has not stopped yet. The
// caller holds mu.
func (e *Engine) running() bool {
	if e.done == nil {
		return false
	}
	select {
	case <-e.done:
		return false
	default:
		return true
	}
}

// Running reports whether the engine is started and has not stopped.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running()
}

// Done is closed when the running engine stops. It is nil when the engine
// is not running.
func (e *Engine) Done() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.done
}

// SyncOnce connects, catches up, pushes every pending entry and
// disconnects.
func (e *Engine) SyncOnce(ctx context.Context) error {
	keys, err := e.identity.CipherKeys(ctx)
	if err != nil {
		return err
	}
	cipher := eventcrypt.New(keys, e.cfg.SlotWidth)
	defer cipher.Wipe()

	err = e.session(ctx, cipher, true)
	if errors.Is(err, common.ErrTokenExpired) {
		if rerr := e.tokens.Refresh(ctx); rerr != nil {
			return fmt.Errorf("refresh session: %w", rerr)
		}
		err = e.session(ctx, cipher, true)
	}
	return err
}

func (e *Engine) newBackoff() retry.Backoff {
	b := retry.NewExponential(e.cfg.BackoffMin)
	b = retry.WithJitterPercent(20, b)
	return retry.WithCappedDuration(e.cfg.BackoffMax, b)
}

func (e *Engine) run(ctx context.Context, cipher *eventcrypt.Cipher) {
	backoff := e.newBackoff()
	refreshed := false
	for {
		e.setStatus(Status{State: StateConnecting})
		err := e.session(ctx, cipher, false)
		if e.Status().State == StateConnected {
			// a session that got through resets the schedule
			backoff = e.newBackoff()
			refreshed = false
		}

		if ctx.Err() != nil {
			e.setStatus(Status{State: StateDisconnected, Reason: "stopped"})
			return
		}
		if err == nil {
			err = client.ErrClosed
		}
		if errors.Is(err, common.ErrTokenExpired) && !refreshed {
			refreshed = true
			rerr := e.tokens.Refresh(ctx)
			if rerr == nil {
				e.logger.Debug(ctx, "session refreshed")
				continue
			}
			err = fmt.Errorf("refresh session: %w", rerr)
		}
		if !client.Retryable(err) {
			e.logger.Error(ctx, "sync stopped", "err", err)
			e.setStatus(Status{State: StateError, Err: err})
			return
		}

		delay, _ := backoff.Next()
		var tooMany *client.TooManyRequestsError
		if errors.As(err, &tooMany) && tooMany.RetryAfter > delay {
			delay = tooMany.RetryAfter
		}

		e.logger.Warn(ctx, "sync interrupted", "err", err, "retry_in", delay)
		e.setStatus(Status{State: StateReconnecting, NextRetry: e.now().Add(delay), Err: err})

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			e.setStatus(Status{State: StateDisconnected, Reason: "stopped"})
			return
		case <-t.C:
		}
	}
}
