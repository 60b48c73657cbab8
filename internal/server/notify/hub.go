// Package notify fans vault change signals out to live subscriptions. A
// signal only says "the stream advanced to Head"; subscribers read the
// entries themselves from their own checkpoint, so signals may coalesce.
package notify

import (
	"context"
	"errors"
	"sync"

	"github.com/dmitrijs2005/vaultsync/internal/server/models"
)

// Change announces a new head sequence of one vault stream.
type Change struct {
	Namespace string `json:"namespace"`
	UserID    string `json:"userId"`
	PublicKey string `json:"publicKey"`
	Head      int64  `json:"head"`
}

func (c Change) Key() models.VaultKey {
	return models.VaultKey{Namespace: c.Namespace, UserID: c.UserID, PublicKey: c.PublicKey}
}

// Notifier publishes changes after they are committed.
type Notifier interface {
	Notify(ctx context.Context, c Change) error
}

func hubKey(k models.VaultKey) string {
	return k.Namespace + "\x00" + k.UserID + "\x00" + k.PublicKey
}

// Subscription receives the latest head of one vault stream. C has room for
// one pending signal; a newer signal replaces an unread one.
type Subscription struct {
	C <-chan int64

	c    chan int64
	hub  *Hub
	key  string
	once sync.Once
}

// Close detaches the subscription. It is safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() { s.hub.remove(s) })
}

// Hub is the in-process fan-out. It implements Notifier directly.
type Hub struct {
	mu   sync.Mutex
	subs map[string]map[*Subscription]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[*Subscription]struct{})}
}

func (h *Hub) Subscribe(key models.VaultKey) *Subscription {
	c := make(chan int64, 1)
	s := &Subscription{C: c, c: c, hub: h, key: hubKey(key)}

	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subs[s.key]
	if !ok {
		set = make(map[*Subscription]struct{})
		h.subs[s.key] = set
	}
	set[s] = struct{}{}
	return s
}

func (h *Hub) remove(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.subs[s.key]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(h.subs, s.key)
		}
	}
}

// Publish delivers c to every subscription of its vault without blocking.
func (h *Hub) Publish(c Change) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs[hubKey(c.Key())] {
		select {
		case s.c <- c.Head:
		default:
			// replace the stale pending head
			select {
			case <-s.c:
			default:
			}
			select {
			case s.c <- c.Head:
			default:
			}
		}
	}
}

func (h *Hub) Notify(_ context.Context, c Change) error {
	h.Publish(c)
	return nil
}

// Notifiers sends every change to each notifier in order.
type Notifiers []Notifier

func (ns Notifiers) Notify(ctx context.Context, c Change) error {
	var errs []error
	for _, n := range ns {
		if err := n.Notify(ctx, c); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Subscribers returns the number of live subscriptions for key.
func (h *Hub) Subscribers(key models.VaultKey) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[hubKey(key)])
}
