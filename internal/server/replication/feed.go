package replication

import (
	"context"
	"sync"

	"github.com/dmitrijs2005/vaultsync/internal/server/models"
	"github.com/dmitrijs2005/vaultsync/internal/server/storage"
)

// Feed is a live, ordered stream of entries after a starting sequence. C is
// bounded: a slow reader holds the producer back instead of growing memory.
// C is closed when the feed stops; Err tells why.
type Feed struct {
	C <-chan *models.PersistedEntry

	cancel context.CancelFunc
	done   chan struct{}
	mu     sync.Mutex
	err    error
}

// Close stops the feed and waits for its goroutine to exit.
func (f *Feed) Close() {
	f.cancel()
	<-f.done
}

// Err returns the error that stopped the feed, nil after Close.
func (f *Feed) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// Changes starts a feed of entries with sequence greater than after. It
// subscribes before the first read so no change between the two is lost.
func (s *Service) Changes(ctx context.Context, key models.VaultKey, after int64) (*Feed, error) {
	if _, ok, err := s.store.Head(ctx, key); err != nil {
		return nil, err
	} else if !ok {
		return nil, storage.ErrVaultNotFound
	}

	ctx, cancel := context.WithCancel(ctx)
	out := make(chan *models.PersistedEntry, s.cfg.FeedBuffer)
	f := &Feed{C: out, cancel: cancel, done: make(chan struct{})}
	sub := s.hub.Subscribe(key)

	go func() {
		defer close(f.done)
		defer close(out)
		defer sub.Close()

		err := s.pump(ctx, key, after, sub.C, out)
		if ctx.Err() == nil {
			f.mu.Lock()
			f.err = err
			f.mu.Unlock()
		}
	}()
	return f, nil
}

func (s *Service) pump(ctx context.Context, key models.VaultKey, checkpoint int64, signal <-chan int64, out chan<- *models.PersistedEntry) error {
	for {
		// drain everything after the checkpoint
		for {
			list, err := s.Entries(ctx, key, checkpoint, s.cfg.ReadBatchLimit)
			if err != nil {
				return err
			}
			for _, e := range list {
				select {
				case out <- e:
					checkpoint = e.Sequence
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			if len(list) < s.cfg.ReadBatchLimit {
				break
			}
		}

	wait:
		for {
			select {
			case head := <-signal:
				if head > checkpoint {
					break wait
				}
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}
