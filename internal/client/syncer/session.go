package syncer

import (
	"context"
	"errors"
	"time"

	"github.com/dmitrijs2005/vaultsync/internal/client/client"
	"github.com/dmitrijs2005/vaultsync/internal/client/eventcrypt"
	"github.com/dmitrijs2005/vaultsync/internal/client/identity"
	"github.com/dmitrijs2005/vaultsync/internal/client/models"
	pb "github.com/dmitrijs2005/vaultsync/internal/proto"
)

// session runs one connection. With once set it returns after the
// catch-up and a full push; otherwise it tails the feed and pushes until
// the connection or ctx ends.
func (e *Engine) session(ctx context.Context, cipher *eventcrypt.Cipher, once bool) error {
	if _, err := e.identity.SyncPublicKeys(ctx, e.cfg.Namespace); err != nil && !errors.Is(err, identity.ErrOffline) {
		return err
	}

	conn, err := e.dialer.OpenSync(ctx, e.cfg.Namespace, cipher.PublicKey(), e.cfg.WriteTimeout)
	if err != nil {
		return err
	}
	defer conn.Close()

	cp, err := e.catchUp(ctx, conn, cipher)
	if err != nil {
		return err
	}

	if once {
		return e.pushPending(ctx, conn, cipher)
	}

	sub, err := conn.Changes(ctx, cp)
	if err != nil {
		return err
	}
	defer sub.Close()

	e.setStatus(Status{State: StateConnected})
	e.logger.Info(ctx, "sync connected", "checkpoint", cp)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Changes must be drained apart from writes: the connection blocks its
	// receiver while the subscription buffer is full.
	errs := make(chan error, 2)
	go func() { errs <- e.tail(ctx, sub, cipher) }()
	go func() { errs <- e.pushLoop(ctx, conn, cipher) }()

	err = <-errs
	cancel()
	<-errs
	return err
}

func (e *Engine) catchUp(ctx context.Context, conn *client.Conn, cipher *eventcrypt.Cipher) (int64, error) {
	cp, err := e.journal.Checkpoint(ctx, e.cfg.Namespace)
	if err != nil {
		return 0, err
	}
	for {
		b, err := conn.Entries(ctx, cp, e.cfg.CatchUpLimit)
		if err != nil {
			return cp, err
		}
		if cp, err = e.apply(ctx, cipher, b.Entries, b.Head); err != nil {
			return cp, err
		}
		if len(b.Entries) < e.cfg.CatchUpLimit {
			return cp, nil
		}
	}
}

func (e *Engine) tail(ctx context.Context, sub *client.Subscription, cipher *eventcrypt.Cipher) error {
	for {
		select {
		case ch, ok := <-sub.C:
			if !ok {
				if err := sub.Err(); err != nil {
					return err
				}
				return client.ErrClosed
			}
			if _, err := e.apply(ctx, cipher, ch.Entries, ch.Head); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// apply decrypts a server batch into the journal and returns the new
// checkpoint. Entries this device cannot open are skipped, reported through
// Status and Unreadable, and still move the checkpoint past them.
func (e *Engine) apply(ctx context.Context, cipher *eventcrypt.Cipher, batch []pb.Entry, head int64) (int64, error) {
	plain := make([]*models.Entry, 0, len(batch))
	for i := range batch {
		m, err := cipher.Decrypt(&batch[i])
		if err != nil {
			var dekErr *eventcrypt.DecryptDEKError
			var decErr *eventcrypt.DecryptionError
			if errors.As(err, &dekErr) || errors.As(err, &decErr) || errors.Is(err, eventcrypt.ErrNoEnvelope) {
				e.logger.Warn(ctx, "skipping unreadable entry", "entry", batch[i].EntryID, "sequence", batch[i].Sequence, "err", err)
				e.noteUnreadable(batch[i].EntryID, batch[i].Sequence, err)
				continue
			}
			return 0, err
		}
		m.RemoteSequence = batch[i].Sequence
		plain = append(plain, m)
	}

	res, err := e.journal.Apply(ctx, e.cfg.Namespace, plain)
	if err != nil {
		return 0, err
	}
	if res.Applied > 0 {
		e.logger.Debug(ctx, "applied remote entries", "applied", res.Applied, "duplicates", res.Duplicates, "checkpoint", res.Checkpoint)
	}
	if head > res.Checkpoint {
		if err := e.journal.AdvanceCheckpoint(ctx, e.cfg.Namespace, head); err != nil {
			return 0, err
		}
		return head, nil
	}
	return res.Checkpoint, nil
}

func (e *Engine) pushLoop(ctx context.Context, conn *client.Conn, cipher *eventcrypt.Cipher) error {
	t := time.NewTicker(e.cfg.PushInterval)
	defer t.Stop()
	for {
		if err := e.pushPending(ctx, conn, cipher); err != nil {
			return err
		}
		select {
		case <-e.journal.Changed():
		case <-t.C:
		case <-conn.Done():
			return conn.Err()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// pushPending encrypts unpushed entries for every known device and writes
// them in batches.
func (e *Engine) pushPending(ctx context.Context, conn *client.Conn, cipher *eventcrypt.Cipher) error {
	for {
		pending, err := e.journal.Pending(ctx, e.cfg.PushBatchSize)
		if err != nil || len(pending) == 0 {
			return err
		}
		recipients, err := e.identity.RecipientKeys(ctx)
		if err != nil {
			return err
		}

		out := make([]pb.Entry, 0, len(pending))
		for _, m := range pending {
			p, err := cipher.Encrypt(m, recipients)
			if err != nil {
				return err
			}
			out = append(out, *p)
		}

		res, err := conn.Write(ctx, out)
		if err != nil {
			return err
		}
		done := append(append([]string{}, res.Accepted...), res.Duplicates...)
		if err := e.journal.MarkPushed(ctx, done); err != nil {
			return err
		}
		e.logger.Debug(ctx, "pushed entries", "accepted", len(res.Accepted), "duplicates", len(res.Duplicates), "head", res.Head)

		if len(pending) < e.cfg.PushBatchSize {
			return nil
		}
	}
}
