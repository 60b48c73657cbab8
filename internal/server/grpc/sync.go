package grpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"

	"github.com/dmitrijs2005/vaultsync/internal/common"
	"github.com/dmitrijs2005/vaultsync/internal/logging"
	pb "github.com/dmitrijs2005/vaultsync/internal/proto"
	"github.com/dmitrijs2005/vaultsync/internal/server/models"
	"github.com/dmitrijs2005/vaultsync/internal/server/replication"
)

// changeBatch caps the entries pushed in one change frame.
const changeBatch = 32

var errUnknownFrame = fmt.Errorf("unknown frame type: %w", common.ErrorBadRequest)

// Sync serves one device's realtime channel. Requests are handled in
// arrival order; a live feed, when subscribed, pushes change frames
// concurrently with responses.
func (s *GRPCServer) Sync(stream pb.SyncService_SyncServer) error {
	ctx := stream.Context()
	key, ok := vaultKeyFromContext(ctx)
	if !ok {
		return status.Error(codes.Unauthenticated, "missing session")
	}

	head, err := s.replication.Open(ctx, key)
	if err != nil {
		return s.statusError(ctx, err)
	}

	sess := &syncSession{
		stream:      stream,
		key:         key,
		replication: s.replication,
		logger:      s.logger.With("namespace", key.Namespace),
		fatal:       make(chan error, 1),
	}
	sess.logger.Info(ctx, "stream opened", "head", head)
	defer sess.stopFeed()

	err = sess.serve(ctx)
	sess.logger.Info(ctx, "stream closed", "code", status.Code(err).String())
	return err
}

type syncSession struct {
	stream      pb.SyncService_SyncServer
	key         models.VaultKey
	replication Replicator
	logger      logging.Logger

	sendMu sync.Mutex

	feed     *replication.Feed
	feedDone chan struct{}
	fatal    chan error
}

func (ss *syncSession) serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	frames := make(chan *pb.ClientFrame)
	recvErr := make(chan error, 1)
	go func() {
		for {
			f, err := ss.stream.Recv()
			if err != nil {
				recvErr <- err
				return
			}
			select {
			case frames <- f:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case f := <-frames:
			if err := ss.handle(ctx, f); err != nil {
				return err
			}
		case err := <-recvErr:
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		case err := <-ss.fatal:
			return err
		}
	}
}

func (ss *syncSession) handle(ctx context.Context, f *pb.ClientFrame) error {
	switch f.Type {
	case pb.FrameWrite:
		res, err := ss.replication.Write(ctx, ss.key, toOutgoing(f.Entries))
		if err != nil {
			return ss.fail(ctx, f.RequestID, err)
		}
		return ss.send(&pb.ServerFrame{
			Type:       pb.FrameWritten,
			RequestID:  f.RequestID,
			Accepted:   res.Accepted,
			Duplicates: res.Duplicates,
			Head:       res.Head,
		})

	case pb.FrameEntries:
		list, err := ss.replication.Entries(ctx, ss.key, f.After, f.Limit)
		if err != nil {
			return ss.fail(ctx, f.RequestID, err)
		}
		head := f.After
		if len(list) > 0 {
			head = list[len(list)-1].Sequence
		}
		return ss.send(&pb.ServerFrame{Type: pb.FrameBatch, RequestID: f.RequestID, Entries: toWire(list), Head: head})

	case pb.FrameSubscribe:
		ss.stopFeed()
		feed, err := ss.replication.Changes(ctx, ss.key, f.After)
		if err != nil {
			return ss.fail(ctx, f.RequestID, err)
		}
		ss.startFeed(ctx, f.RequestID, feed)
		return ss.send(&pb.ServerFrame{Type: pb.FrameSubscribed, RequestID: f.RequestID, Head: f.After})

	case pb.FrameUnsubscribe:
		ss.stopFeed()
		return nil

	default:
		return ss.fail(ctx, f.RequestID, errUnknownFrame)
	}
}

func (ss *syncSession) send(f *pb.ServerFrame) error {
	ss.sendMu.Lock()
	defer ss.sendMu.Unlock()
	return ss.stream.Send(f)
}

// fail answers a request with an error frame, or returns the status that
// closes the stream.
func (ss *syncSession) fail(ctx context.Context, requestID string, err error) error {
	st := toStatus(err)
	if st.Code() == codes.Internal {
		ss.logger.Error(ctx, "sync request failed", "err", err)
	} else {
		ss.logger.Debug(ctx, "sync request rejected", "err", err)
	}
	if closesStream(err) {
		return st.Err()
	}
	raw, merr := proto.Marshal(st.Proto())
	if merr != nil {
		return status.Error(codes.Internal, "internal error")
	}
	return ss.send(&pb.ServerFrame{Type: pb.FrameError, RequestID: requestID, Status: raw})
}

func (ss *syncSession) startFeed(ctx context.Context, requestID string, feed *replication.Feed) {
	done := make(chan struct{})
	ss.feed, ss.feedDone = feed, done

	go func() {
		defer close(done)
		for e := range feed.C {
			batch := []*models.PersistedEntry{e}
		drain:
			for len(batch) < changeBatch {
				select {
				case next, ok := <-feed.C:
					if !ok {
						break drain
					}
					batch = append(batch, next)
				default:
					break drain
				}
			}
			frame := &pb.ServerFrame{
				Type:      pb.FrameChange,
				RequestID: requestID,
				Entries:   toWire(batch),
				Head:      batch[len(batch)-1].Sequence,
			}
			if err := ss.send(frame); err != nil {
				return
			}
		}
		if err := feed.Err(); err != nil {
			if ferr := ss.fail(ctx, requestID, err); ferr != nil {
				select {
				case ss.fatal <- ferr:
				default:
				}
			}
		}
	}()
}

func (ss *syncSession) stopFeed() {
	if ss.feed == nil {
		return
	}
	ss.feed.Close()
	<-ss.feedDone
	ss.feed, ss.feedDone = nil, nil
}

func toOutgoing(entries []pb.Entry) []replication.OutgoingEntry {
	out := make([]replication.OutgoingEntry, 0, len(entries))
	for _, e := range entries {
		o := replication.OutgoingEntry{EntryID: e.EntryID, IV: e.IV, EncryptedEntry: e.EncryptedEntry}
		for _, k := range e.Keys {
			o.Keys = append(o.Keys, replication.Envelope{PublicKey: k.PublicKey, EncryptedDEK: k.EncryptedDEK})
		}
		out = append(out, o)
	}
	return out
}

func toWire(list []*models.PersistedEntry) []pb.Entry {
	out := make([]pb.Entry, 0, len(list))
	for _, e := range list {
		out = append(out, pb.Entry{
			EntryID:        e.EntryID,
			IV:             e.IV,
			EncryptedEntry: e.EncryptedEntry,
			EncryptedDEK:   e.EncryptedDEK,
			Sequence:       e.Sequence,
		})
	}
	return out
}
