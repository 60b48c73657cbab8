package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	spb "google.golang.org/genproto/googleapis/rpc/status"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"

	pb "github.com/dmitrijs2005/vaultsync/internal/proto"
)

const (
	defaultWriteTimeout = 10 * time.Second
	subscriptionBuffer  = 16
)

// WriteResult acknowledges a write; every entry appears in Accepted or
// Duplicates.
type WriteResult struct {
	Accepted   []string
	Duplicates []string
	Head       int64
}

// Batch is a snapshot read. Head is the sequence of the last entry, or the
// requested cursor when the batch is empty.
type Batch struct {
	Entries []pb.Entry
	Head    int64
}

// Conn multiplexes requests over one sync stream. Responses are matched by
// request id; change frames go to the subscription that asked for them.
type Conn struct {
	stream       pb.SyncService_SyncClient
	cancel       context.CancelFunc
	writeTimeout time.Duration

	sendMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan *pb.ServerFrame
	subs    map[string]*Subscription
	err     error
	done    chan struct{}
}

func newConn(stream pb.SyncService_SyncClient, cancel context.CancelFunc, writeTimeout time.Duration) *Conn {
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	c := &Conn{
		stream:       stream,
		cancel:       cancel,
		writeTimeout: writeTimeout,
		pending:      make(map[string]chan *pb.ServerFrame),
		subs:         make(map[string]*Subscription),
		done:         make(chan struct{}),
	}
	go c.recvLoop()
	return c
}

// Done is closed when the stream ends; Err then tells why.
func (c *Conn) Done() <-chan struct{} { return c.done }

func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close ends the stream and waits for the receiver to stop.
func (c *Conn) Close() error {
	c.sendMu.Lock()
	_ = c.stream.CloseSend()
	c.sendMu.Unlock()
	c.cancel()
	<-c.done
	return nil
}

func (c *Conn) recvLoop() {
	for {
		f, err := c.stream.Recv()
		if err != nil {
			c.shutdown(err)
			return
		}
		c.dispatch(f)
	}
}

func (c *Conn) shutdown(err error) {
	if errors.Is(err, io.EOF) {
		err = ErrClosed
	} else {
		err = mapError(err)
	}

	c.mu.Lock()
	c.err = err
	subs := c.subs
	c.subs = make(map[string]*Subscription)
	c.mu.Unlock()

	for _, s := range subs {
		s.fail(err)
	}
	close(c.done)
	c.cancel()
}

func (c *Conn) dispatch(f *pb.ServerFrame) {
	c.mu.Lock()
	sub := c.subs[f.RequestID]
	ch := c.pending[f.RequestID]
	if ch != nil {
		delete(c.pending, f.RequestID)
	}
	c.mu.Unlock()

	switch {
	case f.Type == pb.FrameChange:
		if sub != nil {
			sub.deliver(Change{Entries: f.Entries, Head: f.Head})
		}
	case ch != nil:
		ch <- f
	case sub != nil && f.Type == pb.FrameError:
		// the feed of a running subscription failed
		c.mu.Lock()
		delete(c.subs, f.RequestID)
		c.mu.Unlock()
		sub.fail(decodeStatus(f.Status))
	}
}

func decodeStatus(raw []byte) error {
	var s spb.Status
	if err := proto.Unmarshal(raw, &s); err != nil {
		return fmt.Errorf("malformed error frame: %w", err)
	}
	return fromStatus(status.FromProto(&s))
}

func (c *Conn) send(f *pb.ClientFrame) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return c.stream.Send(f)
}

func (c *Conn) request(ctx context.Context, f *pb.ClientFrame) (*pb.ServerFrame, error) {
	ch := make(chan *pb.ServerFrame, 1)
	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return nil, err
	}
	c.pending[f.RequestID] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, f.RequestID)
		c.mu.Unlock()
	}()

	if err := c.send(f); err != nil {
		// the real cause arrives through Recv
		select {
		case <-c.done:
			return nil, c.Err()
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	select {
	case r := <-ch:
		if r.Type == pb.FrameError {
			return nil, decodeStatus(r.Status)
		}
		return r, nil
	case <-c.done:
		return nil, c.Err()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Write sends encrypted entries and waits for the acknowledgement at most
// the configured write timeout.
func (c *Conn) Write(ctx context.Context, entries []pb.Entry) (*WriteResult, error) {
	wctx, cancel := context.WithTimeout(ctx, c.writeTimeout)
	defer cancel()

	r, err := c.request(wctx, &pb.ClientFrame{Type: pb.FrameWrite, RequestID: uuid.NewString(), Entries: entries})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, &WriteTimeoutError{Timeout: c.writeTimeout}
		}
		return nil, err
	}
	return &WriteResult{Accepted: r.Accepted, Duplicates: r.Duplicates, Head: r.Head}, nil
}

// Entries reads up to limit entries after the given sequence.
func (c *Conn) Entries(ctx context.Context, after int64, limit int) (*Batch, error) {
	r, err := c.request(ctx, &pb.ClientFrame{Type: pb.FrameEntries, RequestID: uuid.NewString(), After: after, Limit: limit})
	if err != nil {
		return nil, err
	}
	return &Batch{Entries: r.Entries, Head: r.Head}, nil
}

// Changes starts the live feed of entries after the given sequence. A new
// subscription replaces the previous one on the server.
func (c *Conn) Changes(ctx context.Context, after int64) (*Subscription, error) {
	id := uuid.NewString()
	sub := newSubscription(c, id)

	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return nil, err
	}
	c.subs[id] = sub
	c.mu.Unlock()

	if _, err := c.request(ctx, &pb.ClientFrame{Type: pb.FrameSubscribe, RequestID: id, After: after}); err != nil {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
		sub.fail(err)
		return nil, err
	}
	return sub, nil
}

func (c *Conn) unsubscribe(id string) {
	c.mu.Lock()
	_, ok := c.subs[id]
	delete(c.subs, id)
	closed := c.err != nil
	c.mu.Unlock()
	if ok && !closed {
		_ = c.send(&pb.ClientFrame{Type: pb.FrameUnsubscribe, RequestID: id})
	}
}

// Change is one pushed batch of the live feed.
type Change struct {
	Entries []pb.Entry
	Head    int64
}

// Subscription is a live feed. C is closed when the feed ends; Err then
// reports why (nil after Close).
type Subscription struct {
	C <-chan Change

	conn *Conn
	id   string
	c    chan Change
	quit chan struct{}
	once sync.Once

	mu     sync.Mutex
	closed bool
	err    error
}

func newSubscription(conn *Conn, id string) *Subscription {
	ch := make(chan Change, subscriptionBuffer)
	return &Subscription{C: ch, conn: conn, id: id, c: ch, quit: make(chan struct{})}
}

func (s *Subscription) deliver(ch Change) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.c <- ch:
	case <-s.quit:
	}
}

func (s *Subscription) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.err = err
	s.closed = true
	close(s.c)
}

func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close stops the feed. Buffered changes may still be read from C.
func (s *Subscription) Close() {
	s.once.Do(func() {
		close(s.quit)
		s.conn.unsubscribe(s.id)
		s.mu.Lock()
		defer s.mu.Unlock()
		if !s.closed {
			s.closed = true
			close(s.c)
		}
	})
}
