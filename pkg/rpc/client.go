package rpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/btgate/internal/task"
	"github.com/srg/btgate/pkg/wire"
)

// Client errors.
var (
	ErrClientClosed = errors.New("client is closed")

	// ErrRemote wraps a non-success terminal status from the server.
	ErrRemote = errors.New("remote error")
)

// RemoteError carries the terminal status and message of a failed call.
type RemoteError struct {
	Status  wire.Status
	Message string
}

func (e *RemoteError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Status, e.Message)
	}
	return e.Status.String()
}

func (e *RemoteError) Is(target error) bool { return target == ErrRemote }

// Client talks to the gateway over one connection. Safe for concurrent calls;
// streams and unary calls multiplex over the same frame writer.
type Client struct {
	logger *logrus.Logger
	conn   net.Conn
	writer *wire.FrameWriter

	nextID atomic.Uint32

	pendingMu sync.Mutex
	pending   map[uint32]chan *wire.Response

	closed  atomic.Bool
	readErr error
	done    chan struct{}
}

// Dial connects to the gateway at addr.
func Dial(addr string, timeout time.Duration, logger *logrus.Logger) (*Client, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}
	return NewClient(conn, logger), nil
}

// NewClient wraps an established connection; useful for tests with pipes.
func NewClient(conn net.Conn, logger *logrus.Logger) *Client {
	if logger == nil {
		logger = logrus.New()
	}
	c := &Client{
		logger:  logger,
		conn:    conn,
		writer:  wire.NewFrameWriter(conn),
		pending: make(map[uint32]chan *wire.Response),
		done:    make(chan struct{}),
	}
	task.Go(context.Background(), "rpc-client-read", c.readLoop)
	return c
}

// Close tears down the connection and releases every in-flight call.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := c.conn.Close()
	<-c.done
	return err
}

func (c *Client) readLoop(ctx context.Context) {
	defer close(c.done)
	reader := wire.NewFrameReader(c.conn)
	for {
		frame, err := reader.ReadFrame()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				c.logger.WithError(err).Warn("Client read failed")
			}
			c.readErr = err
			c.failPending()
			return
		}
		resp, err := wire.DecodeResponse(frame)
		if err != nil {
			c.logger.WithError(err).Warn("Dropping undecodable response")
			continue
		}
		c.route(resp)
	}
}

func (c *Client) route(resp *wire.Response) {
	c.pendingMu.Lock()
	ch, ok := c.pending[resp.MessageID]
	c.pendingMu.Unlock()
	if !ok {
		c.logger.WithField("call_id", resp.MessageID).Debug("Response for unknown call")
		return
	}
	// Channel is buffered; a stalled stream consumer backpressures here by
	// blocking the read loop, which is acceptable for a control-plane client.
	ch <- resp
}

func (c *Client) failPending() {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}

func (c *Client) register(id uint32, buffer int) chan *wire.Response {
	ch := make(chan *wire.Response, buffer)
	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()
	return ch
}

func (c *Client) unregister(id uint32) {
	c.pendingMu.Lock()
	delete(c.pending, id)
	c.pendingMu.Unlock()
}

func (c *Client) send(req *wire.Request) error {
	if c.closed.Load() {
		return ErrClientClosed
	}
	data, err := wire.EncodeRequest(req)
	if err != nil {
		return err
	}
	return c.writer.WriteFrame(data)
}

// Call performs a unary request. resp may be nil when the response payload is
// irrelevant.
func (c *Client) Call(ctx context.Context, method string, req any, resp any) error {
	id := c.nextID.Add(1)
	ch := c.register(id, 1)
	defer c.unregister(id)

	payload, err := wire.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}
	if err := c.send(&wire.Request{MessageID: id, Method: method, Payload: payload}); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		// Best effort: tell the server to abandon the call.
		_ = c.send(&wire.Request{MessageID: id, Cancel: true})
		return ctx.Err()
	case r, ok := <-ch:
		if !ok {
			return fmt.Errorf("%w: connection lost", ErrClientClosed)
		}
		if !r.Status.IsSuccess() {
			return &RemoteError{Status: r.Status, Message: r.Error}
		}
		if resp != nil && len(r.Payload) > 0 {
			if err := wire.Unmarshal(r.Payload, resp); err != nil {
				return fmt.Errorf("failed to decode response: %w", err)
			}
		}
		return nil
	}
}

// ClientStream consumes a server-streaming call.
type ClientStream struct {
	client *Client
	id     uint32
	ch     chan *wire.Response
	once   sync.Once
}

// Stream starts a server-streaming call. The stream must be drained until
// Recv returns an error, or Cancel must be called.
func (c *Client) Stream(ctx context.Context, method string, req any) (*ClientStream, error) {
	id := c.nextID.Add(1)
	ch := c.register(id, 16)

	payload, err := wire.Marshal(req)
	if err != nil {
		c.unregister(id)
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	if err := c.send(&wire.Request{MessageID: id, Method: method, Payload: payload}); err != nil {
		c.unregister(id)
		return nil, err
	}
	return &ClientStream{client: c, id: id, ch: ch}, nil
}

// Recv decodes the next stream item into item. It returns io.EOF when the
// server ends the stream with success or acknowledges a cancel, and a
// RemoteError on a failure status.
func (s *ClientStream) Recv(ctx context.Context, item any) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case r, ok := <-s.ch:
		if !ok {
			return fmt.Errorf("%w: connection lost", ErrClientClosed)
		}
		if r.Stream {
			if item != nil && len(r.Payload) > 0 {
				if err := wire.Unmarshal(r.Payload, item); err != nil {
					return fmt.Errorf("failed to decode stream item: %w", err)
				}
			}
			return nil
		}
		// Terminal frame.
		s.client.unregister(s.id)
		if r.Status.IsSuccess() || r.Status == wire.StatusCancelled {
			return io.EOF
		}
		return &RemoteError{Status: r.Status, Message: r.Error}
	}
}

// Cancel asks the server to abort the stream. Recv keeps working until the
// terminal frame arrives.
func (s *ClientStream) Cancel() {
	s.once.Do(func() {
		_ = s.client.send(&wire.Request{MessageID: s.id, Cancel: true})
	})
}
