package rpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/srg/btgate/internal/task"
	"github.com/srg/btgate/pkg/wire"
)

// Server accepts connections and dispatches framed requests to registered
// handlers. Every request runs in its own goroutine; streaming calls hold
// theirs until the stream ends or the client cancels.
type Server struct {
	logger *logrus.Logger

	mu     sync.RWMutex
	unary  map[string]UnaryHandler
	stream map[string]StreamHandler

	listener net.Listener
	conns    map[*serverConn]struct{}
	connsMu  sync.Mutex

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewServer creates a server with no handlers registered.
func NewServer(logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.New()
	}
	return &Server{
		logger: logger,
		unary:  make(map[string]UnaryHandler),
		stream: make(map[string]StreamHandler),
		conns:  make(map[*serverConn]struct{}),
	}
}

// HandleUnary registers a unary handler for a method name.
func (s *Server) HandleUnary(method string, h UnaryHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unary[method] = h
}

// HandleStream registers a streaming handler for a method name.
func (s *Server) HandleStream(method string, h StreamHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stream[method] = h
}

// Serve accepts connections on l until Shutdown or l fails. It blocks.
func (s *Server) Serve(l net.Listener) error {
	if !s.running.CompareAndSwap(false, true) {
		return fmt.Errorf("server already running")
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.listener = l

	s.logger.WithField("address", l.Addr().String()).Info("RPC server listening")

	for {
		conn, err := l.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return nil
			default:
			}
			return fmt.Errorf("accept failed: %w", err)
		}
		s.handleConn(conn)
	}
}

// ListenAndServe listens on addr and serves until Shutdown.
func (s *Server) ListenAndServe(addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(l)
}

// Addr returns the bound listener address, or nil before Serve.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Shutdown stops accepting, cancels all in-flight calls, closes all
// connections and waits for their goroutines to exit. Idempotent.
func (s *Server) Shutdown() {
	if !s.running.CompareAndSwap(true, false) {
		return
	}
	s.logger.Info("RPC server shutting down")

	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}

	s.connsMu.Lock()
	for c := range s.conns {
		_ = c.conn.Close()
	}
	s.connsMu.Unlock()

	s.wg.Wait()
	s.logger.Info("RPC server stopped")
}

func (s *Server) handleConn(conn net.Conn) {
	sc := &serverConn{
		id:     uuid.NewString(),
		server: s,
		conn:   conn,
		writer: wire.NewFrameWriter(conn),
		active: make(map[uint32]context.CancelFunc),
	}

	s.connsMu.Lock()
	s.conns[sc] = struct{}{}
	s.connsMu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"conn":   sc.id,
		"remote": conn.RemoteAddr().String(),
	}).Info("Connection accepted")

	task.GoWait(s.ctx, &s.wg, "rpc-conn-"+sc.id, sc.readLoop)
}

// serverConn is one client connection: a single read loop plus one goroutine
// per in-flight request, all sharing the frame writer.
type serverConn struct {
	id     string
	server *Server
	conn   net.Conn
	writer *wire.FrameWriter

	activeMu sync.Mutex
	active   map[uint32]context.CancelFunc
}

func (c *serverConn) readLoop(ctx context.Context) {
	defer c.teardown()

	reader := wire.NewFrameReader(c.conn)
	for {
		frame, err := reader.ReadFrame()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				c.server.logger.WithError(err).WithField("conn", c.id).Warn("Connection read failed")
			}
			return
		}

		req, err := wire.DecodeRequest(frame)
		if err != nil {
			c.server.logger.WithError(err).WithField("conn", c.id).Warn("Dropping undecodable request")
			continue
		}
		if err := req.Validate(); err != nil {
			if req.MessageID != 0 {
				c.sendTerminal(req.MessageID, wire.StatusInvalidRequest, nil, err.Error())
			} else {
				c.server.logger.WithError(err).WithField("conn", c.id).Warn("Dropping request without message id")
			}
			continue
		}

		if req.Cancel {
			c.cancelCall(req.MessageID)
			continue
		}
		c.dispatch(ctx, req)
	}
}

func (c *serverConn) teardown() {
	// Cancel whatever is still in flight; their goroutines send terminal
	// frames into a dead connection, which WriteFrame surfaces as errors the
	// call goroutines already tolerate.
	c.activeMu.Lock()
	for _, cancel := range c.active {
		cancel()
	}
	c.activeMu.Unlock()

	_ = c.conn.Close()

	c.server.connsMu.Lock()
	delete(c.server.conns, c)
	c.server.connsMu.Unlock()

	c.server.logger.WithField("conn", c.id).Info("Connection closed")
}

func (c *serverConn) cancelCall(id uint32) {
	c.activeMu.Lock()
	cancel, ok := c.active[id]
	c.activeMu.Unlock()
	if ok {
		cancel()
	} else {
		c.server.logger.WithFields(logrus.Fields{
			"conn":    c.id,
			"call_id": id,
		}).Debug("Cancel for unknown call")
	}
}

func (c *serverConn) dispatch(ctx context.Context, req *wire.Request) {
	c.server.mu.RLock()
	uh, isUnary := c.server.unary[req.Method]
	sh, isStream := c.server.stream[req.Method]
	c.server.mu.RUnlock()

	if !isUnary && !isStream {
		c.sendTerminal(req.MessageID, wire.StatusUnimplemented, nil,
			fmt.Sprintf("unknown method %q", req.Method))
		return
	}

	callCtx, cancel := context.WithCancel(ctx)
	c.activeMu.Lock()
	if _, dup := c.active[req.MessageID]; dup {
		c.activeMu.Unlock()
		cancel()
		c.sendTerminal(req.MessageID, wire.StatusInvalidRequest, nil, "message id already in flight")
		return
	}
	c.active[req.MessageID] = cancel
	c.activeMu.Unlock()

	name := fmt.Sprintf("rpc-call-%s-%d", req.Method, req.MessageID)
	task.GoWait(callCtx, &c.server.wg, name, func(ctx context.Context) {
		defer func() {
			cancel()
			c.activeMu.Lock()
			delete(c.active, req.MessageID)
			c.activeMu.Unlock()
		}()

		log := c.server.logger.WithFields(logrus.Fields{
			"conn":    c.id,
			"method":  req.Method,
			"call_id": req.MessageID,
		})
		log.Debug("Dispatching request")

		if isUnary {
			result, err := uh(ctx, req.Payload)
			c.finish(req.MessageID, result, err, log)
			return
		}

		err := sh(ctx, req.Payload, func(item any) error {
			return c.sendStreamItem(req.MessageID, item)
		})
		c.finish(req.MessageID, nil, err, log)
	})
}

func (c *serverConn) finish(id uint32, result any, err error, log *logrus.Entry) {
	status := statusFor(err)
	if err != nil {
		if status == wire.StatusCancelled {
			log.Debug("Call cancelled")
		} else {
			log.WithError(err).WithField("status", status.String()).Warn("Call failed")
		}
		c.sendTerminal(id, status, nil, err.Error())
		return
	}
	log.Debug("Call completed")
	c.sendTerminal(id, status, result, "")
}

func (c *serverConn) sendStreamItem(id uint32, item any) error {
	payload, err := wire.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to encode stream item: %w", err)
	}
	return c.write(&wire.Response{
		MessageID: id,
		Status:    wire.StatusOK,
		Payload:   payload,
		Stream:    true,
	})
}

func (c *serverConn) sendTerminal(id uint32, status wire.Status, result any, errMsg string) {
	resp := &wire.Response{MessageID: id, Status: status, Error: errMsg}
	if result != nil {
		payload, err := wire.Marshal(result)
		if err != nil {
			c.server.logger.WithError(err).WithField("call_id", id).Error("Failed to encode response payload")
			resp.Status = wire.StatusError
			resp.Error = "failed to encode response payload"
		} else {
			resp.Payload = payload
		}
	}
	if err := c.write(resp); err != nil {
		c.server.logger.WithError(err).WithFields(logrus.Fields{
			"conn":    c.id,
			"call_id": id,
		}).Debug("Failed to write terminal response")
	}
}

func (c *serverConn) write(resp *wire.Response) error {
	data, err := wire.EncodeResponse(resp)
	if err != nil {
		return err
	}
	return c.writer.WriteFrame(data)
}
