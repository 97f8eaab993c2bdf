// Package host serves the Host RPC surface: connection management, pairing,
// advertising, scanning and discoverability. Each handler follows the same
// shape: register observers, issue the triggering stack call, await the
// correlated event, unregister on every exit path.
package host

import (
	"context"
	"fmt"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"

	"github.com/srg/btgate/internal/registry"
	"github.com/srg/btgate/internal/stack"
	"github.com/srg/btgate/pkg/rpc"
	"github.com/srg/btgate/pkg/wire"
)

// Timeouts bounds the individual event awaits. Streams themselves are never
// bounded; a timeout only covers the wait for one correlated event.
type Timeouts struct {
	AdvertiseStart  time.Duration
	ScannerRegister time.Duration
	DiscoveryStart  time.Duration
	AdvertiseRetry  time.Duration
}

// DefaultTimeouts returns the stock bounds.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		AdvertiseStart:  5 * time.Second,
		ScannerRegister: 10 * time.Second,
		DiscoveryStart:  10 * time.Second,
		AdvertiseRetry:  time.Second,
	}
}

// Service implements the Host methods.
type Service struct {
	logger   *logrus.Logger
	stack    stack.Stack
	registry *registry.Registry
	timeouts Timeouts

	// waited tracks addresses whose connection was already handed to a
	// client, so WaitConnection does not complete twice for the same link.
	// Keyed by the address's string form; hashmap keys must be integers or
	// strings.
	waited *hashmap.Map[string, struct{}]

	// shutdown is invoked by FactoryReset after the reset completes.
	shutdown func()
}

// New creates the host service. shutdown may be nil when factory reset should
// not terminate the process (tests).
func New(logger *logrus.Logger, st stack.Stack, reg *registry.Registry, timeouts Timeouts, shutdown func()) *Service {
	if logger == nil {
		logger = logrus.New()
	}
	return &Service{
		logger:   logger,
		stack:    st,
		registry: reg,
		timeouts: timeouts,
		waited:   hashmap.New[string, struct{}](),
		shutdown: shutdown,
	}
}

// Register installs the Host methods on the RPC server.
func (s *Service) Register(srv *rpc.Server) {
	srv.HandleUnary(wire.MethodFactoryReset, rpc.Unary(s.FactoryReset))
	srv.HandleUnary(wire.MethodReset, rpc.Unary(s.Reset))
	srv.HandleUnary(wire.MethodReadLocalAddress, rpc.Unary(s.ReadLocalAddress))
	srv.HandleUnary(wire.MethodConnect, rpc.Unary(s.Connect))
	srv.HandleUnary(wire.MethodConnectLE, rpc.Unimplemented)
	srv.HandleUnary(wire.MethodWaitConnection, rpc.Unary(s.WaitConnection))
	srv.HandleUnary(wire.MethodDisconnect, rpc.Unary(s.Disconnect))
	srv.HandleUnary(wire.MethodWaitDisconnection, rpc.Unary(s.WaitDisconnection))
	srv.HandleUnary(wire.MethodSetDiscoverabilityMode, rpc.Unary(s.SetDiscoverabilityMode))
	srv.HandleUnary(wire.MethodSetConnectabilityMode, rpc.Unimplemented)
	srv.HandleStream(wire.MethodAdvertise, rpc.Stream(s.Advertise))
	srv.HandleStream(wire.MethodScan, rpc.Stream(s.Scan))
	srv.HandleStream(wire.MethodInquiry, rpc.Stream(s.Inquiry))
}

// connection wraps a peer address into the opaque cookie handed to clients.
func connection(addr stack.Address) wire.Connection {
	return wire.Connection{Cookie: addr.Bytes()}
}

// cookieAddress recovers the peer address from a connection cookie.
func cookieAddress(c wire.Connection) (stack.Address, error) {
	addr, err := stack.AddressFromBytes(c.Cookie)
	if err != nil {
		return stack.Address{}, fmt.Errorf("%w: bad connection cookie: %v", rpc.ErrInvalidRequest, err)
	}
	return addr, nil
}

func requestAddress(b []byte) (stack.Address, error) {
	addr, err := stack.AddressFromBytes(b)
	if err != nil {
		return stack.Address{}, fmt.Errorf("%w: bad address: %v", rpc.ErrInvalidRequest, err)
	}
	return addr, nil
}

// FactoryReset clears all session state and then shuts the gateway down. The
// shutdown runs on its own goroutine: the server's shutdown waits for in-flight
// calls, so invoking it from this call would deadlock and the response would
// never be written.
func (s *Service) FactoryReset(ctx context.Context, _ *wire.Empty) (*wire.Empty, error) {
	s.logger.Warn("Factory reset requested")
	s.clearSession()
	if err := s.stack.Reset(); err != nil {
		s.logger.WithError(err).Error("Stack reset failed during factory reset")
	}
	if s.shutdown != nil {
		go s.shutdown()
	}
	return &wire.Empty{}, nil
}

// Reset clears session state and resets the stack; the gateway keeps serving.
func (s *Service) Reset(ctx context.Context, _ *wire.Empty) (*wire.Empty, error) {
	s.logger.Info("Reset requested")
	s.clearSession()
	if err := s.stack.Reset(); err != nil {
		return nil, fmt.Errorf("reset stack: %w", err)
	}
	return &wire.Empty{}, nil
}

func (s *Service) clearSession() {
	s.waited.Range(func(key string, _ struct{}) bool {
		s.waited.Del(key)
		return true
	})
}

// ReadLocalAddress returns the adapter's own address.
func (s *Service) ReadLocalAddress(ctx context.Context, _ *wire.Empty) (*wire.ReadLocalAddressResponse, error) {
	return &wire.ReadLocalAddressResponse{Address: s.stack.Address().Bytes()}, nil
}

// SetDiscoverabilityMode switches classic discoverability.
func (s *Service) SetDiscoverabilityMode(ctx context.Context, req *wire.SetDiscoverabilityModeRequest) (*wire.Empty, error) {
	var mode stack.DiscoverabilityMode
	switch req.Mode {
	case wire.WireNotDiscoverable:
		mode = stack.NotDiscoverable
	case wire.WireDiscoverableLimited:
		mode = stack.LimitedDiscoverable
	case wire.WireDiscoverableGeneral:
		mode = stack.GeneralDiscoverable
	default:
		return nil, fmt.Errorf("%w: unknown discoverability mode %d", rpc.ErrInvalidRequest, req.Mode)
	}
	if err := s.stack.SetDiscoverable(mode, 0); err != nil {
		return nil, fmt.Errorf("set discoverable: %w", err)
	}
	return &wire.Empty{}, nil
}
