// Package gatt serves the Gatt RPC surface: MTU negotiation, attribute
// access by handle, and the service discovery variants. Attribute completions
// are correlated on the (device, handle) compound key so concurrent
// operations on one device stay isolated.
package gatt

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/srg/btgate/internal/correlate"
	"github.com/srg/btgate/internal/registry"
	"github.com/srg/btgate/internal/stack"
	"github.com/srg/btgate/pkg/rpc"
	"github.com/srg/btgate/pkg/wire"
)

// DefaultOperationTimeout bounds each attribute-level await.
const DefaultOperationTimeout = 30 * time.Second

// Service implements the Gatt methods.
type Service struct {
	logger   *logrus.Logger
	stack    stack.Stack
	registry *registry.Registry
	timeout  time.Duration
}

// New creates the GATT service. A zero timeout falls back to the default.
func New(logger *logrus.Logger, st stack.Stack, reg *registry.Registry, timeout time.Duration) *Service {
	if logger == nil {
		logger = logrus.New()
	}
	if timeout <= 0 {
		timeout = DefaultOperationTimeout
	}
	return &Service{logger: logger, stack: st, registry: reg, timeout: timeout}
}

// Register installs the Gatt methods on the RPC server.
func (s *Service) Register(srv *rpc.Server) {
	srv.HandleUnary(wire.MethodExchangeMTU, rpc.Unary(s.ExchangeMTU))
	srv.HandleUnary(wire.MethodWriteAttributeByHandle, rpc.Unary(s.WriteAttributeByHandle))
	srv.HandleUnary(wire.MethodDiscoverServices, rpc.Unary(s.DiscoverServices))
	srv.HandleUnary(wire.MethodDiscoverServicesSdp, rpc.Unary(s.DiscoverServicesSdp))
	srv.HandleUnary(wire.MethodDiscoverServiceByUUID, rpc.Unary(s.DiscoverServiceByUUID))
	srv.HandleUnary(wire.MethodClearCache, rpc.Unary(s.ClearCache))
}

func cookieAddress(c wire.Connection) (stack.Address, error) {
	addr, err := stack.AddressFromBytes(c.Cookie)
	if err != nil {
		return stack.Address{}, fmt.Errorf("%w: bad connection cookie: %v", rpc.ErrInvalidRequest, err)
	}
	return addr, nil
}

// await bounds a Pending wait and maps the timeout onto the RPC sentinel.
func await[T any](ctx context.Context, p *correlate.Pending[T], timeout time.Duration, what string) (T, error) {
	v, err := p.Await(ctx, timeout)
	if errors.Is(err, correlate.ErrTimeout) {
		var zero T
		return zero, fmt.Errorf("%w: %s", rpc.ErrTimeout, what)
	}
	return v, err
}

// ExchangeMTU negotiates the ATT MTU and waits for the stack to confirm it.
func (s *Service) ExchangeMTU(ctx context.Context, req *wire.ExchangeMTURequest) (*wire.ExchangeMTUResponse, error) {
	addr, err := cookieAddress(req.Connection)
	if err != nil {
		return nil, err
	}
	if req.MTU <= 0 {
		return nil, fmt.Errorf("%w: MTU must be positive", rpc.ErrInvalidRequest)
	}

	waiter := newMTUWaiter(addr)
	name := registry.ObserverName(waiter)
	if err := s.registry.Register(stack.CategoryAttribute, name, waiter); err != nil {
		return nil, err
	}
	defer s.registry.Unregister(stack.CategoryAttribute, name)

	if err := s.stack.ConfigureMTU(addr, req.MTU); err != nil {
		return nil, fmt.Errorf("configure MTU: %w", err)
	}

	ev, err := await(ctx, waiter.done, s.timeout, "MTU exchange")
	if err != nil {
		return nil, err
	}
	if ev.Status != stack.GattSuccess {
		return nil, fmt.Errorf("MTU exchange failed: status %d", ev.Status)
	}
	s.logger.WithFields(logrus.Fields{
		"device": addr.String(),
		"mtu":    ev.MTU,
	}).Debug("MTU exchanged")
	return &wire.ExchangeMTUResponse{}, nil
}

// WriteAttributeByHandle writes a value to the attribute at the given handle.
// The attribute kind is probed with a read: a readable characteristic gets a
// characteristic write, otherwise a readable descriptor gets a descriptor
// write. A handle matching neither is reported as INVALID_HANDLE in the
// response, not as an RPC failure, and the write's own completion status is
// passed through in the response the same way.
func (s *Service) WriteAttributeByHandle(ctx context.Context, req *wire.WriteRequest) (*wire.WriteResponse, error) {
	addr, err := cookieAddress(req.Connection)
	if err != nil {
		return nil, err
	}
	log := s.logger.WithFields(logrus.Fields{
		"device": addr.String(),
		"handle": req.Handle,
	})

	isChar, err := s.probeCharacteristic(ctx, addr, req.Handle)
	if err != nil {
		return nil, err
	}
	if isChar {
		status, err := s.writeCharacteristic(ctx, addr, req.Handle, req.Value)
		if err != nil {
			return nil, err
		}
		log.WithField("status", status).Debug("Characteristic written")
		return &wire.WriteResponse{Handle: req.Handle, Status: wire.AttStatus(status)}, nil
	}

	isDesc, err := s.probeDescriptor(ctx, addr, req.Handle)
	if err != nil {
		return nil, err
	}
	if isDesc {
		status, err := s.writeDescriptor(ctx, addr, req.Handle, req.Value)
		if err != nil {
			return nil, err
		}
		log.WithField("status", status).Debug("Descriptor written")
		return &wire.WriteResponse{Handle: req.Handle, Status: wire.AttStatus(status)}, nil
	}

	log.Debug("Handle matches no attribute")
	return &wire.WriteResponse{Handle: req.Handle, Status: wire.AttInvalidHandle}, nil
}

func (s *Service) probeCharacteristic(ctx context.Context, addr stack.Address, handle int32) (bool, error) {
	waiter := newCharReadWaiter(addr, handle)
	name := registry.ObserverName(waiter)
	if err := s.registry.Register(stack.CategoryAttribute, name, waiter); err != nil {
		return false, err
	}
	defer s.registry.Unregister(stack.CategoryAttribute, name)

	if err := s.stack.ReadCharacteristic(addr, handle, stack.AuthNone); err != nil {
		return false, fmt.Errorf("read characteristic: %w", err)
	}
	ev, err := await(ctx, waiter.done, s.timeout, "characteristic read")
	if err != nil {
		return false, err
	}
	return ev.Status == stack.GattSuccess, nil
}

func (s *Service) probeDescriptor(ctx context.Context, addr stack.Address, handle int32) (bool, error) {
	waiter := newDescReadWaiter(addr, handle)
	name := registry.ObserverName(waiter)
	if err := s.registry.Register(stack.CategoryAttribute, name, waiter); err != nil {
		return false, err
	}
	defer s.registry.Unregister(stack.CategoryAttribute, name)

	if err := s.stack.ReadDescriptor(addr, handle, stack.AuthNone); err != nil {
		return false, fmt.Errorf("read descriptor: %w", err)
	}
	ev, err := await(ctx, waiter.done, s.timeout, "descriptor read")
	if err != nil {
		return false, err
	}
	return ev.Status == stack.GattSuccess, nil
}

// writeCharacteristic performs the write and returns the completion status.
// The status is part of the operation's result; only transport or timeout
// problems are errors.
func (s *Service) writeCharacteristic(ctx context.Context, addr stack.Address, handle int32, value []byte) (stack.GattStatus, error) {
	waiter := newCharWriteWaiter(addr, handle)
	name := registry.ObserverName(waiter)
	if err := s.registry.Register(stack.CategoryAttribute, name, waiter); err != nil {
		return 0, err
	}
	defer s.registry.Unregister(stack.CategoryAttribute, name)

	if err := s.stack.WriteCharacteristic(addr, handle, stack.WriteTypeDefault, stack.AuthNone, value); err != nil {
		return 0, fmt.Errorf("write characteristic: %w", err)
	}
	ev, err := await(ctx, waiter.done, s.timeout, "characteristic write")
	if err != nil {
		return 0, err
	}
	return ev.Status, nil
}

func (s *Service) writeDescriptor(ctx context.Context, addr stack.Address, handle int32, value []byte) (stack.GattStatus, error) {
	waiter := newDescWriteWaiter(addr, handle)
	name := registry.ObserverName(waiter)
	if err := s.registry.Register(stack.CategoryAttribute, name, waiter); err != nil {
		return 0, err
	}
	defer s.registry.Unregister(stack.CategoryAttribute, name)

	if err := s.stack.WriteDescriptor(addr, handle, stack.AuthNone, value); err != nil {
		return 0, fmt.Errorf("write descriptor: %w", err)
	}
	ev, err := await(ctx, waiter.done, s.timeout, "descriptor write")
	if err != nil {
		return 0, err
	}
	return ev.Status, nil
}

// DiscoverServices runs GATT service discovery and returns the full tree.
func (s *Service) DiscoverServices(ctx context.Context, req *wire.DiscoverServicesRequest) (*wire.DiscoverServicesResponse, error) {
	addr, err := cookieAddress(req.Connection)
	if err != nil {
		return nil, err
	}

	waiter := newSearchWaiter(addr)
	name := registry.ObserverName(waiter)
	if err := s.registry.Register(stack.CategoryAttribute, name, waiter); err != nil {
		return nil, err
	}
	defer s.registry.Unregister(stack.CategoryAttribute, name)

	if err := s.stack.DiscoverServices(addr); err != nil {
		return nil, fmt.Errorf("discover services: %w", err)
	}

	ev, err := await(ctx, waiter.done, s.timeout, "service discovery")
	if err != nil {
		return nil, err
	}
	if ev.Status != stack.GattSuccess {
		return nil, fmt.Errorf("service discovery failed: status %d", ev.Status)
	}
	return &wire.DiscoverServicesResponse{Services: serviceMsgs(ev.Services)}, nil
}

// DiscoverServicesSdp fetches the remote device's service UUIDs over SDP. A
// device in the middle of bonding already has SDP in flight, so the cached
// UUIDs are returned as-is without triggering another fetch.
func (s *Service) DiscoverServicesSdp(ctx context.Context, req *wire.DiscoverServicesSdpRequest) (*wire.DiscoverServicesSdpResponse, error) {
	addr, err := stack.AddressFromBytes(req.Address)
	if err != nil {
		return nil, fmt.Errorf("%w: bad address: %v", rpc.ErrInvalidRequest, err)
	}

	if s.stack.BondState(addr) == stack.Bonding {
		return &wire.DiscoverServicesSdpResponse{ServiceUUIDs: uuidStrings(s.stack.RemoteUUIDs(addr))}, nil
	}

	waiter := newUUIDsWaiter(addr)
	name := registry.ObserverName(waiter)
	if err := s.registry.Register(stack.CategoryAttribute, name, waiter); err != nil {
		return nil, err
	}
	defer s.registry.Unregister(stack.CategoryAttribute, name)

	if err := s.stack.FetchRemoteUUIDs(addr); err != nil {
		return nil, fmt.Errorf("fetch remote UUIDs: %w", err)
	}
	if _, err := await(ctx, waiter.done, s.timeout, "SDP discovery"); err != nil {
		return nil, err
	}
	return &wire.DiscoverServicesSdpResponse{ServiceUUIDs: uuidStrings(s.stack.RemoteUUIDs(addr))}, nil
}

func uuidStrings(uuids []uuid.UUID) []string {
	out := make([]string, 0, len(uuids))
	for _, u := range uuids {
		out = append(out, u.String())
	}
	return out
}

// DiscoverServiceByUUID triggers a targeted discovery. The stack reports
// results through its own notifications; the call itself completes as soon
// as the trigger is accepted.
func (s *Service) DiscoverServiceByUUID(ctx context.Context, req *wire.DiscoverServiceByUUIDRequest) (*wire.Empty, error) {
	addr, err := cookieAddress(req.Connection)
	if err != nil {
		return nil, err
	}
	svc, err := uuid.Parse(req.UUID)
	if err != nil {
		return nil, fmt.Errorf("%w: bad service UUID: %v", rpc.ErrInvalidRequest, err)
	}
	if err := s.stack.DiscoverServiceByUUID(addr, svc); err != nil {
		return nil, fmt.Errorf("discover service by UUID: %w", err)
	}
	return &wire.Empty{}, nil
}

// ClearCache drops the stack's cached GATT database for the device and waits
// for the refresh to take effect.
func (s *Service) ClearCache(ctx context.Context, req *wire.ClearCacheRequest) (*wire.ClearCacheResponse, error) {
	addr, err := cookieAddress(req.Connection)
	if err != nil {
		return nil, err
	}

	waiter := newConnUpdatedWaiter(addr)
	name := registry.ObserverName(waiter)
	if err := s.registry.Register(stack.CategoryAttribute, name, waiter); err != nil {
		return nil, err
	}
	defer s.registry.Unregister(stack.CategoryAttribute, name)

	if err := s.stack.RefreshDevice(addr); err != nil {
		return nil, fmt.Errorf("refresh device: %w", err)
	}
	if _, err := await(ctx, waiter.done, s.timeout, "cache refresh"); err != nil {
		return nil, err
	}
	return &wire.ClearCacheResponse{}, nil
}

func serviceMsgs(services []stack.GattService) []wire.GattServiceMsg {
	out := make([]wire.GattServiceMsg, 0, len(services))
	for _, svc := range services {
		msg := wire.GattServiceMsg{
			Handle:           svc.Handle,
			Type:             svc.Type,
			UUID:             svc.UUID.String(),
			IncludedServices: serviceMsgs(svc.IncludedServices),
		}
		for _, ch := range svc.Characteristics {
			chMsg := wire.GattCharacteristicMsg{
				Properties:  ch.Properties,
				Permissions: ch.Permissions,
				UUID:        ch.UUID.String(),
				Handle:      ch.Handle,
			}
			for _, d := range ch.Descriptors {
				chMsg.Descriptors = append(chMsg.Descriptors, wire.GattDescriptorMsg{
					Handle:      d.Handle,
					Permissions: d.Permissions,
					UUID:        d.UUID.String(),
				})
			}
			msg.Characteristics = append(msg.Characteristics, chMsg)
		}
		out = append(out, msg)
	}
	return out
}
