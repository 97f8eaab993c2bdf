package host

import (
	"context"
	"fmt"

	"github.com/srg/btgate/internal/registry"
	"github.com/srg/btgate/internal/stack"
	"github.com/srg/btgate/pkg/wire"
)

// Connect bonds with the device if needed and waits until it is connected.
// An already connected device completes immediately.
func (s *Service) Connect(ctx context.Context, req *wire.ConnectRequest) (*wire.ConnectResponse, error) {
	addr, err := requestAddress(req.Address)
	if err != nil {
		return nil, err
	}
	log := s.logger.WithField("device", addr.String())

	if s.stack.IsConnected(addr) {
		log.Debug("Already connected")
		s.waited.Set(addr.String(), struct{}{})
		return &wire.ConnectResponse{Connection: connection(addr)}, nil
	}

	machine := newPairingMachine(s.logger, s.stack, addr)
	name := registry.ObserverName(machine)
	if err := s.registry.Register(stack.CategoryPairing, name, machine); err != nil {
		return nil, err
	}
	defer s.registry.Unregister(stack.CategoryPairing, name)
	if err := s.registry.Register(stack.CategoryConnection, name, machine); err != nil {
		return nil, err
	}
	defer s.registry.Unregister(stack.CategoryConnection, name)

	if err := machine.start(); err != nil {
		return nil, err
	}

	outcome, err := machine.done.Await(ctx, 0)
	if err != nil {
		return nil, err
	}
	if outcome.err != nil {
		log.WithError(outcome.err).Warn("Connect failed")
		return nil, outcome.err
	}

	log.Info("Connected")
	s.waited.Set(addr.String(), struct{}{})
	return &wire.ConnectResponse{Connection: connection(addr)}, nil
}

// WaitConnection completes once the device is connected. A connection already
// handed out by a previous Connect or WaitConnection completes immediately;
// otherwise the call waits for the next connected event.
func (s *Service) WaitConnection(ctx context.Context, req *wire.WaitConnectionRequest) (*wire.WaitConnectionResponse, error) {
	addr, err := requestAddress(req.Address)
	if err != nil {
		return nil, err
	}

	_, seen := s.waited.Get(addr.String())
	if seen && s.stack.IsConnected(addr) {
		return &wire.WaitConnectionResponse{Connection: connection(addr)}, nil
	}

	waiter := newConnectionWaiter(addr)
	name := registry.ObserverName(waiter)
	if err := s.registry.Register(stack.CategoryConnection, name, waiter); err != nil {
		return nil, err
	}
	defer s.registry.Unregister(stack.CategoryConnection, name)

	// Re-check after registration so a connection racing the register is
	// not missed. A connection never handed out still waits for the next
	// connected event, however long the link has been up.
	if seen && s.stack.IsConnected(addr) {
		return &wire.WaitConnectionResponse{Connection: connection(addr)}, nil
	}

	if _, err := waiter.done.Await(ctx, 0); err != nil {
		return nil, err
	}
	s.waited.Set(addr.String(), struct{}{})
	return &wire.WaitConnectionResponse{Connection: connection(addr)}, nil
}

// Disconnect drops the link if it is up. Disconnecting an already
// disconnected device succeeds without touching the stack.
func (s *Service) Disconnect(ctx context.Context, req *wire.DisconnectRequest) (*wire.Empty, error) {
	addr, err := cookieAddress(req.Connection)
	if err != nil {
		return nil, err
	}
	if !s.stack.IsConnected(addr) {
		return &wire.Empty{}, nil
	}
	if err := s.stack.Disconnect(addr); err != nil {
		return nil, fmt.Errorf("disconnect: %w", err)
	}
	return &wire.Empty{}, nil
}

// WaitDisconnection completes once the device is disconnected; immediately if
// it already is.
func (s *Service) WaitDisconnection(ctx context.Context, req *wire.WaitDisconnectionRequest) (*wire.Empty, error) {
	addr, err := requestAddress(req.Address)
	if err != nil {
		return nil, err
	}

	if !s.stack.IsConnected(addr) {
		return &wire.Empty{}, nil
	}

	waiter := newDisconnectionWaiter(addr)
	name := registry.ObserverName(waiter)
	if err := s.registry.Register(stack.CategoryConnection, name, waiter); err != nil {
		return nil, err
	}
	defer s.registry.Unregister(stack.CategoryConnection, name)

	if !s.stack.IsConnected(addr) {
		return &wire.Empty{}, nil
	}

	if _, err := waiter.done.Await(ctx, 0); err != nil {
		return nil, err
	}
	return &wire.Empty{}, nil
}
