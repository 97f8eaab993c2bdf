// Package fakestack is an in-memory Stack used by the test suites and by the
// gateway's mock mode. Triggering calls are recorded and, where configured,
// answered with scripted events delivered on a dedicated goroutine so tests
// exercise the same cross-goroutine handoff as a real stack.
package fakestack

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/srg/btgate/internal/stack"
	"github.com/srg/btgate/internal/task"
)

// Call records one triggering call for assertions.
type Call struct {
	Name string
	Args []any
}

// Stack is the fake implementation. The zero value is not usable; use New.
type Stack struct {
	logger *logrus.Logger
	sink   stack.Sink

	localAddr stack.Address

	// Device state maps are keyed by the address's string form; hashmap
	// keys must be integers or strings.
	connected   *hashmap.Map[string, struct{}]
	bonded      *hashmap.Map[string, struct{}]
	remoteUUIDs *hashmap.Map[string, []uuid.UUID]
	bondStates  *hashmap.Map[string, stack.BondState]

	discovering atomic.Bool
	activeAdvs  *hashmap.Map[int32, struct{}]
	nextRegID   atomic.Int32
	nextScanner atomic.Uint32

	callsMu sync.Mutex
	calls   []Call

	// failures maps a call name to an error injected on the next invocation.
	failures *hashmap.Map[string, error]

	events chan delivery
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type delivery struct {
	category stack.Category
	event    stack.Event
}

// New creates a fake stack delivering events to sink from its own goroutine.
func New(sink stack.Sink, logger *logrus.Logger) *Stack {
	if logger == nil {
		logger = logrus.New()
	}
	localAddr, _ := stack.ParseAddress("C0:FF:EE:00:00:01")
	s := &Stack{
		logger:      logger,
		sink:        sink,
		localAddr:   localAddr,
		connected:   hashmap.New[string, struct{}](),
		bonded:      hashmap.New[string, struct{}](),
		remoteUUIDs: hashmap.New[string, []uuid.UUID](),
		bondStates:  hashmap.New[string, stack.BondState](),
		activeAdvs:  hashmap.New[int32, struct{}](),
		failures:    hashmap.New[string, error](),
		events:      make(chan delivery, 64),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	task.GoWait(s.ctx, &s.wg, "fakestack-delivery", func(ctx context.Context) {
		for {
			select {
			case <-ctx.Done():
				return
			case d := <-s.events:
				s.sink(d.category, d.event)
			}
		}
	})
	return s
}

// Stop terminates the delivery goroutine. Queued events are dropped.
func (s *Stack) Stop() {
	s.cancel()
	s.wg.Wait()
}

// Emit queues an event for asynchronous delivery.
func (s *Stack) Emit(ev stack.Event) {
	select {
	case s.events <- delivery{category: ev.Category(), event: ev}:
	case <-s.ctx.Done():
	}
}

// EmitSync delivers an event inline on the caller's goroutine. Tests use it
// when delivery ordering relative to the test body matters.
func (s *Stack) EmitSync(ev stack.Event) {
	s.sink(ev.Category(), ev)
}

// FailNext makes the next triggering call with this name return err.
func (s *Stack) FailNext(call string, err error) {
	s.failures.Set(call, err)
}

// Calls returns a snapshot of recorded triggering calls.
func (s *Stack) Calls() []Call {
	s.callsMu.Lock()
	defer s.callsMu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// CallCount counts recorded calls with the given name.
func (s *Stack) CallCount(name string) int {
	s.callsMu.Lock()
	defer s.callsMu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c.Name == name {
			n++
		}
	}
	return n
}

func (s *Stack) record(name string, args ...any) error {
	s.callsMu.Lock()
	s.calls = append(s.calls, Call{Name: name, Args: args})
	s.callsMu.Unlock()

	if err, ok := s.failures.Get(name); ok {
		s.failures.Del(name)
		s.logger.WithField("call", name).WithError(err).Debug("Injected call failure")
		return err
	}
	s.logger.WithField("call", name).Debug("Stack call")
	return nil
}

// State mutators for tests and mock scenarios.

func (s *Stack) SetConnected(addr stack.Address, connected bool) {
	if connected {
		s.connected.Set(addr.String(), struct{}{})
	} else {
		s.connected.Del(addr.String())
	}
}

func (s *Stack) SetBonded(addr stack.Address, bonded bool) {
	if bonded {
		s.bonded.Set(addr.String(), struct{}{})
		s.bondStates.Set(addr.String(), stack.Bonded)
	} else {
		s.bonded.Del(addr.String())
		s.bondStates.Set(addr.String(), stack.BondNone)
	}
}

func (s *Stack) SetBondState(addr stack.Address, st stack.BondState) {
	s.bondStates.Set(addr.String(), st)
}

func (s *Stack) SetRemoteUUIDs(addr stack.Address, uuids []uuid.UUID) {
	s.remoteUUIDs.Set(addr.String(), uuids)
}

// Stack interface implementation.

func (s *Stack) Address() stack.Address { return s.localAddr }

func (s *Stack) IsConnected(addr stack.Address) bool {
	_, ok := s.connected.Get(addr.String())
	return ok
}

func (s *Stack) IsBonded(addr stack.Address) bool {
	_, ok := s.bonded.Get(addr.String())
	return ok
}

func (s *Stack) BondState(addr stack.Address) stack.BondState {
	if st, ok := s.bondStates.Get(addr.String()); ok {
		return st
	}
	return stack.BondNone
}

func (s *Stack) IsDiscovering() bool { return s.discovering.Load() }

func (s *Stack) Reset() error {
	err := s.record("Reset")
	s.connected = hashmap.New[string, struct{}]()
	s.bonded = hashmap.New[string, struct{}]()
	s.discovering.Store(false)
	s.activeAdvs = hashmap.New[int32, struct{}]()
	return err
}

func (s *Stack) Connect(addr stack.Address) error {
	return s.record("Connect", addr)
}

func (s *Stack) CreateBond(addr stack.Address, transport stack.Transport) error {
	return s.record("CreateBond", addr, transport)
}

func (s *Stack) ConnectAllProfiles(addr stack.Address) error {
	return s.record("ConnectAllProfiles", addr)
}

func (s *Stack) SetPairingConfirmation(addr stack.Address, accept bool) error {
	return s.record("SetPairingConfirmation", addr, accept)
}

func (s *Stack) Disconnect(addr stack.Address) error {
	return s.record("Disconnect", addr)
}

func (s *Stack) StartDiscovery() error {
	err := s.record("StartDiscovery")
	if err == nil {
		s.discovering.Store(true)
	}
	return err
}

func (s *Stack) StopDiscovery() error {
	err := s.record("StopDiscovery")
	if err == nil {
		s.discovering.Store(false)
	}
	return err
}

func (s *Stack) SetDiscoverable(mode stack.DiscoverabilityMode, duration time.Duration) error {
	return s.record("SetDiscoverable", mode, duration)
}

func (s *Stack) RegisterScanner() (uuid.UUID, error) {
	token := uuid.New()
	err := s.record("RegisterScanner", token)
	return token, err
}

func (s *Stack) StartScan(scannerID uint8) error {
	return s.record("StartScan", scannerID)
}

func (s *Stack) StopScan(scannerID uint8) error {
	return s.record("StopScan", scannerID)
}

func (s *Stack) StartAdvertisingSet(params stack.AdvertiseParams) (int32, error) {
	regID := s.nextRegID.Add(1)
	if err := s.record("StartAdvertisingSet", regID, params); err != nil {
		return 0, err
	}
	s.activeAdvs.Set(regID, struct{}{})
	return regID, nil
}

func (s *Stack) StopAdvertisingSet(advertiserID int32) error {
	s.activeAdvs.Del(advertiserID)
	return s.record("StopAdvertisingSet", advertiserID)
}

func (s *Stack) ActiveAdvertisingSets() int {
	return s.activeAdvs.Len()
}

// ConsumeAdvertisingSet simulates the stack retiring an advertising set when
// a central connects to it.
func (s *Stack) ConsumeAdvertisingSet(advertiserID int32) {
	s.activeAdvs.Del(advertiserID)
}

func (s *Stack) ConfigureMTU(addr stack.Address, mtu int32) error {
	return s.record("ConfigureMTU", addr, mtu)
}

func (s *Stack) DiscoverServices(addr stack.Address) error {
	return s.record("DiscoverServices", addr)
}

func (s *Stack) DiscoverServiceByUUID(addr stack.Address, svc uuid.UUID) error {
	return s.record("DiscoverServiceByUUID", addr, svc)
}

func (s *Stack) ReadCharacteristic(addr stack.Address, handle int32, authReq int32) error {
	return s.record("ReadCharacteristic", addr, handle, authReq)
}

func (s *Stack) WriteCharacteristic(addr stack.Address, handle int32, writeType int32, authReq int32, value []byte) error {
	return s.record("WriteCharacteristic", addr, handle, writeType, authReq, value)
}

func (s *Stack) ReadDescriptor(addr stack.Address, handle int32, authReq int32) error {
	return s.record("ReadDescriptor", addr, handle, authReq)
}

func (s *Stack) WriteDescriptor(addr stack.Address, handle int32, authReq int32, value []byte) error {
	return s.record("WriteDescriptor", addr, handle, authReq, value)
}

func (s *Stack) RefreshDevice(addr stack.Address) error {
	return s.record("RefreshDevice", addr)
}

func (s *Stack) FetchRemoteUUIDs(addr stack.Address) error {
	return s.record("FetchRemoteUUIDs", addr)
}

func (s *Stack) RemoteUUIDs(addr stack.Address) []uuid.UUID {
	if u, ok := s.remoteUUIDs.Get(addr.String()); ok {
		return u
	}
	return nil
}
