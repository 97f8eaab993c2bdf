// Package goble adapts go-ble/ble to the gateway's stack boundary for real
// hardware. Classic-only procedures (bonding, inquiry, discoverability)
// return ErrUnsupported; LE connect, scan, advertise and the GATT client are
// backed by the library. Completion events are synthesized from the library's
// synchronous calls and delivered through the sink on worker goroutines.
package goble

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	ble "github.com/go-ble/ble"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/srg/btgate/internal/stack"
	"github.com/srg/btgate/internal/task"
)

// gattFailure is the generic failure status reported when a library call
// errors without a more specific code.
const gattFailure stack.GattStatus = 1

const dialTimeout = 30 * time.Second

type peer struct {
	client  ble.Client
	profile *ble.Profile
}

// Stack is the go-ble backed implementation.
type Stack struct {
	logger *logrus.Logger
	sink   stack.Sink
	dev    ble.Device

	mu          sync.Mutex
	peers       map[stack.Address]*peer
	scans       map[uint8]context.CancelFunc
	advs        map[int32]context.CancelFunc
	remoteUUIDs map[stack.Address][]uuid.UUID

	nextScanner atomic.Uint32
	nextAdv     atomic.Int32

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New opens the HCI device and returns the adapter.
func New(sink stack.Sink, logger *logrus.Logger) (*Stack, error) {
	if logger == nil {
		logger = logrus.New()
	}
	dev, err := DeviceFactory()
	if err != nil {
		return nil, fmt.Errorf("open BLE device: %w", err)
	}
	ble.SetDefaultDevice(dev)

	s := &Stack{
		logger:      logger,
		sink:        sink,
		dev:         dev,
		peers:       make(map[stack.Address]*peer),
		scans:       make(map[uint8]context.CancelFunc),
		advs:        make(map[int32]context.CancelFunc),
		remoteUUIDs: make(map[stack.Address][]uuid.UUID),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s, nil
}

// Stop tears down all activity and waits for worker goroutines.
func (s *Stack) Stop() {
	s.cancel()
	_ = s.Reset()
	s.wg.Wait()
}

func (s *Stack) emit(ev stack.Event) {
	s.sink(ev.Category(), ev)
}

func (s *Stack) peerFor(addr stack.Address) (*peer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.peers[addr]
	return p, ok
}

// Address returns the zero address: go-ble does not expose the controller's
// own address through its public device interface.
func (s *Stack) Address() stack.Address { return stack.Address{} }

func (s *Stack) IsConnected(addr stack.Address) bool {
	_, ok := s.peerFor(addr)
	return ok
}

func (s *Stack) IsBonded(stack.Address) bool { return false }

func (s *Stack) BondState(stack.Address) stack.BondState { return stack.BondNone }

func (s *Stack) IsDiscovering() bool { return false }

func (s *Stack) Reset() error {
	s.mu.Lock()
	peers := s.peers
	scans := s.scans
	advs := s.advs
	s.peers = make(map[stack.Address]*peer)
	s.scans = make(map[uint8]context.CancelFunc)
	s.advs = make(map[int32]context.CancelFunc)
	s.mu.Unlock()

	for _, cancel := range scans {
		cancel()
	}
	for _, cancel := range advs {
		cancel()
	}
	for addr, p := range peers {
		if err := p.client.CancelConnection(); err != nil {
			s.logger.WithField("device", addr.String()).WithError(err).Warn("Cancel connection failed during reset")
		}
	}
	return nil
}

// Connect dials the device and reports the outcome as a connected event. The
// dial runs on a worker goroutine; a failed dial produces no event.
func (s *Stack) Connect(addr stack.Address) error {
	task.GoWait(s.ctx, &s.wg, "goble-connect-"+addr.String(), func(ctx context.Context) {
		dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
		defer cancel()

		client, err := s.dev.Dial(dialCtx, ble.NewAddr(addr.String()))
		if err != nil {
			s.logger.WithField("device", addr.String()).WithError(err).Warn("Dial failed")
			return
		}

		s.mu.Lock()
		s.peers[addr] = &peer{client: client}
		s.mu.Unlock()
		s.emit(stack.DeviceConnected{Address: addr})

		task.Go(s.ctx, "goble-watch-"+addr.String(), func(context.Context) {
			<-client.Disconnected()
			s.mu.Lock()
			delete(s.peers, addr)
			s.mu.Unlock()
			s.emit(stack.DeviceDisconnected{Address: addr})
		})
	})
	return nil
}

func (s *Stack) CreateBond(stack.Address, stack.Transport) error { return stack.ErrUnsupported }
func (s *Stack) ConnectAllProfiles(stack.Address) error          { return stack.ErrUnsupported }
func (s *Stack) SetPairingConfirmation(stack.Address, bool) error {
	return stack.ErrUnsupported
}

func (s *Stack) Disconnect(addr stack.Address) error {
	p, ok := s.peerFor(addr)
	if !ok {
		return fmt.Errorf("device %s is not connected", addr)
	}
	return p.client.CancelConnection()
}

func (s *Stack) StartDiscovery() error { return stack.ErrUnsupported }
func (s *Stack) StopDiscovery() error  { return stack.ErrUnsupported }
func (s *Stack) SetDiscoverable(stack.DiscoverabilityMode, time.Duration) error {
	return stack.ErrUnsupported
}

// RegisterScanner allocates a scanner slot. The library needs no real
// registration, so the confirmation event is synthesized immediately.
func (s *Stack) RegisterScanner() (uuid.UUID, error) {
	token := uuid.New()
	scannerID := uint8(s.nextScanner.Add(1))
	task.GoWait(s.ctx, &s.wg, "goble-scanner-registered", func(context.Context) {
		s.emit(stack.ScannerRegistered{UUID: token, ScannerID: scannerID, Status: stack.GattSuccess})
	})
	return token, nil
}

func (s *Stack) StartScan(scannerID uint8) error {
	scanCtx, cancel := context.WithCancel(s.ctx)
	s.mu.Lock()
	if _, dup := s.scans[scannerID]; dup {
		s.mu.Unlock()
		cancel()
		return fmt.Errorf("scanner %d already scanning", scannerID)
	}
	s.scans[scannerID] = cancel
	s.mu.Unlock()

	task.GoWait(s.ctx, &s.wg, fmt.Sprintf("goble-scan-%d", scannerID), func(context.Context) {
		err := s.dev.Scan(scanCtx, true, func(adv ble.Advertisement) {
			s.observeAdvertisement(adv)
		})
		if err != nil && scanCtx.Err() == nil {
			s.logger.WithField("scanner", scannerID).WithError(err).Warn("Scan stopped with error")
		}
	})
	return nil
}

func (s *Stack) observeAdvertisement(adv ble.Advertisement) {
	addr, err := stack.ParseAddress(adv.Addr().String())
	if err != nil {
		return
	}

	var uuids []uuid.UUID
	for _, bu := range adv.Services() {
		if u, err := fromBLEUUID(bu); err == nil {
			uuids = append(uuids, u)
		}
	}
	if len(uuids) > 0 {
		s.mu.Lock()
		s.remoteUUIDs[addr] = uuids
		s.mu.Unlock()
	}

	s.emit(stack.ScanResult{
		Address:     addr,
		AddressType: stack.AddrPublic,
		TxPower:     int32(adv.TxPowerLevel()),
		RSSI:        int32(adv.RSSI()),
		PrimaryPhy:  stack.Phy1M,
		Data:        adv.ManufacturerData(),
	})
}

func (s *Stack) StopScan(scannerID uint8) error {
	s.mu.Lock()
	cancel, ok := s.scans[scannerID]
	delete(s.scans, scannerID)
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("scanner %d is not scanning", scannerID)
	}
	cancel()
	return nil
}

// StartAdvertisingSet begins advertising. go-ble drives advertising through a
// blocking call bounded by a context, so the set is "started" as soon as the
// worker is running.
func (s *Stack) StartAdvertisingSet(params stack.AdvertiseParams) (int32, error) {
	regID := s.nextAdv.Add(1)
	advCtx, cancel := context.WithCancel(s.ctx)

	s.mu.Lock()
	s.advs[regID] = cancel
	s.mu.Unlock()

	task.GoWait(s.ctx, &s.wg, fmt.Sprintf("goble-advertise-%d", regID), func(context.Context) {
		s.emit(stack.AdvertisingSetStarted{
			RegID:        regID,
			AdvertiserID: regID,
			TxPower:      params.TxPowerLevel,
			Status:       stack.GattSuccess,
		})
		if err := s.dev.AdvertiseNameAndServices(advCtx, "btgated"); err != nil && advCtx.Err() == nil {
			s.logger.WithField("set", regID).WithError(err).Warn("Advertising stopped with error")
		}
		s.mu.Lock()
		delete(s.advs, regID)
		s.mu.Unlock()
	})
	return regID, nil
}

func (s *Stack) StopAdvertisingSet(advertiserID int32) error {
	s.mu.Lock()
	cancel, ok := s.advs[advertiserID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("advertising set %d is not active", advertiserID)
	}
	cancel()
	return nil
}

func (s *Stack) ActiveAdvertisingSets() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.advs)
}

func (s *Stack) ConfigureMTU(addr stack.Address, mtu int32) error {
	p, ok := s.peerFor(addr)
	if !ok {
		return fmt.Errorf("device %s is not connected", addr)
	}
	task.GoWait(s.ctx, &s.wg, "goble-mtu-"+addr.String(), func(context.Context) {
		got, err := p.client.ExchangeMTU(int(mtu))
		ev := stack.MTUChanged{Address: addr, MTU: int32(got), Status: stack.GattSuccess}
		if err != nil {
			s.logger.WithField("device", addr.String()).WithError(err).Warn("MTU exchange failed")
			ev.Status = gattFailure
		}
		s.emit(ev)
	})
	return nil
}

func (s *Stack) DiscoverServices(addr stack.Address) error {
	p, ok := s.peerFor(addr)
	if !ok {
		return fmt.Errorf("device %s is not connected", addr)
	}
	task.GoWait(s.ctx, &s.wg, "goble-discover-"+addr.String(), func(context.Context) {
		s.emit(s.discoverProfile(addr, p, nil))
	})
	return nil
}

func (s *Stack) DiscoverServiceByUUID(addr stack.Address, svc uuid.UUID) error {
	p, ok := s.peerFor(addr)
	if !ok {
		return fmt.Errorf("device %s is not connected", addr)
	}
	task.GoWait(s.ctx, &s.wg, "goble-discover-uuid-"+addr.String(), func(context.Context) {
		s.emit(s.discoverProfile(addr, p, &svc))
	})
	return nil
}

// discoverProfile runs full profile discovery, caches it for handle lookups
// and builds the completion event, optionally filtered to one service UUID.
func (s *Stack) discoverProfile(addr stack.Address, p *peer, only *uuid.UUID) stack.SearchComplete {
	profile, err := p.client.DiscoverProfile(true)
	if err != nil {
		s.logger.WithField("device", addr.String()).WithError(err).Warn("Profile discovery failed")
		return stack.SearchComplete{Address: addr, Status: gattFailure}
	}

	s.mu.Lock()
	p.profile = profile
	s.mu.Unlock()

	var services []stack.GattService
	var uuids []uuid.UUID
	for _, bleSvc := range profile.Services {
		svcUUID, err := fromBLEUUID(bleSvc.UUID)
		if err != nil {
			continue
		}
		uuids = append(uuids, svcUUID)
		if only != nil && svcUUID != *only {
			continue
		}
		svc := stack.GattService{Handle: int32(bleSvc.Handle), UUID: svcUUID}
		for _, bleChar := range bleSvc.Characteristics {
			charUUID, err := fromBLEUUID(bleChar.UUID)
			if err != nil {
				continue
			}
			ch := stack.GattCharacteristic{
				Handle:     int32(bleChar.ValueHandle),
				UUID:       charUUID,
				Properties: int32(bleChar.Property),
			}
			for _, bleDesc := range bleChar.Descriptors {
				descUUID, err := fromBLEUUID(bleDesc.UUID)
				if err != nil {
					continue
				}
				ch.Descriptors = append(ch.Descriptors, stack.GattDescriptor{
					Handle: int32(bleDesc.Handle),
					UUID:   descUUID,
				})
			}
			svc.Characteristics = append(svc.Characteristics, ch)
		}
		services = append(services, svc)
	}

	s.mu.Lock()
	s.remoteUUIDs[addr] = uuids
	s.mu.Unlock()

	return stack.SearchComplete{Address: addr, Services: services, Status: stack.GattSuccess}
}

// findCharacteristic looks a characteristic up by value handle in the cached
// profile.
func (s *Stack) findCharacteristic(p *peer, handle int32) *ble.Characteristic {
	s.mu.Lock()
	profile := p.profile
	s.mu.Unlock()
	if profile == nil {
		return nil
	}
	for _, svc := range profile.Services {
		for _, ch := range svc.Characteristics {
			if int32(ch.ValueHandle) == handle {
				return ch
			}
		}
	}
	return nil
}

func (s *Stack) findDescriptor(p *peer, handle int32) *ble.Descriptor {
	s.mu.Lock()
	profile := p.profile
	s.mu.Unlock()
	if profile == nil {
		return nil
	}
	for _, svc := range profile.Services {
		for _, ch := range svc.Characteristics {
			for _, d := range ch.Descriptors {
				if int32(d.Handle) == handle {
					return d
				}
			}
		}
	}
	return nil
}

func (s *Stack) ReadCharacteristic(addr stack.Address, handle int32, _ int32) error {
	p, ok := s.peerFor(addr)
	if !ok {
		return fmt.Errorf("device %s is not connected", addr)
	}
	task.GoWait(s.ctx, &s.wg, "goble-read-char", func(context.Context) {
		ev := stack.CharacteristicRead{Address: addr, Handle: handle, Status: gattFailure}
		if ch := s.findCharacteristic(p, handle); ch != nil {
			if value, err := p.client.ReadCharacteristic(ch); err == nil {
				ev.Status = stack.GattSuccess
				ev.Value = value
			}
		}
		s.emit(ev)
	})
	return nil
}

func (s *Stack) WriteCharacteristic(addr stack.Address, handle int32, writeType int32, _ int32, value []byte) error {
	p, ok := s.peerFor(addr)
	if !ok {
		return fmt.Errorf("device %s is not connected", addr)
	}
	noRsp := writeType != stack.WriteTypeDefault
	task.GoWait(s.ctx, &s.wg, "goble-write-char", func(context.Context) {
		ev := stack.CharacteristicWrite{Address: addr, Handle: handle, Status: gattFailure}
		if ch := s.findCharacteristic(p, handle); ch != nil {
			if err := p.client.WriteCharacteristic(ch, value, noRsp); err == nil {
				ev.Status = stack.GattSuccess
			}
		}
		s.emit(ev)
	})
	return nil
}

func (s *Stack) ReadDescriptor(addr stack.Address, handle int32, _ int32) error {
	p, ok := s.peerFor(addr)
	if !ok {
		return fmt.Errorf("device %s is not connected", addr)
	}
	task.GoWait(s.ctx, &s.wg, "goble-read-desc", func(context.Context) {
		ev := stack.DescriptorRead{Address: addr, Handle: handle, Status: gattFailure}
		if d := s.findDescriptor(p, handle); d != nil {
			if value, err := p.client.ReadDescriptor(d); err == nil {
				ev.Status = stack.GattSuccess
				ev.Value = value
			}
		}
		s.emit(ev)
	})
	return nil
}

func (s *Stack) WriteDescriptor(addr stack.Address, handle int32, _ int32, value []byte) error {
	p, ok := s.peerFor(addr)
	if !ok {
		return fmt.Errorf("device %s is not connected", addr)
	}
	task.GoWait(s.ctx, &s.wg, "goble-write-desc", func(context.Context) {
		ev := stack.DescriptorWrite{Address: addr, Handle: handle, Status: gattFailure}
		if d := s.findDescriptor(p, handle); d != nil {
			if err := p.client.WriteDescriptor(d, value); err == nil {
				ev.Status = stack.GattSuccess
			}
		}
		s.emit(ev)
	})
	return nil
}

// RefreshDevice re-discovers the profile and reports completion through a
// connection-updated event.
func (s *Stack) RefreshDevice(addr stack.Address) error {
	p, ok := s.peerFor(addr)
	if !ok {
		return fmt.Errorf("device %s is not connected", addr)
	}
	task.GoWait(s.ctx, &s.wg, "goble-refresh-"+addr.String(), func(context.Context) {
		res := s.discoverProfile(addr, p, nil)
		s.emit(stack.ConnectionUpdated{Address: addr, Status: res.Status})
	})
	return nil
}

// FetchRemoteUUIDs reports the cached service UUIDs through a properties
// event; discovery fills the cache.
func (s *Stack) FetchRemoteUUIDs(addr stack.Address) error {
	p, ok := s.peerFor(addr)
	if !ok {
		return fmt.Errorf("device %s is not connected", addr)
	}
	task.GoWait(s.ctx, &s.wg, "goble-fetch-uuids-"+addr.String(), func(context.Context) {
		res := s.discoverProfile(addr, p, nil)
		if res.Status != stack.GattSuccess {
			s.logger.WithField("device", addr.String()).Warn("UUID fetch failed")
		}
		s.emit(stack.DevicePropertiesChanged{
			Address:    addr,
			Properties: []stack.PropertyType{stack.PropertyUUIDs},
		})
	})
	return nil
}

func (s *Stack) RemoteUUIDs(addr stack.Address) []uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remoteUUIDs[addr]
}
