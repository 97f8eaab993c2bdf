package host

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/srg/btgate/internal/correlate"
	"github.com/srg/btgate/internal/stack"
)

// pairingState tracks progress of one Connect call.
type pairingState int32

const (
	pairingIdle pairingState = iota
	pairingAwaitingBond
	pairingAwaitingConnected
	pairingResolved
)

func (s pairingState) String() string {
	switch s {
	case pairingIdle:
		return "idle"
	case pairingAwaitingBond:
		return "awaiting-bond"
	case pairingAwaitingConnected:
		return "awaiting-connected"
	case pairingResolved:
		return "resolved"
	default:
		return fmt.Sprintf("pairingState(%d)", int32(s))
	}
}

// pairingOutcome is the terminal result of the machine.
type pairingOutcome struct {
	err error
}

// pairingMachine drives one device through bond and connect. It observes both
// the pairing and connection categories; events for other addresses pass
// through untouched. All callbacks run on the stack's delivery goroutine, so
// state moves under a mutex and the outcome hands off through a Pending.
type pairingMachine struct {
	logger  *logrus.Entry
	stack   stack.Stack
	address stack.Address

	mu    sync.Mutex
	state pairingState

	done *correlate.Pending[pairingOutcome]
}

func newPairingMachine(logger *logrus.Logger, st stack.Stack, addr stack.Address) *pairingMachine {
	return &pairingMachine{
		logger:  logger.WithField("device", addr.String()),
		stack:   st,
		address: addr,
		state:   pairingIdle,
		done:    correlate.NewPending[pairingOutcome](),
	}
}

// start issues the triggering call for the device's current bond state. The
// observer registrations must already be in place so no completion event can
// slip past.
func (m *pairingMachine) start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stack.IsBonded(m.address) {
		if m.stack.IsConnected(m.address) {
			m.resolveLocked(nil)
			return nil
		}
		m.state = pairingAwaitingConnected
		if err := m.stack.Connect(m.address); err != nil {
			m.resolveLocked(fmt.Errorf("connect: %w", err))
			return err
		}
		return nil
	}

	m.state = pairingAwaitingBond
	if err := m.stack.CreateBond(m.address, stack.TransportAuto); err != nil {
		m.resolveLocked(fmt.Errorf("create bond: %w", err))
		return err
	}
	return nil
}

// resolveLocked terminates the machine. Later events see pairingResolved and
// are ignored; the Pending itself also tolerates duplicate resolution.
func (m *pairingMachine) resolveLocked(err error) {
	m.state = pairingResolved
	m.done.Resolve(pairingOutcome{err: err})
}

func (m *pairingMachine) OnBondStateChanged(ev stack.BondStateChanged) {
	if ev.Address != m.address {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == pairingResolved {
		return
	}

	log := m.logger.WithFields(logrus.Fields{
		"status": ev.Status,
		"bond":   ev.State,
		"state":  m.state.String(),
	})

	if ev.Status != 0 {
		log.Warn("Bonding failed")
		m.resolveLocked(fmt.Errorf("bonding failed with status %d", ev.Status))
		return
	}
	if ev.State != stack.Bonded {
		log.Debug("Bond state changed")
		return
	}

	if m.stack.IsConnected(m.address) {
		log.Info("Bonded and connected")
		m.resolveLocked(nil)
		return
	}

	log.Info("Bonded, connecting profiles")
	m.state = pairingAwaitingConnected
	if err := m.stack.ConnectAllProfiles(m.address); err != nil {
		m.resolveLocked(fmt.Errorf("connect profiles: %w", err))
	}
}

func (m *pairingMachine) OnSspRequest(ev stack.SspRequest) {
	if ev.Address != m.address || ev.Variant != stack.SspConsent {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == pairingResolved {
		return
	}

	m.logger.Debug("Accepting consent pairing request")
	if err := m.stack.SetPairingConfirmation(m.address, true); err != nil {
		m.resolveLocked(fmt.Errorf("accept pairing: %w", err))
	}
}

func (m *pairingMachine) OnDeviceConnected(ev stack.DeviceConnected) {
	if ev.Address != m.address {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == pairingResolved {
		return
	}
	if !m.stack.IsBonded(m.address) {
		// Link came up mid-bonding; wait for the bond to complete.
		return
	}

	m.logger.Info("Device connected")
	m.resolveLocked(nil)
}
