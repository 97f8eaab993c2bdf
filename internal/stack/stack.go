// Package stack defines the boundary to the underlying Bluetooth control
// stack. Triggering calls are fire-and-forget: they return an error only when
// the call itself cannot be issued. Completion and results arrive later as
// events pushed to the sink from the stack's own delivery goroutine.
package stack

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Errors returned by triggering calls.
var (
	// ErrUnsupported indicates the backing stack cannot perform the procedure.
	ErrUnsupported = errors.New("operation not supported by this stack")
)

// Category identifies an event-source namespace. Observer registration and
// event dispatch are scoped to a single category.
type Category string

const (
	CategoryPairing     Category = "pairing"
	CategoryConnection  Category = "connection"
	CategoryAttribute   Category = "attribute"
	CategoryScan        Category = "scan"
	CategoryAdvertising Category = "advertising"
)

// Sink receives events produced by a Stack implementation. Implementations
// must tolerate being called from any goroutine.
type Sink func(Category, Event)

// BondState mirrors the stack's bonding states.
type BondState int32

const (
	BondNone BondState = iota
	Bonding
	Bonded
)

// Transport selects the link type for bonding.
type Transport int32

const (
	TransportAuto Transport = iota
	TransportBREDR
	TransportLE
)

// GattStatus is the status code carried by GATT completion events.
type GattStatus int32

// GattSuccess is the only success value; everything else is a failure code
// whose meaning is owned by the stack.
const GattSuccess GattStatus = 0

// SspVariant is the pairing interaction kind of an SSP request.
type SspVariant int32

const (
	SspPasskeyConfirmation SspVariant = iota
	SspPasskeyEntry
	SspConsent
	SspPasskeyNotification
)

// LePhy identifies an LE physical layer.
type LePhy int32

const (
	PhyInvalid LePhy = 0
	Phy1M      LePhy = 1
	Phy2M      LePhy = 2
	PhyCoded   LePhy = 3
)

// AddressType is the LE address type reported in scan results.
type AddressType int32

const (
	AddrPublic AddressType = iota
	AddrRandom
	AddrPublicIdentity
	AddrRandomStaticIdentity
)

// DiscoverabilityMode selects classic discoverability.
type DiscoverabilityMode int32

const (
	NotDiscoverable DiscoverabilityMode = iota
	LimitedDiscoverable
	GeneralDiscoverable
)

// AdvertiseParams configures an advertising set.
type AdvertiseParams struct {
	Connectable    bool
	Scannable      bool
	Legacy         bool
	IncludeTxPower bool
	PrimaryPhy     LePhy
	SecondaryPhy   LePhy
	Interval       int32
	TxPowerLevel   int32
	OwnAddressType int32
	Data           []byte
}

// GattService is a discovered service subtree.
type GattService struct {
	Handle           int32
	Type             int32
	UUID             uuid.UUID
	IncludedServices []GattService
	Characteristics  []GattCharacteristic
}

// GattCharacteristic is a discovered characteristic with its descriptors.
type GattCharacteristic struct {
	Handle      int32
	UUID        uuid.UUID
	Properties  int32
	Permissions int32
	Descriptors []GattDescriptor
}

// GattDescriptor is a discovered characteristic descriptor.
type GattDescriptor struct {
	Handle      int32
	UUID        uuid.UUID
	Permissions int32
}

// Write types for WriteCharacteristic.
const (
	// WriteTypeDefault requests acknowledgement by the remote device.
	WriteTypeDefault int32 = 2
)

// AuthNone requests no authentication for attribute access.
const AuthNone int32 = 0

// Stack is the device-control collaborator. Methods grouped by the category
// their completion events are delivered to.
type Stack interface {
	// Adapter state.
	Address() Address
	IsConnected(addr Address) bool
	IsBonded(addr Address) bool
	BondState(addr Address) BondState
	IsDiscovering() bool
	Reset() error

	// Connection and pairing. Completion via CategoryConnection /
	// CategoryPairing events.
	Connect(addr Address) error
	CreateBond(addr Address, transport Transport) error
	ConnectAllProfiles(addr Address) error
	SetPairingConfirmation(addr Address, accept bool) error
	Disconnect(addr Address) error

	// Classic discovery. Completion via CategoryScan events.
	StartDiscovery() error
	StopDiscovery() error
	SetDiscoverable(mode DiscoverabilityMode, duration time.Duration) error

	// LE scanning. RegisterScanner returns the registration token matched
	// against the ScannerRegistered event.
	RegisterScanner() (uuid.UUID, error)
	StartScan(scannerID uint8) error
	StopScan(scannerID uint8) error

	// LE advertising. StartAdvertisingSet returns the registration id matched
	// against the AdvertisingSetStarted event.
	StartAdvertisingSet(params AdvertiseParams) (int32, error)
	StopAdvertisingSet(advertiserID int32) error
	ActiveAdvertisingSets() int

	// GATT client. Completion via CategoryAttribute events.
	ConfigureMTU(addr Address, mtu int32) error
	DiscoverServices(addr Address) error
	DiscoverServiceByUUID(addr Address, svc uuid.UUID) error
	ReadCharacteristic(addr Address, handle int32, authReq int32) error
	WriteCharacteristic(addr Address, handle int32, writeType int32, authReq int32, value []byte) error
	ReadDescriptor(addr Address, handle int32, authReq int32) error
	WriteDescriptor(addr Address, handle int32, authReq int32, value []byte) error
	RefreshDevice(addr Address) error

	// SDP. FetchRemoteUUIDs triggers a DevicePropertiesChanged event once the
	// UUIDs property is updated; RemoteUUIDs reads the cached value.
	FetchRemoteUUIDs(addr Address) error
	RemoteUUIDs(addr Address) []uuid.UUID
}
