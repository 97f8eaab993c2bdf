package stack

import "github.com/google/uuid"

// Event is a callback notification delivered by the stack. Concrete event
// types carry the correlation fields (device address, registration token,
// handle) the bridging layer matches on.
type Event interface {
	Category() Category
}

// BondStateChanged reports a bonding state transition.
type BondStateChanged struct {
	Status  int32
	Address Address
	State   BondState
}

func (BondStateChanged) Category() Category { return CategoryPairing }

// SspRequest is a pairing side-channel request from the remote device.
type SspRequest struct {
	Address Address
	Class   uint32
	Variant SspVariant
	Passkey uint32
}

func (SspRequest) Category() Category { return CategoryPairing }

// DeviceConnected reports an established ACL connection.
type DeviceConnected struct {
	Address Address
}

func (DeviceConnected) Category() Category { return CategoryConnection }

// DeviceDisconnected reports a dropped ACL connection.
type DeviceDisconnected struct {
	Address Address
}

func (DeviceDisconnected) Category() Category { return CategoryConnection }

// DeviceFound reports a device discovered during classic inquiry.
type DeviceFound struct {
	Address Address
	Name    string
}

func (DeviceFound) Category() Category { return CategoryScan }

// DiscoveringChanged reports the adapter's discovery state.
type DiscoveringChanged struct {
	Discovering bool
}

func (DiscoveringChanged) Category() Category { return CategoryScan }

// ScannerRegistered completes a RegisterScanner call; matched by token UUID.
type ScannerRegistered struct {
	UUID      uuid.UUID
	ScannerID uint8
	Status    GattStatus
}

func (ScannerRegistered) Category() Category { return CategoryScan }

// ScanResult is one LE advertisement seen by an active scanner.
type ScanResult struct {
	Address             Address
	AddressType         AddressType
	TxPower             int32
	RSSI                int32
	PrimaryPhy          LePhy
	SecondaryPhy        LePhy
	AdvertisingSID      int32
	PeriodicAdvInterval int32
	Flags               uint8
	Data                []byte
}

func (ScanResult) Category() Category { return CategoryScan }

// AdvertisingSetStarted completes a StartAdvertisingSet call; matched by the
// registration id returned from the triggering call.
type AdvertisingSetStarted struct {
	RegID        int32
	AdvertiserID int32
	TxPower      int32
	Status       GattStatus
}

func (AdvertisingSetStarted) Category() Category { return CategoryAdvertising }

// MTUChanged completes a ConfigureMTU call.
type MTUChanged struct {
	Address Address
	MTU     int32
	Status  GattStatus
}

func (MTUChanged) Category() Category { return CategoryAttribute }

// CharacteristicRead completes a ReadCharacteristic call.
type CharacteristicRead struct {
	Address Address
	Status  GattStatus
	Handle  int32
	Value   []byte
}

func (CharacteristicRead) Category() Category { return CategoryAttribute }

// CharacteristicWrite completes a WriteCharacteristic call.
type CharacteristicWrite struct {
	Address Address
	Status  GattStatus
	Handle  int32
}

func (CharacteristicWrite) Category() Category { return CategoryAttribute }

// DescriptorRead completes a ReadDescriptor call.
type DescriptorRead struct {
	Address Address
	Status  GattStatus
	Handle  int32
	Value   []byte
}

func (DescriptorRead) Category() Category { return CategoryAttribute }

// DescriptorWrite completes a WriteDescriptor call.
type DescriptorWrite struct {
	Address Address
	Status  GattStatus
	Handle  int32
}

func (DescriptorWrite) Category() Category { return CategoryAttribute }

// SearchComplete completes a DiscoverServices call.
type SearchComplete struct {
	Address  Address
	Services []GattService
	Status   GattStatus
}

func (SearchComplete) Category() Category { return CategoryAttribute }

// ConnectionUpdated reports updated connection parameters; completes a
// RefreshDevice call.
type ConnectionUpdated struct {
	Address  Address
	Interval int32
	Latency  int32
	Timeout  int32
	Status   GattStatus
}

func (ConnectionUpdated) Category() Category { return CategoryAttribute }

// PropertyType identifies a device property in DevicePropertiesChanged.
type PropertyType int32

const (
	PropertyName PropertyType = iota
	PropertyClass
	PropertyUUIDs
)

// DevicePropertiesChanged reports updated cached device properties.
type DevicePropertiesChanged struct {
	Address    Address
	Properties []PropertyType
}

func (DevicePropertiesChanged) Category() Category { return CategoryAttribute }
