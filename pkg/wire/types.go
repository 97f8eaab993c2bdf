package wire

// Method names dispatched by the RPC server.
const (
	MethodFactoryReset           = "Host.FactoryReset"
	MethodReset                  = "Host.Reset"
	MethodReadLocalAddress       = "Host.ReadLocalAddress"
	MethodConnect                = "Host.Connect"
	MethodConnectLE              = "Host.ConnectLE"
	MethodWaitConnection         = "Host.WaitConnection"
	MethodDisconnect             = "Host.Disconnect"
	MethodWaitDisconnection      = "Host.WaitDisconnection"
	MethodAdvertise              = "Host.Advertise"
	MethodScan                   = "Host.Scan"
	MethodInquiry                = "Host.Inquiry"
	MethodSetDiscoverabilityMode = "Host.SetDiscoverabilityMode"
	MethodSetConnectabilityMode  = "Host.SetConnectabilityMode"
	MethodExchangeMTU            = "Gatt.ExchangeMTU"
	MethodWriteAttributeByHandle = "Gatt.WriteAttributeByHandle"
	MethodDiscoverServices       = "Gatt.DiscoverServices"
	MethodDiscoverServicesSdp    = "Gatt.DiscoverServicesSdp"
	MethodDiscoverServiceByUUID  = "Gatt.DiscoverServiceByUuid"
	MethodClearCache             = "Gatt.ClearCache"
)

// Connection references an established connection; the cookie encodes the
// peer address and is treated as opaque by clients.
type Connection struct {
	Cookie []byte `cbor:"1,keyasint"`
}

// Empty is the payload of operations with no request or response fields.
type Empty struct{}

type ReadLocalAddressResponse struct {
	Address []byte `cbor:"1,keyasint"`
}

type ConnectRequest struct {
	Address []byte `cbor:"1,keyasint"`
}

type ConnectResponse struct {
	Connection Connection `cbor:"1,keyasint"`
}

type WaitConnectionRequest struct {
	Address []byte `cbor:"1,keyasint"`
}

type WaitConnectionResponse struct {
	Connection Connection `cbor:"1,keyasint"`
}

type DisconnectRequest struct {
	Connection Connection `cbor:"1,keyasint"`
}

type WaitDisconnectionRequest struct {
	Address []byte `cbor:"1,keyasint"`
}

// PrimaryPhy selects the primary advertising PHY.
type PrimaryPhy uint8

const (
	PrimaryDefault PrimaryPhy = iota
	Primary1M
	PrimaryCoded
)

// SecondaryPhy selects the secondary advertising PHY.
type SecondaryPhy uint8

const (
	SecondaryDefault SecondaryPhy = iota
	SecondaryNone
	Secondary1M
	Secondary2M
	SecondaryCoded
)

// OwnAddressType selects the advertiser's own address type.
type OwnAddressType uint8

const (
	OwnAddressDefault OwnAddressType = iota
	OwnAddressPublic
	OwnAddressRandom
	OwnAddressResolvableOrPublic
	OwnAddressResolvableOrRandom
)

type AdvertiseRequest struct {
	Connectable    bool           `cbor:"1,keyasint,omitempty"`
	Interval       int32          `cbor:"2,keyasint,omitempty"`
	PrimaryPhy     PrimaryPhy     `cbor:"3,keyasint,omitempty"`
	SecondaryPhy   SecondaryPhy   `cbor:"4,keyasint,omitempty"`
	OwnAddressType OwnAddressType `cbor:"5,keyasint,omitempty"`
	Data           []byte         `cbor:"6,keyasint,omitempty"`
}

type AdvertiseResponse struct {
	Connection Connection `cbor:"1,keyasint"`
}

// DiscoverabilityModeWire mirrors the discoverability setting on the wire.
type DiscoverabilityModeWire uint8

const (
	WireNotDiscoverable DiscoverabilityModeWire = iota
	WireDiscoverableLimited
	WireDiscoverableGeneral
)

type ScanRequest struct {
	// Reserved for scan filters; the scanner registration itself needs no
	// parameters.
}

type ScanningResponse struct {
	TxPower              int32                   `cbor:"1,keyasint,omitempty"`
	RSSI                 int32                   `cbor:"2,keyasint,omitempty"`
	SID                  int32                   `cbor:"3,keyasint,omitempty"`
	PeriodicAdvertising  int32                   `cbor:"4,keyasint,omitempty"`
	PrimaryPhy           PrimaryPhy              `cbor:"5,keyasint,omitempty"`
	SecondaryPhy         SecondaryPhy            `cbor:"6,keyasint,omitempty"`
	Public               []byte                  `cbor:"7,keyasint,omitempty"`
	Random               []byte                  `cbor:"8,keyasint,omitempty"`
	PublicIdentity       []byte                  `cbor:"9,keyasint,omitempty"`
	RandomStaticIdentity []byte                  `cbor:"10,keyasint,omitempty"`
	Discoverability      DiscoverabilityModeWire `cbor:"11,keyasint,omitempty"`
}

type InquiryResponse struct {
	Address []byte `cbor:"1,keyasint"`
}

type SetDiscoverabilityModeRequest struct {
	Mode DiscoverabilityModeWire `cbor:"1,keyasint"`
}

type ExchangeMTURequest struct {
	Connection Connection `cbor:"1,keyasint"`
	MTU        int32      `cbor:"2,keyasint"`
}

type ExchangeMTUResponse struct{}

// AttStatus is the outcome of an attribute operation. InvalidHandle is a
// domain outcome, not an RPC failure.
type AttStatus int32

const (
	AttSuccess       AttStatus = 0
	AttInvalidHandle AttStatus = -1
)

type WriteRequest struct {
	Connection Connection `cbor:"1,keyasint"`
	Handle     int32      `cbor:"2,keyasint"`
	Value      []byte     `cbor:"3,keyasint"`
}

type WriteResponse struct {
	Handle int32     `cbor:"1,keyasint"`
	Status AttStatus `cbor:"2,keyasint"`
}

type DiscoverServicesRequest struct {
	Connection Connection `cbor:"1,keyasint"`
}

type GattServiceMsg struct {
	Handle           int32                   `cbor:"1,keyasint"`
	Type             int32                   `cbor:"2,keyasint"`
	UUID             string                  `cbor:"3,keyasint"`
	IncludedServices []GattServiceMsg        `cbor:"4,keyasint,omitempty"`
	Characteristics  []GattCharacteristicMsg `cbor:"5,keyasint,omitempty"`
}

type GattCharacteristicMsg struct {
	Properties  int32               `cbor:"1,keyasint"`
	Permissions int32               `cbor:"2,keyasint"`
	UUID        string              `cbor:"3,keyasint"`
	Handle      int32               `cbor:"4,keyasint"`
	Descriptors []GattDescriptorMsg `cbor:"5,keyasint,omitempty"`
}

type GattDescriptorMsg struct {
	Handle      int32  `cbor:"1,keyasint"`
	Permissions int32  `cbor:"2,keyasint"`
	UUID        string `cbor:"3,keyasint"`
}

type DiscoverServicesResponse struct {
	Services []GattServiceMsg `cbor:"1,keyasint,omitempty"`
}

type DiscoverServicesSdpRequest struct {
	Address []byte `cbor:"1,keyasint"`
}

type DiscoverServicesSdpResponse struct {
	ServiceUUIDs []string `cbor:"1,keyasint,omitempty"`
}

type DiscoverServiceByUUIDRequest struct {
	Connection Connection `cbor:"1,keyasint"`
	UUID       string     `cbor:"2,keyasint"`
}

type ClearCacheRequest struct {
	Connection Connection `cbor:"1,keyasint"`
}

type ClearCacheResponse struct{}
