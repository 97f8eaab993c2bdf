package registry

import "github.com/srg/btgate/internal/stack"

// Per-event-kind callback interfaces. An observer implements only the subset
// it cares about; deliver type-asserts against the interface matching the
// event kind.

type BondStateObserver interface {
	OnBondStateChanged(stack.BondStateChanged)
}

type SspRequestObserver interface {
	OnSspRequest(stack.SspRequest)
}

type DeviceConnectedObserver interface {
	OnDeviceConnected(stack.DeviceConnected)
}

type DeviceDisconnectedObserver interface {
	OnDeviceDisconnected(stack.DeviceDisconnected)
}

type DeviceFoundObserver interface {
	OnDeviceFound(stack.DeviceFound)
}

type DiscoveringChangedObserver interface {
	OnDiscoveringChanged(stack.DiscoveringChanged)
}

type ScannerRegisteredObserver interface {
	OnScannerRegistered(stack.ScannerRegistered)
}

type ScanResultObserver interface {
	OnScanResult(stack.ScanResult)
}

type AdvertisingSetStartedObserver interface {
	OnAdvertisingSetStarted(stack.AdvertisingSetStarted)
}

type MTUChangedObserver interface {
	OnMTUChanged(stack.MTUChanged)
}

type CharacteristicReadObserver interface {
	OnCharacteristicRead(stack.CharacteristicRead)
}

type CharacteristicWriteObserver interface {
	OnCharacteristicWrite(stack.CharacteristicWrite)
}

type DescriptorReadObserver interface {
	OnDescriptorRead(stack.DescriptorRead)
}

type DescriptorWriteObserver interface {
	OnDescriptorWrite(stack.DescriptorWrite)
}

type SearchCompleteObserver interface {
	OnSearchComplete(stack.SearchComplete)
}

type ConnectionUpdatedObserver interface {
	OnConnectionUpdated(stack.ConnectionUpdated)
}

type DevicePropertiesObserver interface {
	OnDevicePropertiesChanged(stack.DevicePropertiesChanged)
}

// deliver routes one event to one observer, keyed by the event's concrete
// type. Observers that do not implement the matching callback are skipped.
func deliver(obs any, ev stack.Event) {
	switch e := ev.(type) {
	case stack.BondStateChanged:
		if o, ok := obs.(BondStateObserver); ok {
			o.OnBondStateChanged(e)
		}
	case stack.SspRequest:
		if o, ok := obs.(SspRequestObserver); ok {
			o.OnSspRequest(e)
		}
	case stack.DeviceConnected:
		if o, ok := obs.(DeviceConnectedObserver); ok {
			o.OnDeviceConnected(e)
		}
	case stack.DeviceDisconnected:
		if o, ok := obs.(DeviceDisconnectedObserver); ok {
			o.OnDeviceDisconnected(e)
		}
	case stack.DeviceFound:
		if o, ok := obs.(DeviceFoundObserver); ok {
			o.OnDeviceFound(e)
		}
	case stack.DiscoveringChanged:
		if o, ok := obs.(DiscoveringChangedObserver); ok {
			o.OnDiscoveringChanged(e)
		}
	case stack.ScannerRegistered:
		if o, ok := obs.(ScannerRegisteredObserver); ok {
			o.OnScannerRegistered(e)
		}
	case stack.ScanResult:
		if o, ok := obs.(ScanResultObserver); ok {
			o.OnScanResult(e)
		}
	case stack.AdvertisingSetStarted:
		if o, ok := obs.(AdvertisingSetStartedObserver); ok {
			o.OnAdvertisingSetStarted(e)
		}
	case stack.MTUChanged:
		if o, ok := obs.(MTUChangedObserver); ok {
			o.OnMTUChanged(e)
		}
	case stack.CharacteristicRead:
		if o, ok := obs.(CharacteristicReadObserver); ok {
			o.OnCharacteristicRead(e)
		}
	case stack.CharacteristicWrite:
		if o, ok := obs.(CharacteristicWriteObserver); ok {
			o.OnCharacteristicWrite(e)
		}
	case stack.DescriptorRead:
		if o, ok := obs.(DescriptorReadObserver); ok {
			o.OnDescriptorRead(e)
		}
	case stack.DescriptorWrite:
		if o, ok := obs.(DescriptorWriteObserver); ok {
			o.OnDescriptorWrite(e)
		}
	case stack.SearchComplete:
		if o, ok := obs.(SearchCompleteObserver); ok {
			o.OnSearchComplete(e)
		}
	case stack.ConnectionUpdated:
		if o, ok := obs.(ConnectionUpdatedObserver); ok {
			o.OnConnectionUpdated(e)
		}
	case stack.DevicePropertiesChanged:
		if o, ok := obs.(DevicePropertiesObserver); ok {
			o.OnDevicePropertiesChanged(e)
		}
	}
}
