package gatt

import (
	"github.com/srg/btgate/internal/correlate"
	"github.com/srg/btgate/internal/stack"
)

// attrKey is the compound correlation key for attribute-level events. Two
// concurrent operations on different handles of the same device never see
// each other's completions.
type attrKey struct {
	address stack.Address
	handle  int32
}

// mtuWaiter resolves the MTU negotiation outcome for one device.
type mtuWaiter struct {
	address stack.Address
	done    *correlate.Pending[stack.MTUChanged]
}

func newMTUWaiter(addr stack.Address) *mtuWaiter {
	return &mtuWaiter{address: addr, done: correlate.NewPending[stack.MTUChanged]()}
}

func (w *mtuWaiter) OnMTUChanged(ev stack.MTUChanged) {
	if ev.Address == w.address {
		w.done.Resolve(ev)
	}
}

// charReadWaiter resolves a characteristic read on one (device, handle).
type charReadWaiter struct {
	key  attrKey
	done *correlate.Pending[stack.CharacteristicRead]
}

func newCharReadWaiter(addr stack.Address, handle int32) *charReadWaiter {
	return &charReadWaiter{
		key:  attrKey{address: addr, handle: handle},
		done: correlate.NewPending[stack.CharacteristicRead](),
	}
}

func (w *charReadWaiter) OnCharacteristicRead(ev stack.CharacteristicRead) {
	if (attrKey{address: ev.Address, handle: ev.Handle}) == w.key {
		w.done.Resolve(ev)
	}
}

// charWriteWaiter resolves a characteristic write on one (device, handle).
type charWriteWaiter struct {
	key  attrKey
	done *correlate.Pending[stack.CharacteristicWrite]
}

func newCharWriteWaiter(addr stack.Address, handle int32) *charWriteWaiter {
	return &charWriteWaiter{
		key:  attrKey{address: addr, handle: handle},
		done: correlate.NewPending[stack.CharacteristicWrite](),
	}
}

func (w *charWriteWaiter) OnCharacteristicWrite(ev stack.CharacteristicWrite) {
	if (attrKey{address: ev.Address, handle: ev.Handle}) == w.key {
		w.done.Resolve(ev)
	}
}

// descReadWaiter resolves a descriptor read on one (device, handle).
type descReadWaiter struct {
	key  attrKey
	done *correlate.Pending[stack.DescriptorRead]
}

func newDescReadWaiter(addr stack.Address, handle int32) *descReadWaiter {
	return &descReadWaiter{
		key:  attrKey{address: addr, handle: handle},
		done: correlate.NewPending[stack.DescriptorRead](),
	}
}

func (w *descReadWaiter) OnDescriptorRead(ev stack.DescriptorRead) {
	if (attrKey{address: ev.Address, handle: ev.Handle}) == w.key {
		w.done.Resolve(ev)
	}
}

// descWriteWaiter resolves a descriptor write on one (device, handle).
type descWriteWaiter struct {
	key  attrKey
	done *correlate.Pending[stack.DescriptorWrite]
}

func newDescWriteWaiter(addr stack.Address, handle int32) *descWriteWaiter {
	return &descWriteWaiter{
		key:  attrKey{address: addr, handle: handle},
		done: correlate.NewPending[stack.DescriptorWrite](),
	}
}

func (w *descWriteWaiter) OnDescriptorWrite(ev stack.DescriptorWrite) {
	if (attrKey{address: ev.Address, handle: ev.Handle}) == w.key {
		w.done.Resolve(ev)
	}
}

// searchWaiter resolves the service discovery outcome for one device.
type searchWaiter struct {
	address stack.Address
	done    *correlate.Pending[stack.SearchComplete]
}

func newSearchWaiter(addr stack.Address) *searchWaiter {
	return &searchWaiter{address: addr, done: correlate.NewPending[stack.SearchComplete]()}
}

func (w *searchWaiter) OnSearchComplete(ev stack.SearchComplete) {
	if ev.Address == w.address {
		w.done.Resolve(ev)
	}
}

// connUpdatedWaiter resolves once a device reports updated connection
// parameters.
type connUpdatedWaiter struct {
	address stack.Address
	done    *correlate.Pending[stack.ConnectionUpdated]
}

func newConnUpdatedWaiter(addr stack.Address) *connUpdatedWaiter {
	return &connUpdatedWaiter{address: addr, done: correlate.NewPending[stack.ConnectionUpdated]()}
}

func (w *connUpdatedWaiter) OnConnectionUpdated(ev stack.ConnectionUpdated) {
	if ev.Address == w.address {
		w.done.Resolve(ev)
	}
}

// uuidsWaiter resolves once a device's cached UUIDs property is refreshed.
type uuidsWaiter struct {
	address stack.Address
	done    *correlate.Pending[stack.DevicePropertiesChanged]
}

func newUUIDsWaiter(addr stack.Address) *uuidsWaiter {
	return &uuidsWaiter{address: addr, done: correlate.NewPending[stack.DevicePropertiesChanged]()}
}

func (w *uuidsWaiter) OnDevicePropertiesChanged(ev stack.DevicePropertiesChanged) {
	if ev.Address != w.address {
		return
	}
	for _, p := range ev.Properties {
		if p == stack.PropertyUUIDs {
			w.done.Resolve(ev)
			return
		}
	}
}
