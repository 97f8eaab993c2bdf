package host

import (
	"github.com/srg/btgate/internal/correlate"
	"github.com/srg/btgate/internal/stack"
)

// connectionWaiter resolves once the given address connects.
type connectionWaiter struct {
	address stack.Address
	done    *correlate.Pending[stack.DeviceConnected]
}

func newConnectionWaiter(addr stack.Address) *connectionWaiter {
	return &connectionWaiter{address: addr, done: correlate.NewPending[stack.DeviceConnected]()}
}

func (w *connectionWaiter) OnDeviceConnected(ev stack.DeviceConnected) {
	if ev.Address == w.address {
		w.done.Resolve(ev)
	}
}

// disconnectionWaiter resolves once the given address disconnects.
type disconnectionWaiter struct {
	address stack.Address
	done    *correlate.Pending[stack.DeviceDisconnected]
}

func newDisconnectionWaiter(addr stack.Address) *disconnectionWaiter {
	return &disconnectionWaiter{address: addr, done: correlate.NewPending[stack.DeviceDisconnected]()}
}

func (w *disconnectionWaiter) OnDeviceDisconnected(ev stack.DeviceDisconnected) {
	if ev.Address == w.address {
		w.done.Resolve(ev)
	}
}

// connectionFeed streams every accepted connection; Advertise consumes it.
type connectionFeed struct {
	events *correlate.Stream[stack.DeviceConnected]
}

func newConnectionFeed() *connectionFeed {
	return &connectionFeed{events: correlate.NewStream[stack.DeviceConnected]()}
}

func (f *connectionFeed) OnDeviceConnected(ev stack.DeviceConnected) {
	f.events.Push(ev)
}

// advertiseStartFeed buffers started events. The registration id to match is
// only known after the triggering call returns, so the consumer filters; the
// feed must be registered before the call so no event can be lost.
type advertiseStartFeed struct {
	events *correlate.Stream[stack.AdvertisingSetStarted]
}

func newAdvertiseStartFeed() *advertiseStartFeed {
	return &advertiseStartFeed{events: correlate.NewStream[stack.AdvertisingSetStarted]()}
}

func (f *advertiseStartFeed) OnAdvertisingSetStarted(ev stack.AdvertisingSetStarted) {
	f.events.Push(ev)
}

// scannerRegFeed buffers scanner registration events. The token to match is
// only known after RegisterScanner returns, so the feed is registered first
// and the consumer filters by token; registrations belonging to concurrent
// Scan calls pass through untouched.
type scannerRegFeed struct {
	events *correlate.Stream[stack.ScannerRegistered]
}

func newScannerRegFeed() *scannerRegFeed {
	return &scannerRegFeed{events: correlate.NewStream[stack.ScannerRegistered]()}
}

func (f *scannerRegFeed) OnScannerRegistered(ev stack.ScannerRegistered) {
	f.events.Push(ev)
}

// scanFeed streams LE scan results in arrival order.
type scanFeed struct {
	results *correlate.Stream[stack.ScanResult]
}

func newScanFeed() *scanFeed {
	return &scanFeed{results: correlate.NewStream[stack.ScanResult]()}
}

func (f *scanFeed) OnScanResult(ev stack.ScanResult) {
	f.results.Push(ev)
}

// discoveringWaiter resolves once the adapter reaches the wanted discovery
// state.
type discoveringWaiter struct {
	want bool
	done *correlate.Pending[stack.DiscoveringChanged]
}

func newDiscoveringWaiter(want bool) *discoveringWaiter {
	return &discoveringWaiter{want: want, done: correlate.NewPending[stack.DiscoveringChanged]()}
}

func (w *discoveringWaiter) OnDiscoveringChanged(ev stack.DiscoveringChanged) {
	if ev.Discovering == w.want {
		w.done.Resolve(ev)
	}
}

// inquiryFeed streams classic inquiry results in arrival order.
type inquiryFeed struct {
	found *correlate.Stream[stack.DeviceFound]
}

func newInquiryFeed() *inquiryFeed {
	return &inquiryFeed{found: correlate.NewStream[stack.DeviceFound]()}
}

func (f *inquiryFeed) OnDeviceFound(ev stack.DeviceFound) {
	f.found.Push(ev)
}
