package gatt

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/btgate/internal/registry"
	"github.com/srg/btgate/internal/stack"
	"github.com/srg/btgate/internal/stack/fakestack"
	"github.com/srg/btgate/pkg/rpc"
	"github.com/srg/btgate/pkg/wire"
)

const eventually = 2 * time.Second

type harness struct {
	fake *fakestack.Stack
	reg  *registry.Registry
	svc  *Service
}

func newHarness(t *testing.T, timeout time.Duration) *harness {
	t.Helper()

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	reg := registry.New(logger)
	fake := fakestack.New(func(c stack.Category, ev stack.Event) {
		reg.Dispatch(c, ev)
	}, logger)
	t.Cleanup(fake.Stop)

	return &harness{
		fake: fake,
		reg:  reg,
		svc:  New(logger, fake, reg, timeout),
	}
}

func (h *harness) assertNoLeakedObservers(t *testing.T) {
	t.Helper()
	assert.Equal(t, 0, h.reg.Count(stack.CategoryAttribute))
}

func mustAddr(t *testing.T, s string) stack.Address {
	t.Helper()
	addr, err := stack.ParseAddress(s)
	require.NoError(t, err)
	return addr
}

func conn(addr stack.Address) wire.Connection {
	return wire.Connection{Cookie: addr.Bytes()}
}

func waitForCall(t *testing.T, fake *fakestack.Stack, name string, count int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return fake.CallCount(name) >= count
	}, eventually, time.Millisecond, "call %s never reached count %d", name, count)
}

func TestExchangeMTUSuccess(t *testing.T) {
	h := newHarness(t, time.Second)
	addr := mustAddr(t, "11:22:33:44:55:66")

	done := make(chan error, 1)
	go func() {
		_, err := h.svc.ExchangeMTU(context.Background(), &wire.ExchangeMTURequest{
			Connection: conn(addr),
			MTU:        247,
		})
		done <- err
	}()

	waitForCall(t, h.fake, "ConfigureMTU", 1)
	h.fake.EmitSync(stack.MTUChanged{Address: addr, MTU: 247, Status: stack.GattSuccess})

	require.NoError(t, <-done)
	h.assertNoLeakedObservers(t)
}

func TestExchangeMTUFailureStatus(t *testing.T) {
	h := newHarness(t, time.Second)
	addr := mustAddr(t, "11:22:33:44:55:66")

	done := make(chan error, 1)
	go func() {
		_, err := h.svc.ExchangeMTU(context.Background(), &wire.ExchangeMTURequest{
			Connection: conn(addr),
			MTU:        247,
		})
		done <- err
	}()

	waitForCall(t, h.fake, "ConfigureMTU", 1)
	h.fake.EmitSync(stack.MTUChanged{Address: addr, Status: 133})

	err := <-done
	require.Error(t, err)
	assert.NotErrorIs(t, err, rpc.ErrTimeout)
	h.assertNoLeakedObservers(t)
}

func TestExchangeMTUTimeout(t *testing.T) {
	h := newHarness(t, 50*time.Millisecond)
	addr := mustAddr(t, "11:22:33:44:55:66")

	_, err := h.svc.ExchangeMTU(context.Background(), &wire.ExchangeMTURequest{
		Connection: conn(addr),
		MTU:        247,
	})
	assert.ErrorIs(t, err, rpc.ErrTimeout)
	h.assertNoLeakedObservers(t)
}

func TestExchangeMTUIgnoresOtherDevices(t *testing.T) {
	h := newHarness(t, 100*time.Millisecond)
	addr := mustAddr(t, "11:22:33:44:55:66")
	other := mustAddr(t, "66:55:44:33:22:11")

	done := make(chan error, 1)
	go func() {
		_, err := h.svc.ExchangeMTU(context.Background(), &wire.ExchangeMTURequest{
			Connection: conn(addr),
			MTU:        247,
		})
		done <- err
	}()

	waitForCall(t, h.fake, "ConfigureMTU", 1)
	h.fake.EmitSync(stack.MTUChanged{Address: other, MTU: 247, Status: stack.GattSuccess})

	assert.ErrorIs(t, <-done, rpc.ErrTimeout)
	h.assertNoLeakedObservers(t)
}

func TestExchangeMTURejectsNonPositiveMTU(t *testing.T) {
	h := newHarness(t, time.Second)
	addr := mustAddr(t, "11:22:33:44:55:66")

	_, err := h.svc.ExchangeMTU(context.Background(), &wire.ExchangeMTURequest{
		Connection: conn(addr),
		MTU:        0,
	})
	assert.ErrorIs(t, err, rpc.ErrInvalidRequest)
	assert.Equal(t, 0, h.fake.CallCount("ConfigureMTU"))
}

type writeResult struct {
	resp *wire.WriteResponse
	err  error
}

func startWrite(h *harness, addr stack.Address, handle int32, value []byte) chan writeResult {
	results := make(chan writeResult, 1)
	go func() {
		resp, err := h.svc.WriteAttributeByHandle(context.Background(), &wire.WriteRequest{
			Connection: conn(addr),
			Handle:     handle,
			Value:      value,
		})
		results <- writeResult{resp: resp, err: err}
	}()
	return results
}

func TestWriteAttributeCharacteristicPath(t *testing.T) {
	h := newHarness(t, time.Second)
	addr := mustAddr(t, "11:22:33:44:55:66")

	results := startWrite(h, addr, 42, []byte{0x01})

	waitForCall(t, h.fake, "ReadCharacteristic", 1)
	h.fake.EmitSync(stack.CharacteristicRead{Address: addr, Handle: 42, Status: stack.GattSuccess})

	waitForCall(t, h.fake, "WriteCharacteristic", 1)
	h.fake.EmitSync(stack.CharacteristicWrite{Address: addr, Handle: 42, Status: stack.GattSuccess})

	res := <-results
	require.NoError(t, res.err)
	assert.Equal(t, wire.AttSuccess, res.resp.Status)
	assert.Equal(t, int32(42), res.resp.Handle)
	assert.Equal(t, 0, h.fake.CallCount("ReadDescriptor"))
	h.assertNoLeakedObservers(t)
}

func TestWriteAttributeDescriptorPath(t *testing.T) {
	h := newHarness(t, time.Second)
	addr := mustAddr(t, "11:22:33:44:55:66")

	results := startWrite(h, addr, 43, []byte{0x02})

	waitForCall(t, h.fake, "ReadCharacteristic", 1)
	h.fake.EmitSync(stack.CharacteristicRead{Address: addr, Handle: 43, Status: 1})

	waitForCall(t, h.fake, "ReadDescriptor", 1)
	h.fake.EmitSync(stack.DescriptorRead{Address: addr, Handle: 43, Status: stack.GattSuccess})

	waitForCall(t, h.fake, "WriteDescriptor", 1)
	h.fake.EmitSync(stack.DescriptorWrite{Address: addr, Handle: 43, Status: stack.GattSuccess})

	res := <-results
	require.NoError(t, res.err)
	assert.Equal(t, wire.AttSuccess, res.resp.Status)
	assert.Equal(t, 0, h.fake.CallCount("WriteCharacteristic"))
	h.assertNoLeakedObservers(t)
}

func TestWriteAttributeUnknownHandle(t *testing.T) {
	h := newHarness(t, time.Second)
	addr := mustAddr(t, "11:22:33:44:55:66")

	results := startWrite(h, addr, 99, []byte{0x03})

	waitForCall(t, h.fake, "ReadCharacteristic", 1)
	h.fake.EmitSync(stack.CharacteristicRead{Address: addr, Handle: 99, Status: 1})

	waitForCall(t, h.fake, "ReadDescriptor", 1)
	h.fake.EmitSync(stack.DescriptorRead{Address: addr, Handle: 99, Status: 1})

	res := <-results
	require.NoError(t, res.err)
	assert.Equal(t, wire.AttInvalidHandle, res.resp.Status)
	assert.Equal(t, 0, h.fake.CallCount("WriteCharacteristic"))
	assert.Equal(t, 0, h.fake.CallCount("WriteDescriptor"))
	h.assertNoLeakedObservers(t)
}

func TestWriteAttributeIgnoresOtherHandles(t *testing.T) {
	h := newHarness(t, time.Second)
	addr := mustAddr(t, "11:22:33:44:55:66")

	results := startWrite(h, addr, 42, []byte{0x04})

	waitForCall(t, h.fake, "ReadCharacteristic", 1)
	// A completion for a different handle on the same device must not
	// resolve this operation.
	h.fake.EmitSync(stack.CharacteristicRead{Address: addr, Handle: 7, Status: stack.GattSuccess})
	h.fake.EmitSync(stack.CharacteristicRead{Address: addr, Handle: 42, Status: stack.GattSuccess})

	waitForCall(t, h.fake, "WriteCharacteristic", 1)
	h.fake.EmitSync(stack.CharacteristicWrite{Address: addr, Handle: 42, Status: stack.GattSuccess})

	res := <-results
	require.NoError(t, res.err)
	assert.Equal(t, wire.AttSuccess, res.resp.Status)
	h.assertNoLeakedObservers(t)
}

func TestWriteAttributePassesWriteStatusThrough(t *testing.T) {
	h := newHarness(t, time.Second)
	addr := mustAddr(t, "11:22:33:44:55:66")

	results := startWrite(h, addr, 42, []byte{0x05})

	waitForCall(t, h.fake, "ReadCharacteristic", 1)
	h.fake.EmitSync(stack.CharacteristicRead{Address: addr, Handle: 42, Status: stack.GattSuccess})

	waitForCall(t, h.fake, "WriteCharacteristic", 1)
	h.fake.EmitSync(stack.CharacteristicWrite{Address: addr, Handle: 42, Status: 133})

	// The write completed; its status is an outcome carried in the
	// response, not an RPC failure.
	res := <-results
	require.NoError(t, res.err)
	assert.Equal(t, wire.AttStatus(133), res.resp.Status)
	assert.Equal(t, int32(42), res.resp.Handle)
	h.assertNoLeakedObservers(t)
}

func TestDiscoverServicesReturnsTree(t *testing.T) {
	h := newHarness(t, time.Second)
	addr := mustAddr(t, "11:22:33:44:55:66")

	svcUUID := uuid.MustParse("0000180f-0000-1000-8000-00805f9b34fb")
	chUUID := uuid.MustParse("00002a19-0000-1000-8000-00805f9b34fb")
	descUUID := uuid.MustParse("00002902-0000-1000-8000-00805f9b34fb")

	type result struct {
		resp *wire.DiscoverServicesResponse
		err  error
	}
	results := make(chan result, 1)
	go func() {
		resp, err := h.svc.DiscoverServices(context.Background(), &wire.DiscoverServicesRequest{
			Connection: conn(addr),
		})
		results <- result{resp: resp, err: err}
	}()

	waitForCall(t, h.fake, "DiscoverServices", 1)
	h.fake.EmitSync(stack.SearchComplete{
		Address: addr,
		Status:  stack.GattSuccess,
		Services: []stack.GattService{{
			Handle: 1,
			UUID:   svcUUID,
			Characteristics: []stack.GattCharacteristic{{
				Handle:     3,
				UUID:       chUUID,
				Properties: 0x12,
				Descriptors: []stack.GattDescriptor{{
					Handle: 4,
					UUID:   descUUID,
				}},
			}},
		}},
	})

	res := <-results
	require.NoError(t, res.err)
	require.Len(t, res.resp.Services, 1)
	svc := res.resp.Services[0]
	assert.Equal(t, svcUUID.String(), svc.UUID)
	require.Len(t, svc.Characteristics, 1)
	assert.Equal(t, int32(3), svc.Characteristics[0].Handle)
	assert.Equal(t, int32(0x12), svc.Characteristics[0].Properties)
	require.Len(t, svc.Characteristics[0].Descriptors, 1)
	assert.Equal(t, descUUID.String(), svc.Characteristics[0].Descriptors[0].UUID)
	h.assertNoLeakedObservers(t)
}

func TestDiscoverServicesSdp(t *testing.T) {
	h := newHarness(t, time.Second)
	addr := mustAddr(t, "11:22:33:44:55:66")

	serial := uuid.MustParse("00001101-0000-1000-8000-00805f9b34fb")

	type result struct {
		resp *wire.DiscoverServicesSdpResponse
		err  error
	}
	results := make(chan result, 1)
	go func() {
		resp, err := h.svc.DiscoverServicesSdp(context.Background(), &wire.DiscoverServicesSdpRequest{
			Address: addr.Bytes(),
		})
		results <- result{resp: resp, err: err}
	}()

	waitForCall(t, h.fake, "FetchRemoteUUIDs", 1)
	h.fake.SetRemoteUUIDs(addr, []uuid.UUID{serial})
	h.fake.EmitSync(stack.DevicePropertiesChanged{
		Address:    addr,
		Properties: []stack.PropertyType{stack.PropertyUUIDs},
	})

	res := <-results
	require.NoError(t, res.err)
	assert.Equal(t, []string{serial.String()}, res.resp.ServiceUUIDs)
	h.assertNoLeakedObservers(t)
}

func TestDiscoverServicesSdpWhileBondingUsesCache(t *testing.T) {
	h := newHarness(t, time.Second)
	addr := mustAddr(t, "11:22:33:44:55:66")

	serial := uuid.MustParse("00001101-0000-1000-8000-00805f9b34fb")
	h.fake.SetBondState(addr, stack.Bonding)
	h.fake.SetRemoteUUIDs(addr, []uuid.UUID{serial})

	resp, err := h.svc.DiscoverServicesSdp(context.Background(), &wire.DiscoverServicesSdpRequest{
		Address: addr.Bytes(),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{serial.String()}, resp.ServiceUUIDs)

	// Bonding already runs SDP; no second fetch is triggered.
	assert.Equal(t, 0, h.fake.CallCount("FetchRemoteUUIDs"))
	h.assertNoLeakedObservers(t)
}

func TestDiscoverServiceByUUID(t *testing.T) {
	h := newHarness(t, time.Second)
	addr := mustAddr(t, "11:22:33:44:55:66")

	_, err := h.svc.DiscoverServiceByUUID(context.Background(), &wire.DiscoverServiceByUUIDRequest{
		Connection: conn(addr),
		UUID:       "0000180f-0000-1000-8000-00805f9b34fb",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, h.fake.CallCount("DiscoverServiceByUUID"))

	_, err = h.svc.DiscoverServiceByUUID(context.Background(), &wire.DiscoverServiceByUUIDRequest{
		Connection: conn(addr),
		UUID:       "not-a-uuid",
	})
	assert.ErrorIs(t, err, rpc.ErrInvalidRequest)
}

func TestClearCache(t *testing.T) {
	h := newHarness(t, time.Second)
	addr := mustAddr(t, "11:22:33:44:55:66")

	done := make(chan error, 1)
	go func() {
		_, err := h.svc.ClearCache(context.Background(), &wire.ClearCacheRequest{Connection: conn(addr)})
		done <- err
	}()

	waitForCall(t, h.fake, "RefreshDevice", 1)
	h.fake.EmitSync(stack.ConnectionUpdated{Address: addr, Status: stack.GattSuccess})

	require.NoError(t, <-done)
	h.assertNoLeakedObservers(t)
}
