package registry

import (
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/btgate/internal/stack"
)

func newTestRegistry() *Registry {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return New(logger)
}

type recordingObserver struct {
	mu        sync.Mutex
	connected []stack.DeviceConnected
	bonds     []stack.BondStateChanged
}

func (o *recordingObserver) OnDeviceConnected(ev stack.DeviceConnected) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.connected = append(o.connected, ev)
}

func (o *recordingObserver) OnBondStateChanged(ev stack.BondStateChanged) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.bonds = append(o.bonds, ev)
}

func (o *recordingObserver) connectedCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.connected)
}

func TestObserverNameUnique(t *testing.T) {
	obs := &recordingObserver{}
	a := ObserverName(obs)
	b := ObserverName(obs)
	assert.NotEqual(t, a, b)
}

func TestRegisterDuplicateNameFails(t *testing.T) {
	r := newTestRegistry()
	obs := &recordingObserver{}

	require.NoError(t, r.Register(stack.CategoryConnection, "dup", obs))
	err := r.Register(stack.CategoryConnection, "dup", obs)
	assert.Error(t, err)
	assert.Equal(t, 1, r.Count(stack.CategoryConnection))
}

func TestUnregisterAbsentIsNoOp(t *testing.T) {
	r := newTestRegistry()

	r.Unregister(stack.CategoryConnection, "never-registered")
	assert.Equal(t, 0, r.Count(stack.CategoryConnection))

	obs := &recordingObserver{}
	require.NoError(t, r.Register(stack.CategoryConnection, "once", obs))
	r.Unregister(stack.CategoryConnection, "once")
	r.Unregister(stack.CategoryConnection, "once")
	assert.Equal(t, 0, r.Count(stack.CategoryConnection))
}

func TestDispatchReachesMatchingObserversOnly(t *testing.T) {
	r := newTestRegistry()
	obs := &recordingObserver{}
	require.NoError(t, r.Register(stack.CategoryConnection, "obs", obs))

	addr, err := stack.ParseAddress("AA:BB:CC:DD:EE:FF")
	require.NoError(t, err)

	// DeviceDisconnected has no matching callback on recordingObserver in
	// this category; it must be skipped, not delivered.
	r.Dispatch(stack.CategoryConnection, stack.DeviceConnected{Address: addr})
	r.Dispatch(stack.CategoryConnection, stack.DeviceDisconnected{Address: addr})

	assert.Equal(t, 1, obs.connectedCount())
	assert.Equal(t, addr, obs.connected[0].Address)
}

func TestDispatchCategoryIsolation(t *testing.T) {
	r := newTestRegistry()
	obs := &recordingObserver{}
	require.NoError(t, r.Register(stack.CategoryPairing, "obs", obs))

	addr, err := stack.ParseAddress("AA:BB:CC:DD:EE:FF")
	require.NoError(t, err)

	// The observer lives in the pairing category; a connection-category
	// dispatch must not reach it.
	r.Dispatch(stack.CategoryConnection, stack.DeviceConnected{Address: addr})
	assert.Equal(t, 0, obs.connectedCount())

	r.Dispatch(stack.CategoryPairing, stack.BondStateChanged{Address: addr, State: stack.Bonded})
	assert.Len(t, obs.bonds, 1)
}

func TestDispatchInsertionOrder(t *testing.T) {
	r := newTestRegistry()

	var order []string
	var mu sync.Mutex
	mk := func(name string) *orderObserver {
		return &orderObserver{fn: func() {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
		}}
	}

	require.NoError(t, r.Register(stack.CategoryConnection, "first", mk("first")))
	require.NoError(t, r.Register(stack.CategoryConnection, "second", mk("second")))
	require.NoError(t, r.Register(stack.CategoryConnection, "third", mk("third")))

	r.Dispatch(stack.CategoryConnection, stack.DeviceConnected{})
	assert.Equal(t, []string{"first", "second", "third"}, order)
}

type orderObserver struct {
	fn func()
}

func (o *orderObserver) OnDeviceConnected(stack.DeviceConnected) { o.fn() }

// selfRemovingObserver unregisters itself from its own callback.
type selfRemovingObserver struct {
	registry *Registry
	name     string
	calls    int
}

func (o *selfRemovingObserver) OnDeviceConnected(stack.DeviceConnected) {
	o.calls++
	o.registry.Unregister(stack.CategoryConnection, o.name)
}

func TestObserverMayUnregisterDuringDispatch(t *testing.T) {
	r := newTestRegistry()
	obs := &selfRemovingObserver{registry: r, name: "self"}
	require.NoError(t, r.Register(stack.CategoryConnection, "self", obs))

	r.Dispatch(stack.CategoryConnection, stack.DeviceConnected{})
	assert.Equal(t, 1, obs.calls)
	assert.Equal(t, 0, r.Count(stack.CategoryConnection))

	r.Dispatch(stack.CategoryConnection, stack.DeviceConnected{})
	assert.Equal(t, 1, obs.calls)
}

func TestConcurrentRegisterDispatchUnregister(t *testing.T) {
	r := newTestRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				obs := &recordingObserver{}
				name := ObserverName(obs)
				if err := r.Register(stack.CategoryConnection, name, obs); err != nil {
					continue
				}
				r.Dispatch(stack.CategoryConnection, stack.DeviceConnected{})
				r.Unregister(stack.CategoryConnection, name)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, r.Count(stack.CategoryConnection))
}
