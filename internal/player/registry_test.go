package player

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryGetOrCreateReuses(t *testing.T) {
	r := NewRegistry(nullLogger(), Config{}, newFakeTransport())
	t.Cleanup(func() { _ = r.ShutdownAll() })

	a := r.GetOrCreate("g1")
	b := r.GetOrCreate("g1")
	c := r.GetOrCreate("g2")

	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
	assert.Equal(t, 2, r.Len())
}

func TestRegistryConcurrentGetOrCreate(t *testing.T) {
	r := NewRegistry(nullLogger(), Config{}, newFakeTransport())
	t.Cleanup(func() { _ = r.ShutdownAll() })

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		got = make(map[*VoiceState]struct{})
	)

	for range 50 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			v := r.GetOrCreate("g1")

			mu.Lock()
			got[v] = struct{}{}
			mu.Unlock()
		}()
	}

	wg.Wait()

	assert.Len(t, got, 1)
}

func TestRegistryRemoveStopsState(t *testing.T) {
	transport := newFakeTransport()
	r := NewRegistry(nullLogger(), Config{}, transport)

	v := r.GetOrCreate("g1")
	require.NoError(t, v.Attach(newFakeSink()))

	require.NoError(t, r.Remove("g1"))

	assert.Equal(t, StateStopped, v.State())
	assert.Equal(t, 1, transport.leaveCount())
	assert.Equal(t, 0, r.Len())

	_, ok := r.Get("g1")
	assert.False(t, ok)

	require.NoError(t, r.Remove("g1"))
	assert.Equal(t, 1, transport.leaveCount())
}

func TestRegistryShutdownAll(t *testing.T) {
	transport := newFakeTransport()
	r := NewRegistry(nullLogger(), Config{}, transport)

	var states []*VoiceState

	for i := range 5 {
		v := r.GetOrCreate(fmt.Sprintf("g%d", i))
		require.NoError(t, v.Attach(newFakeSink()))
		states = append(states, v)
	}

	require.NoError(t, r.ShutdownAll())

	assert.Equal(t, 0, r.Len())
	assert.Equal(t, 5, transport.leaveCount())

	for _, v := range states {
		assert.Equal(t, StateStopped, v.State())
	}
}

func TestRegistryForgetsIdleState(t *testing.T) {
	r := NewRegistry(nullLogger(), Config{IdleTimeout: 30 * time.Millisecond}, newFakeTransport())
	t.Cleanup(func() { _ = r.ShutdownAll() })

	v := r.GetOrCreate("g1")

	select {
	case <-v.Done():
	case <-time.After(waitTimeout):
		t.Fatal("voice state did not time out")
	}

	assert.Eventually(t, func() bool { return r.Len() == 0 }, waitTimeout, 5*time.Millisecond)

	fresh := r.GetOrCreate("g1")
	assert.NotSame(t, v, fresh)
	assert.Equal(t, StateWaiting, fresh.State())
}
