package inspector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagerOneHandlerPerSession(t *testing.T) {
	m := NewManager(nil, nil)

	first := NewDummyHandler("nb", KernelInfo{})
	second := NewDummyHandler("nb", KernelInfo{})
	other := NewDummyHandler("console", KernelInfo{})

	m.AddHandler(first)
	m.AddHandler(other)
	m.AddHandler(second)
	m.AddHandler(second)

	assert.Equal(t, []string{"console", "nb"}, m.Handlers())
	h, err := m.Handler("nb")
	require.NoError(t, err)
	assert.Same(t, second, h)
	assert.False(t, first.IsDisposed(), "replaced handlers are not disposed")

	// The replaced handler's disposal no longer affects the map
	first.Dispose()
	assert.True(t, m.HasHandler("nb"))
}

func TestManagerHandlerNotFound(t *testing.T) {
	m := NewManager(nil, nil)

	assert.False(t, m.HasHandler("nope"))
	_, err := m.Handler("nope")
	assert.ErrorIs(t, err, ErrHandlerNotFound)
}

func TestManagerRemovesDisposedHandlers(t *testing.T) {
	m := NewManager(nil, nil)
	h := NewDummyHandler("nb", KernelInfo{})
	m.AddHandler(h)

	h.Dispose()
	assert.False(t, m.HasHandler("nb"))

	// A disposed handler is never registered again
	m.AddHandler(h)
	assert.False(t, m.HasHandler("nb"))
}

func TestManagerSourceClearedOnDispose(t *testing.T) {
	m := NewManager(nil, nil)
	active := NewDummyHandler("active", KernelInfo{})
	idle := NewDummyHandler("idle", KernelInfo{})
	m.AddHandler(active)
	m.AddHandler(idle)

	var changes []Inspectable
	m.OnSourceChanged(func(h Inspectable) { changes = append(changes, h) })

	require.NoError(t, m.SetSource(active))
	assert.Same(t, active, m.Source())

	idle.Dispose()
	assert.Same(t, active, m.Source(), "disposing another handler keeps the source")

	active.Dispose()
	assert.Nil(t, m.Source())
	assert.Equal(t, []Inspectable{active, nil}, changes)
}

func TestManagerSourceSwitchStopsWatchingPrevious(t *testing.T) {
	m := NewManager(nil, nil)
	a := NewDummyHandler("a", KernelInfo{})
	b := NewDummyHandler("b", KernelInfo{})
	m.AddHandler(a)
	m.AddHandler(b)

	require.NoError(t, m.SetSource(a))
	require.NoError(t, m.SetSource(b))
	a.Dispose()

	assert.Same(t, b, m.Source())
}

func TestManagerRefusesDisposedSource(t *testing.T) {
	m := NewManager(nil, nil)
	h := NewDummyHandler("nb", KernelInfo{})
	h.Dispose()

	err := m.SetSource(h)
	assert.ErrorIs(t, err, ErrDisposed)
	assert.Nil(t, m.Source())
}

func TestManagerRefusesUnregisteredSource(t *testing.T) {
	m := NewManager(nil, nil)
	stranger := NewDummyHandler("nb", KernelInfo{})

	err := m.SetSource(stranger)
	assert.ErrorIs(t, err, ErrHandlerNotFound)
	assert.Nil(t, m.Source())

	// Same id, different instance than the registered one
	m.AddHandler(NewDummyHandler("nb", KernelInfo{}))
	assert.ErrorIs(t, m.SetSource(stranger), ErrHandlerNotFound)

	m.AddHandler(stranger)
	require.NoError(t, m.SetSource(stranger))
	assert.Same(t, stranger, m.Source())

	// Disposal clears it as for any registered handler
	stranger.Dispose()
	assert.Nil(t, m.Source())
}

func TestManagerSetSourceUnchangedDoesNotNotify(t *testing.T) {
	m := NewManager(nil, nil)
	h := NewDummyHandler("nb", KernelInfo{})
	m.AddHandler(h)

	calls := 0
	m.OnSourceChanged(func(Inspectable) { calls++ })

	require.NoError(t, m.SetSource(h))
	require.NoError(t, m.SetSource(h))
	require.NoError(t, m.SetSource(nil))
	require.NoError(t, m.SetSource(nil))

	assert.Equal(t, 2, calls)
}

func TestManagerClose(t *testing.T) {
	m := NewManager(nil, nil)
	a := NewDummyHandler("a", KernelInfo{})
	b := NewDummyHandler("b", KernelInfo{})
	m.AddHandler(a)
	m.AddHandler(b)
	require.NoError(t, m.SetSource(a))

	m.Close()

	assert.True(t, a.IsDisposed())
	assert.True(t, b.IsDisposed())
	assert.Empty(t, m.Handlers())
	assert.Nil(t, m.Source())
}
