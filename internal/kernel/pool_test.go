package kernel_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/varinspector/internal/kernel"
	"github.com/GriffinCanCode/varinspector/internal/kernel/kerneltest"
)

func TestPoolLifecycle(t *testing.T) {
	pool := kernel.NewPool(nil)

	b := kerneltest.NewReady("b", "python")
	a := kerneltest.NewReady("a", "R")
	require.NoError(t, pool.Add(b))
	require.NoError(t, pool.Add(a))
	assert.Error(t, pool.Add(kerneltest.NewReady("a", "R")))

	list := pool.List()
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].Path())
	assert.Equal(t, "b", list[1].Path())

	got, ok := pool.Get("b")
	require.True(t, ok)
	assert.Same(t, b, got)

	require.NoError(t, pool.Close("b"))
	assert.True(t, b.IsDisposed())
	assert.Error(t, pool.Close("b"))

	// A session disposed elsewhere leaves the pool by itself
	require.NoError(t, a.Close())
	assert.Eventually(t, func() bool {
		_, ok := pool.Get("a")
		return !ok
	}, time.Second, 5*time.Millisecond)

	pool.CloseAll()
	assert.Empty(t, pool.List())
}
