package jsruntime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/varinspector/internal/kernel"
)

func newSession(t *testing.T) *Session {
	t.Helper()
	s := New("js-test", DefaultConfig())
	t.Cleanup(func() { s.Close() })
	return s
}

func TestExecuteResultAndConsole(t *testing.T) {
	s := newSession(t)
	ctx := context.Background()

	select {
	case <-s.Ready():
	default:
		t.Fatal("session should be ready after New")
	}
	assert.Equal(t, kernel.Info{KernelName: "goja", LanguageName: "javascript"}, s.Info())

	reply, err := s.Execute(ctx, `var total = 40 + 2; console.log("total", total); total`)
	require.NoError(t, err)
	assert.Equal(t, kernel.StatusOK, reply.Status)
	assert.Equal(t, "total 42\n", reply.Stdout)
	assert.Equal(t, "42", reply.Data["text/plain"])
	assert.Equal(t, 1, reply.ExecutionCount)

	// Globals persist between requests
	reply, err = s.Execute(ctx, `total * 2`)
	require.NoError(t, err)
	assert.Equal(t, "84", reply.Data["text/plain"])
	assert.Empty(t, reply.Stdout)
}

func TestExecuteErrorReply(t *testing.T) {
	s := newSession(t)

	reply, err := s.Execute(context.Background(), `missing + 1`)
	require.NoError(t, err)
	assert.Equal(t, kernel.StatusError, reply.Status)
	assert.Equal(t, "ReferenceError", reply.ErrorName)
	assert.Contains(t, reply.ErrorValue, "missing")
	assert.Error(t, reply.Err())

	reply, err = s.Execute(context.Background(), `throw new TypeError("nope")`)
	require.NoError(t, err)
	assert.Equal(t, "TypeError", reply.ErrorName)
	assert.Equal(t, "nope", reply.ErrorValue)

	reply, err = s.Execute(context.Background(), `var = ;`)
	require.NoError(t, err)
	assert.Equal(t, kernel.StatusError, reply.Status)
}

func TestExecuteTimeout(t *testing.T) {
	s := New("js-timeout", Config{Timeout: 20 * time.Millisecond})
	defer s.Close()

	reply, err := s.Execute(context.Background(), `for (;;) {}`)
	require.NoError(t, err)
	assert.Equal(t, kernel.StatusError, reply.Status)
	assert.Equal(t, "InterruptedError", reply.ErrorName)

	// The runtime stays usable after an interrupt
	reply, err = s.Execute(context.Background(), `1`)
	require.NoError(t, err)
	assert.Equal(t, "1", reply.Data["text/plain"])
}

func TestRestartClearsGlobals(t *testing.T) {
	s := newSession(t)
	ctx := context.Background()

	restarts := 0
	s.Subscribe(func(ev kernel.Event) {
		if ev.Kind == kernel.EventRestarted {
			restarts++
		}
	})

	_, err := s.Execute(ctx, `var kept = 1`)
	require.NoError(t, err)
	require.NoError(t, s.Restart(ctx))
	assert.Equal(t, 1, restarts)

	reply, err := s.Execute(ctx, `typeof kept`)
	require.NoError(t, err)
	assert.Equal(t, "undefined", reply.Data["text/plain"])
}

func TestCloseRejectsExecute(t *testing.T) {
	s := New("js-closed", DefaultConfig())

	events := make(chan kernel.Event, 1)
	s.Subscribe(func(ev kernel.Event) { events <- ev })

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	ev := <-events
	assert.Equal(t, kernel.EventDisposed, ev.Kind)

	_, err := s.Execute(context.Background(), `1`)
	assert.ErrorIs(t, err, kernel.ErrDisposed)
	assert.ErrorIs(t, s.Restart(context.Background()), kernel.ErrDisposed)
}

func TestCloseInterruptsRunningScript(t *testing.T) {
	s := New("js-busy", Config{})

	done := make(chan error, 1)
	go func() {
		_, err := s.Execute(context.Background(), `for (;;) {}`)
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, s.Close())

	select {
	case err := <-done:
		assert.ErrorIs(t, err, kernel.ErrDisposed)
	case <-time.After(2 * time.Second):
		t.Fatal("running script was not interrupted")
	}
}

func TestCancelAfterReplyDoesNotLeakIntoNextExecute(t *testing.T) {
	s := newSession(t)

	for i := 0; i < 2000; i++ {
		ctx, cancel := context.WithCancel(context.Background())
		reply, err := s.Execute(ctx, `1+1`)
		cancel()
		require.NoError(t, err)
		require.Equal(t, kernel.StatusOK, reply.Status, "execute %d: %s", i, reply.ErrorValue)
	}
}

func TestConnectorSequentialExecutes(t *testing.T) {
	s := newSession(t)
	c := kernel.NewConnector(s)
	defer c.Dispose()

	ctx := context.Background()
	require.NoError(t, c.WaitReady(ctx))

	for i := 0; i < 2000; i++ {
		reply, err := c.Execute(ctx, `1+1`)
		require.NoError(t, err)
		require.Equal(t, kernel.StatusOK, reply.Status, "execute %d: %s", i, reply.ErrorValue)
		require.Equal(t, "2", reply.Data["text/plain"])
	}
}
