package kernel_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/GriffinCanCode/varinspector/internal/kernel"
	"github.com/GriffinCanCode/varinspector/internal/kernel/kerneltest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestExecuteBeforeReady(t *testing.T) {
	session := kerneltest.New("nb.ipynb", kernel.Info{LanguageName: "python"})
	c := kernel.NewConnector(session)
	defer c.Dispose()

	_, err := c.Execute(context.Background(), "1+1")
	assert.ErrorIs(t, err, kernel.ErrNotReady)
	assert.Empty(t, c.KernelType())

	session.MarkReady()
	require.NoError(t, c.WaitReady(context.Background()))
	assert.Equal(t, "python", c.KernelType())

	reply, err := c.Execute(context.Background(), "1+1")
	require.NoError(t, err)
	assert.Equal(t, kernel.StatusOK, reply.Status)
}

func TestWaitReadyHonorsContext(t *testing.T) {
	session := kerneltest.New("never", kernel.Info{})
	c := kernel.NewConnector(session)
	defer c.Dispose()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := c.WaitReady(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestExecuteIsSequential(t *testing.T) {
	session := kerneltest.NewReady("seq", "python")

	var inFlight, maxInFlight int32
	session.Handle(func(ctx context.Context, code string) (*kernel.Reply, error) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			old := atomic.LoadInt32(&maxInFlight)
			if n <= old || atomic.CompareAndSwapInt32(&maxInFlight, old, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return kerneltest.OK(code), nil
	})

	c := kernel.NewConnector(session)
	defer c.Dispose()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Execute(context.Background(), "x")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&maxInFlight))
	assert.Len(t, session.Calls(), 8)
}

func TestDisposeSettlesPendingExecute(t *testing.T) {
	session := kerneltest.NewReady("hang", "python")
	started := make(chan struct{})
	session.Handle(func(ctx context.Context, code string) (*kernel.Reply, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})

	c := kernel.NewConnector(session)

	errs := make(chan error, 1)
	go func() {
		_, err := c.Execute(context.Background(), "while True: pass")
		errs <- err
	}()

	<-started
	require.NoError(t, session.Close())

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, kernel.ErrDisposed)
	case <-time.After(time.Second):
		t.Fatal("pending execute did not settle after disposal")
	}

	_, err := c.Execute(context.Background(), "1")
	assert.ErrorIs(t, err, kernel.ErrDisposed)
	assert.True(t, c.IsDisposed())
}

func TestRestartAndDisposeNotifications(t *testing.T) {
	session := kerneltest.NewReady("events", "python")
	c := kernel.NewConnector(session)

	restarts := 0
	disposals := make(chan struct{}, 2)
	c.OnRestart(func() { restarts++ })
	c.OnDisposed(func() { disposals <- struct{}{} })

	require.NoError(t, session.Restart(context.Background()))
	assert.Equal(t, 1, restarts)

	require.NoError(t, session.Close())
	select {
	case <-disposals:
	case <-time.After(time.Second):
		t.Fatal("disposed notification not delivered")
	}

	// A second dispose delivers nothing
	c.Dispose()
	assert.Len(t, disposals, 0)
}

func TestExecuteTimeoutOption(t *testing.T) {
	session := kerneltest.NewReady("slow", "python")
	session.Handle(func(ctx context.Context, code string) (*kernel.Reply, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	var observed error
	c := kernel.NewConnector(session,
		kernel.WithExecuteTimeout(10*time.Millisecond),
		kernel.WithExecObserver(func(language string, elapsed time.Duration, err error) {
			observed = err
		}),
	)
	defer c.Dispose()

	_, err := c.Execute(context.Background(), "sleep")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, errors.Is(observed, context.DeadlineExceeded))
}

func TestReplyText(t *testing.T) {
	tests := []struct {
		name  string
		reply *kernel.Reply
		want  string
	}{
		{"stdout wins", &kernel.Reply{Stdout: "[1]\n", Data: map[string]string{"text/plain": "'x'"}}, "[1]"},
		{"plain result", &kernel.Reply{Data: map[string]string{"text/plain": "[]"}}, "[]"},
		{"python repr", &kernel.Reply{Data: map[string]string{"text/plain": `'[{"varName": "it\'s"}]'`}}, `[{"varName": "it's"}]`},
		{"nil reply", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.reply.Text())
		})
	}
}

func TestReplyErr(t *testing.T) {
	reply := kerneltest.Fail("NameError", "name 'x' is not defined")

	var execErr *kernel.ExecutionError
	require.ErrorAs(t, reply.Err(), &execErr)
	assert.Equal(t, "NameError", execErr.Name)
	assert.Equal(t, "NameError: name 'x' is not defined", execErr.Error())

	assert.NoError(t, kerneltest.OK("").Err())
}
