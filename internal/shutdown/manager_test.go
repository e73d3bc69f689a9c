package shutdown

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func newTestManager(timeout time.Duration) *Manager {
	logger, _ := test.NewNullLogger()
	return NewManager(context.Background(), timeout, logger)
}

func TestShutdown_RunsInOrder(t *testing.T) {
	m := newTestManager(time.Second)
	var order []string

	m.Register("gateway", OrderCloseGateway, func(context.Context) error {
		order = append(order, "gateway")
		return nil
	})
	m.Register("http", OrderStopAcceptingRequests, func(context.Context) error {
		order = append(order, "http")
		return nil
	})
	m.RegisterCloser("journal", OrderCloseJournal, closerFunc(func() error {
		order = append(order, "journal")
		return nil
	}))

	assert.Equal(t, []string{"http", "journal", "gateway"}, m.Registered())
	require.NoError(t, m.Shutdown())
	assert.Equal(t, []string{"http", "journal", "gateway"}, order)
	assert.Error(t, m.Context().Err())
}

func TestShutdown_RunsOnce(t *testing.T) {
	m := newTestManager(time.Second)
	calls := 0
	m.Register("output", OrderFlushOutputs, func(context.Context) error {
		calls++
		return nil
	})

	require.NoError(t, m.Shutdown())
	require.NoError(t, m.Shutdown())
	assert.Equal(t, 1, calls)
}

func TestShutdown_CollectsErrors(t *testing.T) {
	m := newTestManager(time.Second)
	boom := stderrors.New("flush failed")
	ran := false

	m.Register("output", OrderFlushOutputs, func(context.Context) error { return boom })
	m.Register("journal", OrderCloseJournal, func(context.Context) error {
		ran = true
		return nil
	})

	err := m.Shutdown()
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.True(t, ran)
}

func TestWait_ReturnsWhenParentCancelled(t *testing.T) {
	logger, _ := test.NewNullLogger()
	parent, cancel := context.WithCancel(context.Background())
	m := NewManager(parent, time.Second, logger)

	done := make(chan struct{})
	go func() {
		m.Wait()
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Wait 未返回")
	}
	require.NoError(t, m.Shutdown())
}
