package maintenance

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thebtf/synapse/internal/physics"
	"github.com/thebtf/synapse/pkg/models"
)

type fakeWriter struct {
	err   error
	calls [][]models.ItemState
	mu    sync.Mutex
}

func (f *fakeWriter) SaveItemStates(_ context.Context, states []models.ItemState) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, append([]models.ItemState(nil), states...))
	if f.err != nil {
		return 0, f.err
	}
	return int64(len(states)), nil
}

func (f *fakeWriter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newRegistry() *physics.Registry {
	r := physics.NewRegistry(physics.DefaultConfig())
	r.For("ws-1").Add(physics.Body{ID: "a", X: 1, Y: 2})
	r.For("ws-1").Add(physics.Body{ID: "b", X: 3, Y: 4})
	r.For("ws-2").Add(physics.Body{ID: "c", X: 5, Y: 6})
	return r
}

// TestRunOnceSavesOnlyChanges tests that unchanged bodies are not rewritten.
func TestRunOnceSavesOnlyChanges(t *testing.T) {
	reg := newRegistry()
	w := &fakeWriter{}
	svc := NewService(reg, w, time.Minute, zerolog.Nop())
	ctx := context.Background()

	saved, err := svc.RunOnce(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, saved)

	saved, err = svc.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, saved)
	assert.Equal(t, 1, w.callCount(), "no write without changes")

	reg.For("ws-1").Reposition("a", 100, 200)
	saved, err = svc.RunOnce(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, saved)
	require.Len(t, w.calls, 2)
	assert.Equal(t, "a", w.calls[1][0].ID)
	assert.Equal(t, 100.0, w.calls[1][0].X)
	assert.Equal(t, 200.0, w.calls[1][0].Y)

	stats := svc.Stats()
	assert.EqualValues(t, 3, stats.Runs)
	assert.EqualValues(t, 4, stats.TotalSaved)
	assert.Zero(t, stats.Failures)
}

// TestRunOnceRetriesAfterFailure tests that failed writes are retried on the next run.
func TestRunOnceRetriesAfterFailure(t *testing.T) {
	w := &fakeWriter{err: errors.New("disk full")}
	svc := NewService(newRegistry(), w, time.Minute, zerolog.Nop())
	ctx := context.Background()

	_, err := svc.RunOnce(ctx)
	require.Error(t, err)
	assert.EqualValues(t, 1, svc.Stats().Failures)

	w.err = nil
	saved, err := svc.RunOnce(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, saved)
}

// TestRunOnceForgetsRemovedBodies tests that a re-added body is written again.
func TestRunOnceForgetsRemovedBodies(t *testing.T) {
	reg := newRegistry()
	w := &fakeWriter{}
	svc := NewService(reg, w, time.Minute, zerolog.Nop())
	ctx := context.Background()

	_, err := svc.RunOnce(ctx)
	require.NoError(t, err)

	reg.For("ws-2").Remove("c")
	_, err = svc.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, w.callCount())

	reg.For("ws-2").Add(physics.Body{ID: "c", X: 5, Y: 6})
	saved, err := svc.RunOnce(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, saved)
}

// TestStartStop tests the scheduled loop.
func TestStartStop(t *testing.T) {
	w := &fakeWriter{}
	svc := NewService(newRegistry(), w, 5*time.Millisecond, zerolog.Nop())

	go svc.Start(context.Background())

	assert.Eventually(t, func() bool { return w.callCount() >= 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return svc.Stats().Running }, time.Second, 5*time.Millisecond)

	svc.Stop()
	svc.Stop()
	svc.Wait()
	assert.False(t, svc.Stats().Running)
}

// TestStartDisabled tests that a zero interval returns immediately.
func TestStartDisabled(t *testing.T) {
	w := &fakeWriter{}
	svc := NewService(newRegistry(), w, 0, zerolog.Nop())

	svc.Start(context.Background())
	svc.Wait()
	assert.Zero(t, w.callCount())
}

// TestStartHonorsContext tests that cancelling the context ends the loop.
func TestStartHonorsContext(t *testing.T) {
	svc := NewService(newRegistry(), &fakeWriter{}, time.Hour, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		svc.Start(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not exit after cancel")
	}
}
