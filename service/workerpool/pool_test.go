package workerpool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"PPost/tools/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestSubmitReturnsValue(t *testing.T) {
	p := New(Options{Size: 2})
	v, err := Submit(context.Background(), p, func() (int, error) { return 42, nil })
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestSubmitPassesErrorThrough(t *testing.T) {
	p := New(Options{Size: 1})
	boom := errors.New("boom")
	_, err := Submit(context.Background(), p, func() (string, error) { return "", boom })
	assert.ErrorIs(t, err, boom)
}

func TestSubmitPanicBecomesWorkerPoolError(t *testing.T) {
	p := New(Options{Size: 1})
	_, err := Submit(context.Background(), p, func() (int, error) {
		var m map[string]int
		m["x"] = 1
		return 0, nil
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrWorkerPool))

	// the slot was released
	v, err := Submit(context.Background(), p, func() (int, error) { return 7, nil })
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestSubmitBoundsConcurrency(t *testing.T) {
	const size = 3
	p := New(Options{Size: size})

	var running, peak int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := Submit(context.Background(), p, func() (struct{}, error) {
				n := atomic.AddInt32(&running, 1)
				for {
					old := atomic.LoadInt32(&peak)
					if n <= old || atomic.CompareAndSwapInt32(&peak, old, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				atomic.AddInt32(&running, -1)
				return struct{}{}, nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(size))
	assert.Greater(t, atomic.LoadInt32(&peak), int32(0))
}

func TestSubmitHonorsContext(t *testing.T) {
	p := New(Options{Size: 1})
	release := make(chan struct{})

	started := make(chan struct{})
	go func() {
		_, _ = Submit(context.Background(), p, func() (int, error) {
			close(started)
			<-release
			return 0, nil
		})
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := Submit(ctx, p, func() (int, error) { return 1, nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	// wait for the blocked job to drain before goleak runs
	_, err = Submit(context.Background(), p, func() (int, error) { return 0, nil })
	require.NoError(t, err)
}

func TestInlineThreshold(t *testing.T) {
	p := New(Options{Size: 1, Threshold: 10})
	assert.True(t, p.Inline(10))
	assert.False(t, p.Inline(11))
	assert.Equal(t, 1, p.Size())

	d := New(Options{})
	assert.True(t, d.Inline(defaultThreshold))
	assert.GreaterOrEqual(t, d.Size(), 1)
}
