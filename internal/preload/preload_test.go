package preload

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLoader struct {
	mu      sync.Mutex
	loaded  []string
	fail    map[string]bool
	delay   time.Duration
	active  int32
	peak    int32
	blockCh chan struct{}
}

func (f *fakeLoader) Load(ctx context.Context, url string) error {
	n := atomic.AddInt32(&f.active, 1)
	defer atomic.AddInt32(&f.active, -1)
	for {
		p := atomic.LoadInt32(&f.peak)
		if n <= p || atomic.CompareAndSwapInt32(&f.peak, p, n) {
			break
		}
	}

	if f.blockCh != nil {
		select {
		case <-f.blockCh:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	f.loaded = append(f.loaded, url)
	f.mu.Unlock()
	if f.fail[url] {
		return errors.New("broken image")
	}
	return nil
}

func TestGate_WaitsForAllEvenWhenSomeFail(t *testing.T) {
	loader := &fakeLoader{fail: map[string]bool{"b": true}}
	var images, failed int
	gate := NewGate(loader, 0, nil, func(n, f int, _ time.Duration) { images, failed = n, f })

	err := gate.Wait(context.Background(), []string{"a", "b", "c"})

	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, loader.loaded)
	assert.Equal(t, 3, images)
	assert.Equal(t, 1, failed)
}

func TestGate_EmptyBatchResolvesImmediately(t *testing.T) {
	loader := &fakeLoader{}
	gate := NewGate(loader, 4, nil, nil)

	require.NoError(t, gate.Wait(context.Background(), nil))
	require.NoError(t, gate.Wait(context.Background(), []string{"", "  "}))
	assert.Empty(t, loader.loaded)
}

func TestGate_RespectsConcurrencyLimit(t *testing.T) {
	loader := &fakeLoader{delay: 10 * time.Millisecond}
	gate := NewGate(loader, 2, nil, nil)

	urls := []string{"1", "2", "3", "4", "5", "6"}
	require.NoError(t, gate.Wait(context.Background(), urls))

	assert.Len(t, loader.loaded, len(urls))
	assert.LessOrEqual(t, atomic.LoadInt32(&loader.peak), int32(2))
}

func TestGate_CancelledWaitReturnsContextError(t *testing.T) {
	loader := &fakeLoader{blockCh: make(chan struct{})}
	gate := NewGate(loader, 0, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := gate.Wait(ctx, []string{"slow"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestHTTPLoader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.png" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("png"))
	}))
	defer srv.Close()

	l := NewHTTPLoader(time.Second)
	assert.NoError(t, l.Load(context.Background(), srv.URL+"/ok.png"))
	assert.Error(t, l.Load(context.Background(), srv.URL+"/missing.png"))
}
