package classifier

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"accentid/internal/logging"
	"accentid/internal/services"
)

type fakeHandle struct {
	id     string
	labels []string
	pred   Prediction
	err    error
	dead   atomic.Bool
	closed atomic.Int32
}

func (h *fakeHandle) ModelID() string  { return h.id }
func (h *fakeHandle) Labels() []string { return h.labels }
func (h *fakeHandle) Alive() bool      { return !h.dead.Load() }

func (h *fakeHandle) Classify(context.Context, string) (Prediction, error) {
	return h.pred, h.err
}

func (h *fakeHandle) Close() error {
	h.closed.Add(1)
	return nil
}

type countingLoader struct {
	calls   atomic.Int32
	delay   time.Duration
	fail    atomic.Bool
	release chan struct{}
}

func (l *countingLoader) Load(ctx context.Context, modelID string) (Handle, error) {
	l.calls.Add(1)
	if l.release != nil {
		<-l.release
	}
	if l.delay > 0 {
		time.Sleep(l.delay)
	}
	if l.fail.Load() {
		return nil, errors.New("hub unreachable")
	}
	return &fakeHandle{id: modelID, labels: []string{"us", "england"}}, nil
}

func TestCacheLoadsOncePerKeyUnderConcurrency(t *testing.T) {
	loader := &countingLoader{release: make(chan struct{})}
	cache := NewCache(loader, logging.NewNop())

	const callers = 16
	handles := make([]Handle, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			handles[i], errs[i] = cache.Get(context.Background(), DefaultModelID)
		}(i)
	}
	// Give callers a moment to pile up behind the in-flight load.
	time.Sleep(50 * time.Millisecond)
	close(loader.release)
	wg.Wait()

	if got := loader.calls.Load(); got != 1 {
		t.Fatalf("expected a single load, got %d", got)
	}
	for i := range callers {
		if errs[i] != nil {
			t.Fatalf("caller %d: unexpected error %v", i, errs[i])
		}
		if handles[i] != handles[0] {
			t.Fatalf("caller %d received a different handle", i)
		}
	}
	if cache.LoadCount(DefaultModelID) != 1 {
		t.Fatalf("expected load count 1, got %d", cache.LoadCount(DefaultModelID))
	}
}

func TestCacheReturnsSameHandleOnLaterCalls(t *testing.T) {
	loader := &countingLoader{}
	cache := NewCache(loader, logging.NewNop())

	first, err := cache.Get(context.Background(), DefaultModelID)
	if err != nil {
		t.Fatalf("first Get: %v", err)
	}
	second, err := cache.Get(context.Background(), " "+DefaultModelID+" ")
	if err != nil {
		t.Fatalf("second Get: %v", err)
	}
	if first != second {
		t.Fatal("expected identical handle for the same model id")
	}
	if loader.calls.Load() != 1 {
		t.Fatalf("expected one load, got %d", loader.calls.Load())
	}

	other, err := cache.Get(context.Background(), "someone/other-model")
	if err != nil {
		t.Fatalf("other Get: %v", err)
	}
	if other == first {
		t.Fatal("distinct model ids must not share a handle")
	}
	loaded := cache.Loaded()
	if len(loaded) != 2 || loaded[0] != DefaultModelID {
		t.Fatalf("unexpected loaded list: %v", loaded)
	}
}

func TestCacheDoesNotCacheFailures(t *testing.T) {
	loader := &countingLoader{}
	loader.fail.Store(true)
	cache := NewCache(loader, logging.NewNop())

	_, err := cache.Get(context.Background(), DefaultModelID)
	if err == nil {
		t.Fatal("expected load error")
	}
	if !errors.Is(err, services.ErrModelLoad) {
		t.Fatalf("expected ErrModelLoad, got %v", err)
	}

	loader.fail.Store(false)
	handle, err := cache.Get(context.Background(), DefaultModelID)
	if err != nil {
		t.Fatalf("retry after failure: %v", err)
	}
	if handle == nil {
		t.Fatal("expected handle after retry")
	}
	if loader.calls.Load() != 2 {
		t.Fatalf("expected the failed load to be retried, got %d calls", loader.calls.Load())
	}
}

func TestCacheReloadsDeadWorker(t *testing.T) {
	loader := &countingLoader{}
	cache := NewCache(loader, logging.NewNop())

	first, err := cache.Get(context.Background(), DefaultModelID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	fh := first.(*fakeHandle)
	fh.dead.Store(true)

	second, err := cache.Get(context.Background(), DefaultModelID)
	if err != nil {
		t.Fatalf("Get after worker death: %v", err)
	}
	if second == first {
		t.Fatal("expected a fresh handle after the worker died")
	}
	if fh.closed.Load() != 1 {
		t.Fatalf("expected dead handle to be closed once, got %d", fh.closed.Load())
	}
	if cache.LoadCount(DefaultModelID) != 2 {
		t.Fatalf("expected two loads, got %d", cache.LoadCount(DefaultModelID))
	}
}

func TestCacheWaiterCancellationDoesNotAbortLoad(t *testing.T) {
	loader := &countingLoader{release: make(chan struct{})}
	cache := NewCache(loader, logging.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := cache.Get(ctx, DefaultModelID)
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	err := <-done
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation for the waiter, got %v", err)
	}

	close(loader.release)
	handle, err := cache.Get(context.Background(), DefaultModelID)
	if err != nil {
		t.Fatalf("Get after cancelled waiter: %v", err)
	}
	if handle == nil {
		t.Fatal("expected handle")
	}
	if loader.calls.Load() != 1 {
		t.Fatalf("expected the detached load to be shared, got %d calls", loader.calls.Load())
	}
}

func TestCacheRejectsEmptyKey(t *testing.T) {
	cache := NewCache(&countingLoader{}, logging.NewNop())
	if _, err := cache.Get(context.Background(), "  "); !errors.Is(err, services.ErrModelLoad) {
		t.Fatalf("expected ErrModelLoad for empty id, got %v", err)
	}
}

func TestCacheCloseReleasesHandles(t *testing.T) {
	cache := NewCache(&countingLoader{}, logging.NewNop())
	handle, err := cache.Get(context.Background(), DefaultModelID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if err := cache.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if handle.(*fakeHandle).closed.Load() != 1 {
		t.Fatal("expected handle to be closed")
	}
	if len(cache.Loaded()) != 0 {
		t.Fatal("expected cache to be empty after Close")
	}
}
