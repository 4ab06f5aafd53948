package capture

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dgnsrekt/apiscope/internal/types"
)

type fakeStore struct {
	mu      sync.Mutex
	calls   []*types.CapturedCall
	err     error
	release chan struct{}
}

func (s *fakeStore) AppendCall(ctx context.Context, call *types.CapturedCall) error {
	if s.release != nil {
		<-s.release
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call)
	return s.err
}

func (s *fakeStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func TestAsyncSinkPersistsAndNotifies(t *testing.T) {
	store := &fakeStore{}
	var mu sync.Mutex
	var observed []string
	sink := NewAsyncSink(store, 10, nil, func(c *types.CapturedCall) {
		mu.Lock()
		observed = append(observed, c.ID)
		mu.Unlock()
	})

	sink.Save(&types.CapturedCall{ID: "a", ProxyID: "p"})
	sink.Save(&types.CapturedCall{ID: "b", ProxyID: "p"})
	if err := sink.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if store.count() != 2 {
		t.Fatalf("expected 2 stored, got %d", store.count())
	}
	mu.Lock()
	defer mu.Unlock()
	if len(observed) != 2 {
		t.Fatalf("expected 2 observed, got %d", len(observed))
	}
}

func TestAsyncSinkDoesNotBlockWhenFull(t *testing.T) {
	store := &fakeStore{release: make(chan struct{})}
	sink := NewAsyncSink(store, 1, nil)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 50; i++ {
			sink.Save(&types.CapturedCall{ID: "x", ProxyID: "p"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Save blocked on a stalled store")
	}
	close(store.release)
	_ = sink.Close()
	if store.count() > 3 {
		t.Fatalf("expected most records dropped, stored %d", store.count())
	}
}

func TestAsyncSinkStoreErrorIsSwallowed(t *testing.T) {
	store := &fakeStore{err: errors.New("disk full")}
	notified := make(chan struct{}, 1)
	sink := NewAsyncSink(store, 4, nil, func(*types.CapturedCall) { notified <- struct{}{} })
	sink.Save(&types.CapturedCall{ID: "a", ProxyID: "p"})

	select {
	case <-notified:
	case <-time.After(2 * time.Second):
		t.Fatalf("observer not called after store error")
	}
	_ = sink.Close()
	sink.Save(&types.CapturedCall{ID: "late"})
}
