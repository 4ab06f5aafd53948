package capture

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dgnsrekt/apiscope/internal/metrics"
	"github.com/dgnsrekt/apiscope/internal/types"
)

// CallStore persists capture records.
type CallStore interface {
	AppendCall(ctx context.Context, call *types.CapturedCall) error
}

// AsyncSink queues records on a buffered channel and persists them from a
// single worker. A full buffer drops the record instead of blocking the
// proxied request.
type AsyncSink struct {
	store     CallStore
	observers []func(*types.CapturedCall)
	metrics   *metrics.Metrics
	writeTO   time.Duration

	writeCh   chan *types.CapturedCall
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewAsyncSink starts the worker. Observers run on the worker goroutine
// after each store attempt, whether or not it succeeded.
func NewAsyncSink(store CallStore, bufferSize int, m *metrics.Metrics, observers ...func(*types.CapturedCall)) *AsyncSink {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	s := &AsyncSink{
		store:     store,
		observers: observers,
		metrics:   m,
		writeTO:   5 * time.Second,
		writeCh:   make(chan *types.CapturedCall, bufferSize),
		done:      make(chan struct{}),
	}
	s.wg.Add(1)
	go s.writeLoop()
	return s
}

// Save queues call for persistence.
func (s *AsyncSink) Save(call *types.CapturedCall) {
	if call == nil {
		return
	}
	select {
	case <-s.done:
		slog.Warn("Capture sink closed, dropping record", "proxy_id", call.ProxyID, "call_id", call.ID)
		s.metrics.Capture(call.Source, metrics.OutcomeDropped)
		return
	default:
	}
	select {
	case s.writeCh <- call:
	default:
		slog.Warn("Capture buffer full, dropping record", "proxy_id", call.ProxyID, "call_id", call.ID)
		s.metrics.Capture(call.Source, metrics.OutcomeDropped)
	}
}

// Close stops the worker after draining queued records, waiting at most
// five seconds.
func (s *AsyncSink) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.wg.Wait()

		timeout := time.After(5 * time.Second)
		for {
			select {
			case call := <-s.writeCh:
				s.persist(call)
			case <-timeout:
				slog.Warn("Capture sink close timeout, some records may be lost")
				return
			default:
				return
			}
		}
	})
	return nil
}

func (s *AsyncSink) writeLoop() {
	defer s.wg.Done()
	for {
		select {
		case call := <-s.writeCh:
			s.persist(call)
		case <-s.done:
			return
		}
	}
}

func (s *AsyncSink) persist(call *types.CapturedCall) {
	ctx, cancel := context.WithTimeout(context.Background(), s.writeTO)
	defer cancel()

	if err := s.store.AppendCall(ctx, call); err != nil {
		slog.Error("Failed to store captured call", "proxy_id", call.ProxyID, "call_id", call.ID, "error", err)
		s.metrics.Capture(call.Source, metrics.OutcomeFailed)
	} else {
		s.metrics.Capture(call.Source, metrics.OutcomeRecorded)
	}
	for _, fn := range s.observers {
		fn(call)
	}
}
