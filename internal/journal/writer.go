package journal

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tungdtfgw/ccviz/pkg/types"
)

// Writer appends to a Store off the caller's goroutine. Record never blocks:
// when the queue is full the event is dropped and logged.
type Writer struct {
	store Store
	queue chan types.BarEvent
	log   *zap.Logger

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

func NewWriter(store Store, size int, log *zap.Logger) *Writer {
	if log == nil {
		log = zap.NewNop()
	}
	w := &Writer{
		store: store,
		queue: make(chan types.BarEvent, size),
		log:   log.With(zap.String("component", "journal")),
		done:  make(chan struct{}),
	}
	go w.loop()
	return w
}

func (w *Writer) loop() {
	defer close(w.done)
	for ev := range w.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := w.store.Append(ctx, ev); err != nil {
			w.log.Warn("journal append failed", zap.String("type", string(ev.Type)), zap.Error(err))
		}
		cancel()
	}
}

// Record queues ev. It reports false when the event was dropped.
func (w *Writer) Record(ev types.BarEvent) bool {
	if w == nil {
		return false
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return false
	}
	select {
	case w.queue <- ev:
		return true
	default:
		w.log.Warn("journal queue full, dropping event", zap.String("type", string(ev.Type)))
		return false
	}
}

func (w *Writer) Recent(ctx context.Context, limit int) ([]Entry, error) {
	return w.store.Recent(ctx, limit)
}

// Close flushes queued events and closes the store.
func (w *Writer) Close() error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.queue)
	w.mu.Unlock()

	<-w.done
	return w.store.Close()
}
