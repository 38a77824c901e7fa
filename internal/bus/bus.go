// Package bus carries approval traffic between the decision engine and
// the confirmation channels, plus a small pub/sub event bus for internal
// notifications.
package bus

import (
	"log/slog"
	"sync"
	"time"

	"cmdgate/internal/domain"
)

const publishTimeout = 10 * time.Second

// InMemoryBus is a Go-channel based approval bus for in-process use.
// The engine publishes requests; confirmation channels subscribe,
// present them to the user, and resolve them. Await hands the engine a
// channel that fires when its request is resolved.
type InMemoryBus struct {
	requests chan domain.ApprovalRequest
	waiters  map[string]chan domain.ApprovalResolution
	mu       sync.RWMutex
	closed   bool
	logger   *slog.Logger
}

// New creates a bus with the given request buffer size.
func New(bufferSize int, logger *slog.Logger) *InMemoryBus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &InMemoryBus{
		requests: make(chan domain.ApprovalRequest, bufferSize),
		waiters:  make(map[string]chan domain.ApprovalResolution),
		logger:   logger,
	}
}

// Publish enqueues an approval request for the confirmation channels.
// Blocks up to 10 seconds if the bus is full instead of dropping.
func (b *InMemoryBus) Publish(req domain.ApprovalRequest) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		b.logger.Warn("attempted to publish to closed bus")
		return
	}
	if req.Timestamp.IsZero() {
		req.Timestamp = time.Now()
	}

	select {
	case b.requests <- req:
	default:
		b.logger.Warn("approval bus full, waiting...", "request", req.ID, "source", req.Source)
		timer := time.NewTimer(publishTimeout)
		defer timer.Stop()
		select {
		case b.requests <- req:
			b.logger.Info("request delivered after wait", "request", req.ID)
		case <-timer.C:
			b.logger.Error("request dropped: bus full for 10s",
				"request", req.ID,
				"source", req.Source,
			)
		}
	}
}

// Subscribe returns the request stream. All confirmation channels share
// one stream; whichever receives a request owns presenting it.
func (b *InMemoryBus) Subscribe() <-chan domain.ApprovalRequest {
	return b.requests
}

// Await registers interest in the resolution of a request. The returned
// channel receives exactly one resolution. Call Forget when giving up.
func (b *InMemoryBus) Await(requestID string) <-chan domain.ApprovalResolution {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan domain.ApprovalResolution, 1)
	b.waiters[requestID] = ch
	return ch
}

// Resolve delivers a resolution to the waiter for its request. A
// resolution with no waiter (already timed out, or resolved twice) is
// logged and dropped.
func (b *InMemoryBus) Resolve(res domain.ApprovalResolution) {
	b.mu.Lock()
	ch, ok := b.waiters[res.RequestID]
	if ok {
		delete(b.waiters, res.RequestID)
	}
	b.mu.Unlock()

	if !ok {
		b.logger.Warn("resolution for unknown request", "request", res.RequestID, "via", res.Via)
		return
	}
	if res.Timestamp.IsZero() {
		res.Timestamp = time.Now()
	}
	ch <- res
}

// Forget drops the waiter for a request. Late resolutions for it will
// be discarded.
func (b *InMemoryBus) Forget(requestID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.waiters, requestID)
}

func (b *InMemoryBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.closed {
		b.closed = true
		close(b.requests)
	}
}
