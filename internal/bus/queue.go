package bus

import (
	"log/slog"
	"sync"

	"github.com/sothis/remote-agent/internal/metrics"
	"github.com/sothis/remote-agent/internal/video"
)

// QueueSubscriber buffers pushed packets for a single slow consumer (a
// gateway client socket, a local recorder) and drains them through Next.
// It applies the bus's kind-aware drop policy once the queue holds maxDepth
// packets: a KeyFrame or CodecConfig packet clears the backlog first (the
// old frames are useless without the new config), and anything else is
// dropped, so a stalled consumer can never grow memory without bound.
type QueueSubscriber struct {
	mu       sync.Mutex
	cond     *sync.Cond
	queue    []video.Packet
	closed   bool
	logger   *slog.Logger
	maxDepth int
}

// NewQueueSubscriber creates a subscriber with the default queue depth
// (defaultMaxQueueDepth).
func NewQueueSubscriber(logger *slog.Logger) *QueueSubscriber {
	return NewQueueSubscriberWithDepth(logger, defaultMaxQueueDepth)
}

// NewQueueSubscriberWithDepth creates a subscriber with an explicit queue
// depth, for callers that need a non-default max_queue_size.
func NewQueueSubscriberWithDepth(logger *slog.Logger, maxDepth int) *QueueSubscriber {
	if logger == nil {
		logger = slog.Default()
	}
	q := &QueueSubscriber{logger: logger, maxDepth: maxDepth}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push implements Subscriber. Never blocks.
func (q *QueueSubscriber) Push(pkt video.Packet) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}

	switch pkt.Kind {
	case video.KeyFrame, video.CodecConfig:
		if len(q.queue) >= q.maxDepth {
			q.logger.Debug("clearing subscriber backlog for resync", "dropped", len(q.queue))
			q.queue = q.queue[:0]
			metrics.IncForceClears()
		}
		q.queue = append(q.queue, pkt)
	default:
		if len(q.queue) >= q.maxDepth {
			q.logger.Debug("dropping inter frame, subscriber queue full", "depth", len(q.queue))
			metrics.IncFramesDropped()
			return
		}
		q.queue = append(q.queue, pkt)
	}
	q.cond.Signal()
}

// Next blocks until a packet is available or the subscriber is closed. The
// second return value is false once closed with an empty queue.
func (q *QueueSubscriber) Next() (video.Packet, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.queue) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.queue) == 0 {
		return video.Packet{}, false
	}
	pkt := q.queue[0]
	q.queue = q.queue[1:]
	return pkt, true
}

// Close stops the subscriber; any blocked Next call returns (zero, false).
func (q *QueueSubscriber) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}

// Depth reports the number of packets currently queued (for tests/metrics).
func (q *QueueSubscriber) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queue)
}
