// Package bus implements BroadcastBus, the fan-out point between a single
// publishing stream session and its subscribers. It generalizes the
// teacher's media.Stream (AddSubscriber/BroadcastMessage with a
// snapshot-under-lock-then-dispatch pattern) with the original backend's
// generation-keyed codec/keyframe caching so a late-joining subscriber gets
// a decodable stream without waiting for the next key frame.
package bus

import (
	"log/slog"
	"sync"

	"github.com/sothis/remote-agent/internal/metrics"
	"github.com/sothis/remote-agent/internal/video"
)

// defaultMaxQueueDepth bounds each subscriber's pending packet queue by
// default (spec's documented max_queue_size default). Past this depth,
// InterFrame packets are dropped; KeyFrame/CodecConfig packets clear the
// queue first so they are never dropped themselves. NewQueueSubscriberWithDepth
// overrides this per subscriber.
const defaultMaxQueueDepth = 60

// Subscriber receives classified video packets pushed by the bus. Push must
// not block; implementations queue internally and drain asynchronously.
type Subscriber interface {
	Push(video.Packet)
}

type subEntry struct {
	id  uint64
	sub Subscriber
}

// BroadcastBus fans a single producer's packets out to N subscribers,
// performing smart join (send cached codec config + latest key frame first)
// and kind-aware drop under backpressure.
type BroadcastBus struct {
	mu   sync.RWMutex
	subs []subEntry
	next uint64

	generation   uint64
	cachedConfig map[uint64]video.Packet
	cachedKey    map[uint64]video.Packet

	logger *slog.Logger
}

// New creates an empty BroadcastBus.
func New(logger *slog.Logger) *BroadcastBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &BroadcastBus{
		cachedConfig: make(map[uint64]video.Packet),
		cachedKey:    make(map[uint64]video.Packet),
		logger:       logger,
	}
}

// Subscribe registers sub and performs the smart join: if a codec config
// and/or key frame has been cached for the current generation, they are
// pushed immediately (config first) before Subscribe returns, so the
// subscriber never has to wait out an encoder's GOP to start decoding.
// Returns an id to pass to Unsubscribe.
func (b *BroadcastBus) Subscribe(sub Subscriber) uint64 {
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs = append(b.subs, subEntry{id: id, sub: sub})
	gen := b.generation
	cfg, hasCfg := b.cachedConfig[gen]
	key, hasKey := b.cachedKey[gen]
	b.mu.Unlock()

	metrics.SubscriberCount.Inc()
	if hasCfg {
		sub.Push(cfg)
	}
	if hasKey {
		sub.Push(key)
	}
	return id
}

// Unsubscribe removes the subscriber registered under id. Safe to call more
// than once or with an unknown id.
func (b *BroadcastBus) Unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, e := range b.subs {
		if e.id == id {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			metrics.SubscriberCount.Dec()
			return
		}
	}
}

// NewGeneration resets the cached config/key frame for a new encoder run
// (e.g. a stream restart), so late joiners wait for fresh config rather
// than replaying a stale one.
func (b *BroadcastBus) NewGeneration() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.generation++
	return b.generation
}

// Push classifies nothing itself (the packet is already classified); it
// caches CodecConfig/KeyFrame packets for the join path, then snapshots the
// subscriber list under lock and dispatches outside the lock so a slow
// subscriber can never stall the producer.
func (b *BroadcastBus) Push(pkt video.Packet) {
	b.mu.Lock()
	switch pkt.Kind {
	case video.CodecConfig:
		b.cachedConfig[pkt.Generation] = pkt
	case video.KeyFrame:
		b.cachedKey[pkt.Generation] = pkt
	}
	subs := make([]subEntry, len(b.subs))
	copy(subs, b.subs)
	b.mu.Unlock()

	metrics.IncFramesPushed()
	for _, e := range subs {
		e.sub.Push(pkt)
	}
}

// Len reports the current subscriber count.
func (b *BroadcastBus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
