package gateway

import (
	"github.com/sothis/remote-agent/internal/metrics"
)

// Lane identifies one of the three priority classes of an outbound socket's
// queue.
type Lane int

const (
	LaneCritical Lane = iota
	LaneRealTime
	LaneBulk
)

func (l Lane) String() string {
	switch l {
	case LaneCritical:
		return "critical"
	case LaneRealTime:
		return "realtime"
	case LaneBulk:
		return "bulk"
	default:
		return "unknown"
	}
}

const (
	criticalSoftCap  = 2000
	realtimeCap      = 50
	videoCoalesceCap = 3
)

// OutboundQueue is a single socket's three-lane outbound buffer, drained in
// strict priority order: Critical, then RealTime, then Bulk.
type OutboundQueue struct {
	critical [][]byte
	realtime [][]byte
	bulk     [][]byte
}

// NewOutboundQueue creates an empty three-lane queue.
func NewOutboundQueue() *OutboundQueue {
	return &OutboundQueue{}
}

// Enqueue appends payload to the named lane, applying that lane's overflow
// policy.
func (q *OutboundQueue) Enqueue(lane Lane, payload []byte) {
	switch lane {
	case LaneCritical:
		q.critical = append(q.critical, payload)
		if len(q.critical) > criticalSoftCap {
			q.critical = q.critical[1:]
		}
	case LaneRealTime:
		q.realtime = append(q.realtime, payload)
		if len(q.realtime) > realtimeCap {
			q.realtime = q.realtime[1:]
		}
	case LaneBulk:
		q.bulk = append(q.bulk, payload)
	}
	metrics.LaneSends.WithLabelValues(lane.String()).Inc()
}

// EnqueueVideo appends a video chunk to the RealTime lane under its own,
// tighter coalescing cap: at most videoCoalesceCap chunks per client,
// dropping the oldest until the new one fits. This sits below realtimeCap
// (the lane's general overflow bound) because stale video chunks are
// useless the moment a newer one exists; it is the gateway-side analogue of
// the bus's kind-aware drop, applied without packet-kind visibility (purely
// time-ordered).
func (q *OutboundQueue) EnqueueVideo(payload []byte) {
	for len(q.realtime) >= videoCoalesceCap {
		q.realtime = q.realtime[1:]
	}
	q.realtime = append(q.realtime, payload)
	metrics.LaneSends.WithLabelValues(LaneRealTime.String()).Inc()
}

// Empty reports whether every lane is drained.
func (q *OutboundQueue) Empty() bool {
	return len(q.critical) == 0 && len(q.realtime) == 0 && len(q.bulk) == 0
}

// peekLane returns the queue holding the head packet to send next in strict
// priority order, or nil if all lanes are empty.
func (q *OutboundQueue) peekLane() *[][]byte {
	if len(q.critical) > 0 {
		return &q.critical
	}
	if len(q.realtime) > 0 {
		return &q.realtime
	}
	if len(q.bulk) > 0 {
		return &q.bulk
	}
	return nil
}

// WriteResult is the outcome of one non-blocking send attempt issued by
// Drain's sendFn callback.
type WriteResult int

const (
	WriteFull WriteResult = iota
	WritePartial
	WriteWouldBlock
	WriteFatal
)

// Drain peels one packet in strict priority order and calls sendFn with its
// bytes. sendFn returns the write result and, for WritePartial, the number
// of bytes actually written (so the remainder can replace the head in
// place, never migrating across lane boundaries). Drain returns false only
// on WriteFatal; the caller must then close the socket.
func (q *OutboundQueue) Drain(sendFn func([]byte) (WriteResult, int)) bool {
	lane := q.peekLane()
	if lane == nil {
		return true
	}
	head := (*lane)[0]
	result, n := sendFn(head)
	switch result {
	case WriteFull:
		*lane = (*lane)[1:]
	case WritePartial:
		(*lane)[0] = head[n:]
	case WriteWouldBlock:
		// head stays in place; caller treats this iteration as busy.
	case WriteFatal:
		return false
	}
	return true
}
