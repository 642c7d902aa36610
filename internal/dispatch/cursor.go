package dispatch

import (
	"sort"
	"sync"

	"github.com/alanyoungcy/lotwise/internal/domain"
)

// partitionKey identifies one independently committed stream partition.
type partitionKey struct {
	topic     string
	partition int
}

// partitionCursor tracks the deliveries of one partition in fetch order.
type partitionCursor struct {
	pending   []domain.Delivery
	done      map[int64]bool
	committed int64
	hasCommit bool
}

// CursorTracker computes, per partition, the highest offset whose delivery
// and every earlier fetched delivery have completed. Deliveries on different
// symbol workers finish out of order; only that contiguous watermark may be
// committed without skipping unfinished work.
type CursorTracker struct {
	mu         sync.Mutex
	partitions map[partitionKey]*partitionCursor
}

// NewCursorTracker creates an empty CursorTracker.
func NewCursorTracker() *CursorTracker {
	return &CursorTracker{partitions: make(map[partitionKey]*partitionCursor)}
}

func (t *CursorTracker) cursor(d domain.Delivery) *partitionCursor {
	k := partitionKey{topic: d.Topic, partition: d.Partition}
	pc, ok := t.partitions[k]
	if !ok {
		pc = &partitionCursor{done: make(map[int64]bool)}
		t.partitions[k] = pc
	}
	return pc
}

// Track registers a fetched delivery. It must be called in fetch order and
// before the delivery is handed to a worker.
func (t *CursorTracker) Track(d domain.Delivery) {
	t.mu.Lock()
	defer t.mu.Unlock()
	pc := t.cursor(d)
	if pc.hasCommit && d.Offset <= pc.committed {
		return
	}
	pc.pending = append(pc.pending, d)
}

// Complete marks a tracked delivery as fully processed. Deliveries at or
// below the committed watermark were never tracked and are ignored.
func (t *CursorTracker) Complete(d domain.Delivery) {
	t.mu.Lock()
	defer t.mu.Unlock()
	pc := t.cursor(d)
	if pc.hasCommit && d.Offset <= pc.committed {
		return
	}
	pc.done[d.Offset] = true
}

// Ready pops the completed prefix of every partition and returns the last
// delivery of each prefix, ordered by topic then partition. A partition
// appears at most once and never with an offset at or below one already
// returned.
func (t *CursorTracker) Ready() []domain.Delivery {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []domain.Delivery
	for _, pc := range t.partitions {
		var last *domain.Delivery
		n := 0
		for n < len(pc.pending) && pc.done[pc.pending[n].Offset] {
			delete(pc.done, pc.pending[n].Offset)
			last = &pc.pending[n]
			n++
		}
		if last == nil {
			continue
		}
		mark := *last
		pc.pending = append(pc.pending[:0:0], pc.pending[n:]...)
		if pc.hasCommit && mark.Offset <= pc.committed {
			continue
		}
		pc.committed = mark.Offset
		pc.hasCommit = true
		out = append(out, mark)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Topic != out[j].Topic {
			return out[i].Topic < out[j].Topic
		}
		return out[i].Partition < out[j].Partition
	})
	return out
}

// Pending returns the number of tracked deliveries not yet released by Ready.
func (t *CursorTracker) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, pc := range t.partitions {
		n += len(pc.pending)
	}
	return n
}
