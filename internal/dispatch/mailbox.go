package dispatch

import (
	"context"
	"sync"
)

// mailbox is the job queue of one worker. push never blocks, so a worker
// stuck on one symbol cannot stall the fetcher.
type mailbox struct {
	mu     sync.Mutex
	jobs   []job
	closed bool
	ready  chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{ready: make(chan struct{}, 1)}
}

func (m *mailbox) push(j job) {
	m.mu.Lock()
	m.jobs = append(m.jobs, j)
	m.mu.Unlock()
	m.signal()
}

// close lets pop return once the queued jobs are drained.
func (m *mailbox) close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.signal()
}

func (m *mailbox) signal() {
	select {
	case m.ready <- struct{}{}:
	default:
	}
}

// pop returns the oldest job, blocking until one arrives. ok is false once
// the mailbox is closed and empty, or ctx is done.
func (m *mailbox) pop(ctx context.Context) (job, bool) {
	for {
		m.mu.Lock()
		if len(m.jobs) > 0 {
			j := m.jobs[0]
			m.jobs[0] = job{}
			m.jobs = m.jobs[1:]
			m.mu.Unlock()
			return j, true
		}
		closed := m.closed
		m.mu.Unlock()
		if closed {
			return job{}, false
		}
		select {
		case <-ctx.Done():
			return job{}, false
		case <-m.ready:
		}
	}
}

