package engine

import (
	"sync"
	"sync/atomic"

	"github.com/tombee/folio/pkg/execution"
	"github.com/tombee/folio/pkg/workflow"
)

// run is the in-memory side of one executing run. The control loop is the
// only writer of state; readers take a copy under the lock.
type run struct {
	id  string
	def *workflow.Definition

	mu     sync.RWMutex
	state  *execution.State
	subs   map[int]chan execution.Record
	next   int
	closed bool

	cancelled  atomic.Bool
	cancelOnce sync.Once
	cancelCh   chan struct{}

	done chan struct{}
}

func newRun(def *workflow.Definition, st *execution.State) *run {
	r := &run{
		id:       st.RunID,
		def:      def,
		state:    st,
		subs:     make(map[int]chan execution.Record),
		cancelCh: make(chan struct{}),
		done:     make(chan struct{}),
	}
	if st.CancelRequested {
		r.requestCancel()
	}
	return r
}

func (r *run) requestCancel() {
	r.cancelOnce.Do(func() {
		r.cancelled.Store(true)
		close(r.cancelCh)
	})
}

func (r *run) cancelRequested() bool {
	return r.cancelled.Load()
}

func (r *run) snapshot() *execution.State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.Clone()
}

func (r *run) status() *RunStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return statusOf(r.state)
}

// priorAttempts counts the non-final records of a top-level node, so a
// resumed run continues the attempt numbering where it stopped.
func (r *run) priorAttempts(nodeID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, rec := range r.state.Records {
		if rec.Scope == "" && rec.NodeID == nodeID && !rec.Final {
			n++
		}
	}
	return n
}

func (r *run) subscribe() (<-chan execution.Record, func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch := make(chan execution.Record, subscriberBuffer)
	if r.closed {
		close(ch)
		return ch, func() {}
	}
	id := r.next
	r.next++
	r.subs[id] = ch
	return ch, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if c, ok := r.subs[id]; ok {
			delete(r.subs, id)
			close(c)
		}
	}
}

// publish must be called with r.mu held. It reports how many subscribers
// missed the record.
func (r *run) publish(rec execution.Record) int {
	dropped := 0
	for _, ch := range r.subs {
		select {
		case ch <- rec:
		default:
			dropped++
		}
	}
	return dropped
}

func (r *run) closeSubscribers() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	for id, ch := range r.subs {
		delete(r.subs, id)
		close(ch)
	}
}
