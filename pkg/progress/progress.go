// pkg/progress/progress.go - unbounded event queue and the reporter workers publish through

package progress

import (
	"strings"
	"sync"
)

// Queue is an unbounded FIFO of events. Producers never block; the consumer
// drains on its own schedule and can wait on Notify.
type Queue struct {
	mu     sync.Mutex
	items  []Event
	notify chan struct{}
	closed bool
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{notify: make(chan struct{}, 1)}
}

// Push appends ev. Events pushed after Close are dropped.
func (q *Queue) Push(ev Event) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, ev)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Drain removes and returns every queued event in push order.
func (q *Queue) Drain() []Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items
	q.items = nil
	return out
}

// Notify is signalled after pushes; it coalesces bursts.
func (q *Queue) Notify() <-chan struct{} {
	return q.notify
}

// Close stops accepting events. Already queued events can still be drained.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Closed reports whether Close was called.
func (q *Queue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Reporter publishes to a queue and keeps the full log of the run for the
// final DoneEvent.
type Reporter struct {
	queue *Queue

	mu       sync.Mutex
	log      strings.Builder
	warnings []string
	done     bool
}

// NewReporter creates a reporter writing to q.
func NewReporter(q *Queue) *Reporter {
	return &Reporter{queue: q}
}

// Queue returns the underlying queue.
func (r *Reporter) Queue() *Queue { return r.queue }

// Push forwards an event; it lets the reporter act as a ledger Sink.
func (r *Reporter) Push(ev Event) {
	r.queue.Push(ev)
}

// Log records a line in the full log and publishes it.
func (r *Reporter) Log(line string) {
	r.mu.Lock()
	r.log.WriteString(line)
	r.log.WriteByte('\n')
	r.mu.Unlock()
	r.queue.Push(LogEvent{Line: line})
}

// Detail publishes a status line without adding it to the log.
func (r *Reporter) Detail(text string) {
	r.queue.Push(DetailEvent{Text: text})
}

// Stage publishes a stage transition.
func (r *Reporter) Stage(stage string, status Status) {
	r.Log("== " + stage + ": " + string(status))
	r.queue.Push(StageEvent{Stage: stage, Status: status})
}

// Warn records a non-fatal problem.
func (r *Reporter) Warn(warning string) {
	r.mu.Lock()
	r.warnings = append(r.warnings, warning)
	r.mu.Unlock()
	r.Log("WARNING: " + warning)
}

// Warnings returns the warnings recorded so far.
func (r *Reporter) Warnings() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.warnings...)
}

// FullLog returns everything logged so far.
func (r *Reporter) FullLog() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.log.String()
}

// Done publishes the terminal event, filling in the log and warnings, and
// closes the queue. Only the first call has an effect.
func (r *Reporter) Done(ev DoneEvent) DoneEvent {
	r.mu.Lock()
	if r.done {
		r.mu.Unlock()
		return ev
	}
	r.done = true
	ev.FullLog = r.log.String()
	ev.Warnings = append(append([]string(nil), r.warnings...), ev.Warnings...)
	r.mu.Unlock()

	r.queue.Push(ev)
	r.queue.Close()
	return ev
}
