// pkg/progress/tracker.go - ordered task ledger shared by the install and uninstall pipelines

package progress

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Status is the lifecycle state of a task or stage.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transition is expected.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

var (
	ErrUnknownTask   = errors.New("unknown task")
	ErrDuplicateTask = errors.New("task already registered")
	ErrTaskRunning   = errors.New("another task is already running")
)

// Task is one named step displayed to the user.
type Task struct {
	Name     string
	Label    string
	Status   Status
	Started  time.Time
	Finished time.Time
}

// Sink receives every ledger change.
type Sink interface {
	Push(Event)
}

// Ledger keeps tasks in registration order. Writes come from the worker that
// owns the running task; any goroutine may read.
type Ledger struct {
	mu      sync.RWMutex
	order   []string
	tasks   map[string]*Task
	running string
	sink    Sink
}

// NewLedger creates an empty ledger mirroring changes to sink (may be nil).
func NewLedger(sink Sink) *Ledger {
	return &Ledger{
		tasks: make(map[string]*Task),
		sink:  sink,
	}
}

// Register appends tasks in the pending state.
func (l *Ledger) Register(tasks ...Task) error {
	l.mu.Lock()
	var added []Task
	for _, t := range tasks {
		if _, exists := l.tasks[t.Name]; exists {
			l.mu.Unlock()
			return fmt.Errorf("%w: %s", ErrDuplicateTask, t.Name)
		}
		if t.Label == "" {
			t.Label = t.Name
		}
		t.Status = StatusPending
		task := t
		l.tasks[t.Name] = &task
		l.order = append(l.order, t.Name)
		added = append(added, task)
	}
	l.mu.Unlock()

	for _, t := range added {
		l.publish(t)
	}
	return nil
}

// SetStatus moves a task to status. Starting a task while another one is
// running is rejected.
func (l *Ledger) SetStatus(name string, status Status) error {
	l.mu.Lock()
	task, exists := l.tasks[name]
	if !exists {
		l.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownTask, name)
	}

	switch status {
	case StatusRunning:
		if l.running != "" && l.running != name {
			running := l.running
			l.mu.Unlock()
			return fmt.Errorf("%w: %s (starting %s)", ErrTaskRunning, running, name)
		}
		l.running = name
		task.Started = time.Now()
		task.Finished = time.Time{}
	case StatusSucceeded, StatusFailed:
		if l.running == name {
			l.running = ""
		}
		task.Finished = time.Now()
	case StatusPending:
		if l.running == name {
			l.running = ""
		}
	}
	task.Status = status
	snapshot := *task
	l.mu.Unlock()

	l.publish(snapshot)
	return nil
}

func (l *Ledger) publish(t Task) {
	if l.sink != nil {
		l.sink.Push(TaskEvent{Task: t.Name, Label: t.Label, Status: t.Status})
	}
}

// Snapshot returns a copy of all tasks in registration order.
func (l *Ledger) Snapshot() []Task {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Task, 0, len(l.order))
	for _, name := range l.order {
		out = append(out, *l.tasks[name])
	}
	return out
}

// Current returns the running task, if any.
func (l *Ledger) Current() (Task, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.running == "" {
		return Task{}, false
	}
	return *l.tasks[l.running], true
}

// Summary counts finished and total tasks.
func (l *Ledger) Summary() (finished, total int) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for _, t := range l.tasks {
		if t.Status.Terminal() {
			finished++
		}
	}
	return finished, len(l.tasks)
}
