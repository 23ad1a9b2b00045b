// pkg/progress/events.go - events published from pipeline workers to the UI

package progress

// Event is anything a pipeline publishes to its progress consumer.
type Event interface {
	event()
}

// StageEvent reports an orchestrator state change.
type StageEvent struct {
	Stage  string
	Status Status
}

// TaskEvent mirrors a ledger change.
type TaskEvent struct {
	Task   string
	Label  string
	Status Status
}

// LogEvent carries one line for the live log view.
type LogEvent struct {
	Line string
}

// DetailEvent is a short status line for the task currently running.
type DetailEvent struct {
	Text string
}

// DoneEvent is the last event of a pipeline run.
type DoneEvent struct {
	Success           bool
	Stage             string // stage that failed, if any
	Message           string
	FullLog           string
	Warnings          []string
	RuntimeExecutable string
}

func (StageEvent) event()  {}
func (TaskEvent) event()   {}
func (LogEvent) event()    {}
func (DetailEvent) event() {}
func (DoneEvent) event()   {}
