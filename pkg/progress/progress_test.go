package progress

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedgerTransitions(t *testing.T) {
	q := NewQueue()
	l := NewLedger(q)

	require.NoError(t, l.Register(
		Task{Name: "extract", Label: "Extracting runtime"},
		Task{Name: "deps"},
	))

	require.NoError(t, l.SetStatus("extract", StatusRunning))
	cur, ok := l.Current()
	require.True(t, ok)
	assert.Equal(t, "extract", cur.Name)

	err := l.SetStatus("deps", StatusRunning)
	assert.ErrorIs(t, err, ErrTaskRunning)

	require.NoError(t, l.SetStatus("extract", StatusSucceeded))
	_, ok = l.Current()
	assert.False(t, ok)

	require.NoError(t, l.SetStatus("deps", StatusRunning))
	require.NoError(t, l.SetStatus("deps", StatusFailed))

	snap := l.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "extract", snap[0].Name)
	assert.Equal(t, StatusSucceeded, snap[0].Status)
	assert.Equal(t, "deps", snap[1].Label)
	assert.Equal(t, StatusFailed, snap[1].Status)

	finished, total := l.Summary()
	assert.Equal(t, 2, finished)
	assert.Equal(t, 2, total)

	var statuses []Status
	for _, ev := range q.Drain() {
		if te, ok := ev.(TaskEvent); ok && te.Task == "extract" {
			statuses = append(statuses, te.Status)
		}
	}
	assert.Equal(t, []Status{StatusPending, StatusRunning, StatusSucceeded}, statuses)
}

func TestLedgerRejectsUnknownAndDuplicate(t *testing.T) {
	l := NewLedger(nil)
	require.NoError(t, l.Register(Task{Name: "a"}))

	assert.ErrorIs(t, l.Register(Task{Name: "a"}), ErrDuplicateTask)
	assert.ErrorIs(t, l.SetStatus("missing", StatusRunning), ErrUnknownTask)
}

func TestLedgerConcurrentReaders(t *testing.T) {
	l := NewLedger(nil)
	require.NoError(t, l.Register(Task{Name: "a"}, Task{Name: "b"}))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = l.Snapshot()
				_, _ = l.Current()
			}
		}()
	}
	for _, name := range []string{"a", "b"} {
		require.NoError(t, l.SetStatus(name, StatusRunning))
		require.NoError(t, l.SetStatus(name, StatusSucceeded))
	}
	wg.Wait()
}

func TestQueuePreservesOrderAndDropsAfterClose(t *testing.T) {
	q := NewQueue()
	for i := 0; i < 1000; i++ {
		q.Push(LogEvent{Line: string(rune('a' + i%26))})
	}
	events := q.Drain()
	require.Len(t, events, 1000)
	assert.Equal(t, LogEvent{Line: "a"}, events[0])
	assert.Equal(t, LogEvent{Line: "b"}, events[1])

	select {
	case <-q.Notify():
	default:
		t.Fatal("expected a pending notification")
	}

	q.Close()
	q.Push(LogEvent{Line: "late"})
	assert.Empty(t, q.Drain())
	assert.True(t, q.Closed())
}

func TestReporterDoneCarriesLogAndWarnings(t *testing.T) {
	r := NewReporter(NewQueue())
	r.Stage("ProvisioningEnvironment", StatusRunning)
	r.Log("Collecting pkgA")
	r.Warn("shortcut not created")

	done := r.Done(DoneEvent{Success: true, RuntimeExecutable: "/opt/lex/runtime/python"})
	assert.Contains(t, done.FullLog, "Collecting pkgA")
	assert.Equal(t, []string{"shortcut not created"}, done.Warnings)

	events := r.Queue().Drain()
	require.NotEmpty(t, events)
	last, ok := events[len(events)-1].(DoneEvent)
	require.True(t, ok)
	assert.True(t, last.Success)
	assert.True(t, r.Queue().Closed())

	second := r.Done(DoneEvent{Success: false})
	assert.False(t, second.Success)
	assert.Empty(t, r.Queue().Drain())
}
