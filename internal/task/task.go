// Package task implements the Task/Input/Output/BatchTask data model
// (spec §3) shared by the model executor and the postprocess pipeline.
package task

import (
	"sync"
	"time"

	"github.com/liangyuRain/nexus/internal/xklib/kcommon"
)

// Status is the health of a task in flight.
type Status int

const (
	StatusOK Status = iota
	StatusFailed
)

// Stage is where a task currently sits in the pipeline.
type Stage int

const (
	StagePreprocess Stage = iota
	StageExecute
	StagePostprocess
	StageDone
)

func (s Stage) String() string {
	switch s {
	case StagePreprocess:
		return "preprocess"
	case StageExecute:
		return "execute"
	case StagePostprocess:
		return "postprocess"
	case StageDone:
		return "done"
	default:
		return "unknown"
	}
}

// Input is one typed input within a task, carrying its own index and
// deadline so the executor's priority queue can order inputs from many
// tasks by earliest deadline first.
type Input struct {
	TaskID   uint64
	Index    int
	Deadline time.Time
	Data     []byte
}

// Output is a tagged variant: either a Real result produced by a forward
// pass, or a Virtual placeholder recorded when an input was dropped
// (failed task or infeasible deadline). Either way the input is counted
// towards task completion.
type Output struct {
	Index  int
	Real   bool
	Data   []byte
	Reason string // populated only when Real == false
}

// StageTimer records monotonic timestamps at named stage transitions
// (the executor records "exec" and "postprocess"). Nothing in this module
// reads or logs them; they are available to the postprocess consumer.
type StageTimer struct {
	mu      sync.Mutex
	records map[string]int64
}

func NewStageTimer() *StageTimer {
	return &StageTimer{records: make(map[string]int64)}
}

func (st *StageTimer) Record(name string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.records[name] = kcommon.GetMonoTimeMs()
}

func (st *StageTimer) Get(name string) (int64, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	v, ok := st.records[name]
	return v, ok
}

// Task is a single request in flight, owned uniquely by the executor's
// processing table until all outputs are attached, then handed to the
// postprocess queue.
type Task struct {
	ID       uint64
	Deadline time.Time
	Inputs   []Input
	Stage    Stage
	Timer    *StageTimer

	mu      sync.Mutex
	status  Status
	outputs []*Output // indexed same as Inputs; nil until attached
	filled  int
}

// NewTask constructs a task with one Input per item, all sharing the
// task's deadline, and status OK.
func NewTask(id uint64, deadline time.Time, payloads [][]byte) *Task {
	inputs := make([]Input, len(payloads))
	for i, p := range payloads {
		inputs[i] = Input{TaskID: id, Index: i, Deadline: deadline, Data: p}
	}
	return &Task{
		ID:       id,
		Deadline: deadline,
		Inputs:   inputs,
		Stage:    StagePreprocess,
		Timer:    NewStageTimer(),
		status:   StatusOK,
		outputs:  make([]*Output, len(inputs)),
	}
}

func (t *Task) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

func (t *Task) SetStatus(s Status) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status = s
}

// AddOutput attaches a real output at index. Returns true iff this
// completes the task's output set (every input has an output).
func (t *Task) AddOutput(index int, data []byte) bool {
	return t.addOutput(index, &Output{Index: index, Real: true, Data: data})
}

// AddVirtualOutput attaches a virtual placeholder output at index,
// recording reason. Returns true iff this completes the task.
func (t *Task) AddVirtualOutput(index int, reason string) bool {
	return t.addOutput(index, &Output{Index: index, Real: false, Reason: reason})
}

func (t *Task) addOutput(index int, out *Output) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.outputs[index] == nil {
		t.outputs[index] = out
		t.filled++
	}
	return t.filled == len(t.outputs)
}

// Outputs returns the attached outputs in index order. Only meaningful
// once the task is complete.
func (t *Task) Outputs() []*Output {
	t.mu.Lock()
	defer t.mu.Unlock()
	cp := make([]*Output, len(t.outputs))
	copy(cp, t.outputs)
	return cp
}

// IsComplete reports whether every input has an attached output.
func (t *Task) IsComplete() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.filled == len(t.outputs)
}
