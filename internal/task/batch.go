package task

import "github.com/liangyuRain/nexus/internal/xklib/kerror"

// BatchTask is a transient aggregation formed per forward pass: a
// preallocated input array of MaxBatch slots, a parallel list of
// (task, input-index) back-pointers, and one output payload per item,
// set by the forward runner via SetOutputs.
//
// Invariant: 0 <= BatchSize() <= MaxBatch.
type BatchTask struct {
	BatchID  uint64
	MaxBatch uint32

	inputs  []Input
	tasks   []*Task
	outputs [][]byte // populated by SetOutputs after the forward pass
}

// NewBatchTask preallocates the input/task back-pointer arrays for a
// batch of at most maxBatch items.
func NewBatchTask(batchID uint64, maxBatch uint32) *BatchTask {
	return &BatchTask{
		BatchID:  batchID,
		MaxBatch: maxBatch,
		inputs:   make([]Input, 0, maxBatch),
		tasks:    make([]*Task, 0, maxBatch),
	}
}

// Append adds one (input, owning task) pair to the batch. Returns an
// error if the batch is already at MaxBatch capacity.
func (bt *BatchTask) Append(input Input, t *Task) error {
	if uint32(len(bt.inputs)) >= bt.MaxBatch {
		return kerror.Create("BatchFull", "batch task is already at max batch capacity").
			With("batchId", bt.BatchID).
			With("maxBatch", bt.MaxBatch)
	}
	bt.inputs = append(bt.inputs, input)
	bt.tasks = append(bt.tasks, t)
	return nil
}

// BatchSize is the number of items actually placed in this batch so far.
func (bt *BatchTask) BatchSize() int {
	return len(bt.inputs)
}

// Inputs returns the inputs placed in this batch, in append order.
func (bt *BatchTask) Inputs() []Input {
	return bt.inputs
}

// Tasks returns the owning task for each input, same order/index as
// Inputs().
func (bt *BatchTask) Tasks() []*Task {
	return bt.tasks
}

// SetOutputs records the per-item output payloads produced by the
// forward pass. len(outputs) must equal BatchSize().
func (bt *BatchTask) SetOutputs(outputs [][]byte) error {
	if len(outputs) != len(bt.inputs) {
		return kerror.Create("OutputSizeMismatch", "forward produced a different number of outputs than inputs").
			With("batchId", bt.BatchID).
			With("expected", len(bt.inputs)).
			With("got", len(outputs))
	}
	bt.outputs = outputs
	return nil
}

// Outputs returns the per-item output payloads set by SetOutputs.
func (bt *BatchTask) Outputs() [][]byte {
	return bt.outputs
}
