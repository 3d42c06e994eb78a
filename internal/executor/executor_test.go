package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/liangyuRain/nexus/internal/plan"
	"github.com/liangyuRain/nexus/internal/profile"
	"github.com/liangyuRain/nexus/internal/task"
	"github.com/liangyuRain/nexus/internal/xklib/kcommon"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRunner echoes each input payload back as the output, recording how
// many times Forward was invoked and the batch sizes it saw.
type fakeRunner struct {
	calls      int
	batchSizes []int
	failNext   bool
}

func (r *fakeRunner) Forward(ctx context.Context, bt *task.BatchTask) error {
	r.calls++
	r.batchSizes = append(r.batchSizes, bt.BatchSize())
	if r.failNext {
		r.failNext = false
		return errors.New("forward failed")
	}
	outputs := make([][]byte, bt.BatchSize())
	for i, in := range bt.Inputs() {
		outputs[i] = in.Data
	}
	return bt.SetOutputs(outputs)
}

// recordingQueue captures every task pushed to postprocess.
type recordingQueue struct {
	tasks []*task.Task
}

func (q *recordingQueue) Push(t *task.Task) {
	q.tasks = append(q.tasks, t)
}

func withMockTime(t *testing.T, nowMs int64) *kcommon.MockTimeProvider {
	t.Helper()
	mtp := kcommon.NewMockTimeProvider().SetTimeMs(nowMs)
	prev := kcommon.NewSystemTimeProvider()
	kcommon.SetTimeProvider(mtp)
	t.Cleanup(func() { kcommon.SetTimeProvider(prev) })
	return mtp
}

func newTestExecutor(runner ForwardRunner, pq PostprocessQueue, prof *profile.Profile, batch uint32) *ModelExecutor {
	sess := profile.ModelSession{Framework: "tensorflow", ModelName: "resnet50", Version: 1, LatencySLA: 100}
	e := NewModelExecutor("resnet50", sess, "titanx", batch, prof, runner, pq)
	e.SetConfig(plan.InstanceConfig{Batch: batch, MaxBatch: batch})
	return e
}

func TestExecutor_BatchFormationRespectsPlannedBatch(t *testing.T) {
	withMockTime(t, 0)
	runner := &fakeRunner{}
	pq := &recordingQueue{}
	e := newTestExecutor(runner, pq, nil, 4)

	for i := uint64(0); i < 10; i++ {
		tk := task.NewTask(i, time.Now().Add(time.Hour), [][]byte{[]byte("x")})
		require.NoError(t, e.AddTask(tk))
	}

	require.NoError(t, e.Execute(context.Background()))
	assert.Equal(t, 1, runner.calls)
	assert.Equal(t, 4, runner.batchSizes[0])
	assert.Equal(t, 6, e.QueueLen())
}

func TestExecutor_DeadlineCutoffProducesVirtualOutput(t *testing.T) {
	mtp := withMockTime(t, 1000)
	runner := &fakeRunner{}
	pq := &recordingQueue{}

	prof := profile.NewProfile([]profile.BatchPoint{
		{Batch: 1, ForwardLatencyUs: 50_000, MemoryUsageBytes: 100},
	}, 0, 0)
	e := newTestExecutor(runner, pq, prof, 1)

	// deadline already in the past relative to now+forward latency: must be
	// dropped as a virtual output rather than included in the batch.
	pastDeadline := time.UnixMilli(mtp.GetWallTimeMs())
	tk := task.NewTask(1, pastDeadline, [][]byte{[]byte("late")})
	require.NoError(t, e.AddTask(tk))

	require.NoError(t, e.Execute(context.Background()))
	assert.Equal(t, 0, runner.calls, "forward must not run when every input misses its deadline")
	require.Len(t, pq.tasks, 1)
	outs := pq.tasks[0].Outputs()
	require.Len(t, outs, 1)
	assert.False(t, outs[0].Real)
	assert.Equal(t, "deadlineExceeded", outs[0].Reason)
}

func TestExecutor_ForwardFailureFailsWholeBatch(t *testing.T) {
	withMockTime(t, 0)
	runner := &fakeRunner{failNext: true}
	pq := &recordingQueue{}
	e := newTestExecutor(runner, pq, nil, 4)

	var tasks []*task.Task
	for i := uint64(0); i < 3; i++ {
		tk := task.NewTask(i, time.Now().Add(time.Hour), [][]byte{[]byte("x")})
		tasks = append(tasks, tk)
		require.NoError(t, e.AddTask(tk))
	}

	err := e.Execute(context.Background())
	require.Error(t, err)
	require.Len(t, pq.tasks, 3)
	for _, tk := range tasks {
		assert.Equal(t, task.StatusFailed, tk.Status())
		assert.True(t, tk.IsComplete())
	}
}

func TestExecutor_FanoutAttachesRealOutputsAndCompletesTask(t *testing.T) {
	withMockTime(t, 0)
	runner := &fakeRunner{}
	pq := &recordingQueue{}
	e := newTestExecutor(runner, pq, nil, 4)

	tk := task.NewTask(42, time.Now().Add(time.Hour), [][]byte{[]byte("a"), []byte("b")})
	require.NoError(t, e.AddTask(tk))

	require.NoError(t, e.Execute(context.Background()))
	require.Len(t, pq.tasks, 1)
	assert.True(t, pq.tasks[0].IsComplete())
	outs := pq.tasks[0].Outputs()
	require.Len(t, outs, 2)
	assert.True(t, outs[0].Real)
	assert.Equal(t, []byte("a"), outs[0].Data)
	assert.True(t, outs[1].Real)
	assert.Equal(t, []byte("b"), outs[1].Data)
}

func TestExecutor_DuplicateTaskIdRejected(t *testing.T) {
	withMockTime(t, 0)
	e := newTestExecutor(&fakeRunner{}, &recordingQueue{}, nil, 4)
	tk := task.NewTask(1, time.Now().Add(time.Hour), [][]byte{[]byte("x")})
	require.NoError(t, e.AddTask(tk))
	require.Error(t, e.AddTask(tk))
}
