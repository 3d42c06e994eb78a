package backendnode

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/liangyuRain/nexus/internal/executor"
	"github.com/liangyuRain/nexus/internal/plan"
	"github.com/liangyuRain/nexus/internal/profile"
	"github.com/liangyuRain/nexus/internal/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoRunner struct{}

func (echoRunner) Forward(ctx context.Context, bt *task.BatchTask) error {
	outputs := make([][]byte, bt.BatchSize())
	for i, in := range bt.Inputs() {
		outputs[i] = in.Data
	}
	return bt.SetOutputs(outputs)
}

type recordingQueue struct {
	mu    sync.Mutex
	tasks []*task.Task
}

func (q *recordingQueue) Push(t *task.Task) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, t)
}

func (q *recordingQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

func TestNode_ApplyModelTable_LoadsAndRunsExecutor(t *testing.T) {
	sess := profile.ModelSession{Framework: "tensorflow", ModelName: "vgg16", Version: 1, LatencySLA: 100}
	db := profile.NewDatabase()
	db.Put("titanx", sess.ID(), profile.NewProfile(
		[]profile.BatchPoint{{Batch: 1, ForwardLatencyUs: 1000, MemoryUsageBytes: 500}}, 0, 0))

	queue := &recordingQueue{}
	n := NewNode("titanx", db, queue, func(profile.ModelSession) executor.ForwardRunner { return echoRunner{} })

	cfg := plan.InstanceConfig{ModelSession: sess, Batch: 1, MaxBatch: 1, ForwardLatencyUs: 1000, MemoryUsageBytes: 500}
	require.NoError(t, n.ApplyModelTable(context.Background(), []plan.InstanceConfig{cfg}))

	exec, ok := n.Executor(sess.ID())
	require.True(t, ok)

	tsk := task.NewTask(1, time.Now().Add(time.Hour), [][]byte{[]byte("payload")})
	require.NoError(t, exec.AddTask(tsk))

	require.Eventually(t, func() bool { return queue.len() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, task.StatusOK, tsk.Status())
}

func TestNode_ApplyModelTable_UnloadsRemovedModel(t *testing.T) {
	sess := profile.ModelSession{Framework: "tensorflow", ModelName: "vgg16", Version: 1, LatencySLA: 100}
	db := profile.NewDatabase()
	db.Put("titanx", sess.ID(), profile.NewProfile(
		[]profile.BatchPoint{{Batch: 1, ForwardLatencyUs: 1000, MemoryUsageBytes: 500}}, 0, 0))

	n := NewNode("titanx", db, &recordingQueue{}, func(profile.ModelSession) executor.ForwardRunner { return echoRunner{} })

	cfg := plan.InstanceConfig{ModelSession: sess, Batch: 1, MaxBatch: 1, ForwardLatencyUs: 1000, MemoryUsageBytes: 500}
	require.NoError(t, n.ApplyModelTable(context.Background(), []plan.InstanceConfig{cfg}))
	_, ok := n.Executor(sess.ID())
	require.True(t, ok)

	require.NoError(t, n.ApplyModelTable(context.Background(), nil))
	_, ok = n.Executor(sess.ID())
	assert.False(t, ok)
}

func TestNode_ApplyModelTable_SkipsUnservableConfig(t *testing.T) {
	sess := profile.ModelSession{Framework: "tensorflow", ModelName: "vgg16", Version: 1, LatencySLA: 100}
	db := profile.NewDatabase()
	n := NewNode("titanx", db, &recordingQueue{}, func(profile.ModelSession) executor.ForwardRunner { return echoRunner{} })

	cfg := plan.InstanceConfig{ModelSession: sess, Batch: 0}
	require.NoError(t, n.ApplyModelTable(context.Background(), []plan.InstanceConfig{cfg}))
	_, ok := n.Executor(sess.ID())
	assert.False(t, ok)
}
