package workload

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_ParsesEntries(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "workload.yml")
	content := `
- framework: tensorflow
  model_name: vgg16
  version: 1
  latency_sla: 100
  batch: 4
- framework: caffe2
  model_name: resnet50
  version: 2
  latency_sla: 50
  image_height: 224
  image_width: 224
  batch: 8
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	entries, err := Load(path)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "tensorflow", entries[0].Framework)
	assert.Equal(t, uint32(4), entries[0].Batch)
	assert.Equal(t, uint32(0), entries[0].ImageHeight)

	assert.Equal(t, "caffe2", entries[1].Framework)
	assert.Equal(t, uint32(224), entries[1].ImageHeight)
	assert.Equal(t, uint32(224), entries[1].ImageWidth)

	sess := entries[1].ModelSession()
	assert.Equal(t, "resnet50", sess.ModelName)
	assert.Equal(t, uint32(2), sess.Version)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/workload.yml")
	require.Error(t, err)
}
