package process_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/aretw0/quill/pkg/adapters/process"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadKernels(t *testing.T) {
	dir := t.TempDir()

	t.Run("YAML", func(t *testing.T) {
		path := filepath.Join(dir, "kernels.yaml")
		content := `
kernels:
  - name: py
    language: python
    command: python3
    args: ["-u", "-"]
    env:
      PYTHONHASHSEED: "0"
  - name: events
    command: ./kernel.sh
    protocol: jsonl
  - command: ignored-without-name
`
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))

		kernels, err := process.LoadKernels(path)
		require.NoError(t, err)
		require.Len(t, kernels, 2)
		assert.Equal(t, []string{"-u", "-"}, kernels["py"].Args)
		assert.Equal(t, process.ProtocolText, kernels["py"].Protocol)
		assert.Equal(t, "0", kernels["py"].Environment["PYTHONHASHSEED"])
		assert.Equal(t, process.ProtocolJSONL, kernels["events"].Protocol)
	})

	t.Run("JSON", func(t *testing.T) {
		path := filepath.Join(dir, "kernels.json")
		content := `{"kernels": [{"name": "sh", "command": "sh"}]}`
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))

		kernels, err := process.LoadKernels(path)
		require.NoError(t, err)
		assert.Equal(t, "sh", kernels["sh"].Command)
	})

	t.Run("Missing file", func(t *testing.T) {
		kernels, err := process.LoadKernels(filepath.Join(dir, "nope.yaml"))
		require.NoError(t, err)
		assert.Empty(t, kernels)
	})

	t.Run("Invalid protocol", func(t *testing.T) {
		path := filepath.Join(dir, "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("kernels:\n  - name: x\n    command: sh\n    protocol: zmq\n"), 0644))
		_, err := process.LoadKernels(path)
		assert.ErrorContains(t, err, "unknown protocol")
	})
}
