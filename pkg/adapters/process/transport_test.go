package process_test

import (
	"context"
	"errors"
	"io"
	"runtime"
	"strings"
	"testing"

	"github.com/aretw0/quill/pkg/adapters/process"
	"github.com/aretw0/quill/pkg/domain"
	"github.com/aretw0/quill/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("process kernels are exercised with sh")
	}
}

func startSession(t *testing.T, tr *process.Transport, name string) string {
	t.Helper()
	id, err := tr.StartSession(context.Background(), ports.KernelSpec{Name: name})
	require.NoError(t, err)
	return id
}

func collect(t *testing.T, stream ports.EventStream) ([]domain.ExecutionEvent, error) {
	t.Helper()
	defer stream.Close()
	var events []domain.ExecutionEvent
	for {
		ev, err := stream.Next(context.Background())
		if err != nil {
			return events, err
		}
		events = append(events, ev)
	}
}

func streamText(events []domain.ExecutionEvent, name domain.StreamName) string {
	var sb strings.Builder
	for _, ev := range events {
		if s, ok := ev.(domain.StreamEvent); ok && s.Name == name {
			sb.WriteString(s.Text)
		}
	}
	return sb.String()
}

func TestTransport_TextProtocol(t *testing.T) {
	requireShell(t)
	tr := process.NewTransport(process.WithRegistry(process.DefaultKernels()))
	id := startSession(t, tr, "sh")

	t.Run("Streams stdout and stderr", func(t *testing.T) {
		stream, err := tr.Dispatch(context.Background(), id, "echo hello\necho oops 1>&2\necho world\n")
		require.NoError(t, err)

		events, err := collect(t, stream)
		assert.ErrorIs(t, err, io.EOF)
		assert.Equal(t, "hello\nworld\n", streamText(events, domain.Stdout))
		assert.Equal(t, "oops\n", streamText(events, domain.Stderr))
	})

	t.Run("Reports non-zero exit", func(t *testing.T) {
		stream, err := tr.Dispatch(context.Background(), id, "echo before\nexit 3\n")
		require.NoError(t, err)

		events, err := collect(t, stream)
		assert.ErrorIs(t, err, io.EOF)
		require.NotEmpty(t, events)
		last, ok := events[len(events)-1].(domain.ErrorEvent)
		require.True(t, ok)
		assert.Equal(t, process.ExitErrorName, last.Name)
		assert.Equal(t, "exit status 3", last.Message)
	})
}

func TestTransport_ExecutionCount(t *testing.T) {
	requireShell(t)
	tr := process.NewTransport(process.WithRegistry(process.DefaultKernels()))
	id := startSession(t, tr, "sh")

	for _, want := range []string{"1\n", "2\n"} {
		stream, err := tr.Dispatch(context.Background(), id, "echo $QUILL_EXECUTION_COUNT")
		require.NoError(t, err)
		events, err := collect(t, stream)
		require.ErrorIs(t, err, io.EOF)
		assert.Equal(t, want, streamText(events, domain.Stdout))
	}
}

func TestTransport_JSONLProtocol(t *testing.T) {
	requireShell(t)
	tr := process.NewTransport()
	tr.Register(process.KernelConfig{Name: "events", Command: "sh", Protocol: process.ProtocolJSONL})
	id := startSession(t, tr, "events")

	code := `printf '%s\n' '{"event":"stdout","data":"hi"}'
printf '%s\n' '{"event":"execute_result","data":{"execution_count":4,"data":{"text/plain":"42"},"metadata":{}}}'
printf '%s\n' '{"event":"comm_msg","data":{}}'
`
	stream, err := tr.Dispatch(context.Background(), id, code)
	require.NoError(t, err)

	events, err := collect(t, stream)
	assert.ErrorIs(t, err, io.EOF)
	require.Len(t, events, 3)
	assert.Equal(t, domain.StreamEvent{Name: domain.Stdout, Text: "hi"}, events[0])
	res, ok := events[1].(domain.ExecuteResultEvent)
	require.True(t, ok)
	assert.Equal(t, 4, res.ExecutionCount)
	_, ok = events[2].(domain.UnknownEvent)
	assert.True(t, ok)
}

func TestTransport_JSONLDisconnect(t *testing.T) {
	requireShell(t)
	tr := process.NewTransport()
	tr.Register(process.KernelConfig{Name: "events", Command: "sh", Protocol: process.ProtocolJSONL})
	id := startSession(t, tr, "events")

	code := `printf '%s\n' '{"event":"stdout","data":"partial"}'
printf '%s\n' '{"event":"disconnect","data":"kernel died"}'
`
	stream, err := tr.Dispatch(context.Background(), id, code)
	require.NoError(t, err)

	events, err := collect(t, stream)
	assert.Len(t, events, 1)
	assert.True(t, errors.Is(err, domain.ErrKernelDisconnected))
}

func TestTransport_Registry(t *testing.T) {
	tr := process.NewTransport()

	_, err := tr.StartSession(context.Background(), ports.KernelSpec{Name: "hacker_kernel"})
	assert.ErrorContains(t, err, "not registered")

	tr.Register(process.KernelConfig{Name: "missing", Command: "definitely-not-a-real-binary-quill"})
	_, err = tr.StartSession(context.Background(), ports.KernelSpec{Name: "missing"})
	assert.Error(t, err)

	_, err = tr.Dispatch(context.Background(), "no-session", "x")
	assert.Error(t, err)
}
