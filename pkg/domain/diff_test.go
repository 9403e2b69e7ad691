package domain_test

import (
	"testing"
	"time"

	"github.com/aretw0/quill/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiffResult(t *testing.T) {
	running := domain.NewResult(t0)
	withA := domain.Apply(running, stdout("a"))
	withAB := domain.Apply(withA, stdout("b"))

	tests := []struct {
		name string
		old  *domain.Result
		new  *domain.Result
		want *domain.ResultDiff
	}{
		{
			name: "No change",
			old:  &withA,
			new:  &withA,
			want: nil,
		},
		{
			name: "Cleared",
			old:  &withA,
			new:  nil,
			want: &domain.ResultDiff{CellID: "c1", Cleared: true},
		},
		{
			name: "Both nil",
			old:  nil,
			new:  nil,
			want: nil,
		},
		{
			name: "Merged stream replaces last output",
			old:  &withA,
			new:  &withAB,
			want: &domain.ResultDiff{
				CellID: "c1",
				Outputs: &domain.OutputsDelta{
					Keep:     1,
					Replaced: map[int]domain.Output{0: domain.NewStreamOutput(domain.Stdout, "ab")},
				},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := domain.DiffResult("c1", tt.old, tt.new, false)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDiffResult_ReplayMatchesTarget(t *testing.T) {
	steps := []domain.ExecutionEvent{
		stdout("a"),
		stderr("b"),
		domain.DisplayDataEvent{Data: domain.MimeBundle{"text/plain": "v1"}, DisplayID: "x"},
		domain.UpdateDisplayDataEvent{Data: domain.MimeBundle{"text/plain": "v2"}, DisplayID: "x"},
		domain.ClearOutputEvent{Wait: true},
		stdout("z"),
		domain.ExecuteResultEvent{ExecutionCount: 4, Data: domain.MimeBundle{"text/plain": "4"}},
	}

	var client *domain.Result
	server := domain.NewResult(t0)
	if d := domain.DiffResult("c1", nil, &server, false); d != nil {
		client = d.ApplyTo(client)
	}

	for _, ev := range steps {
		prev := server
		server = domain.Apply(server, ev)
		if d := domain.DiffResult("c1", &prev, &server, false); d != nil {
			client = d.ApplyTo(client)
		}
	}
	prev := server
	server = domain.Complete(server, t0.Add(time.Second))
	client = domain.DiffResult("c1", &prev, &server, false).ApplyTo(client)

	require.NotNil(t, client)
	assert.Equal(t, server.Status, client.Status)
	assert.Equal(t, server.Outputs, client.Outputs)
	assert.Equal(t, *server.FinishedAt, *client.FinishedAt)
	assert.Equal(t, *server.ExecutionCount, *client.ExecutionCount)
}

func TestDiffResult_NewRunResets(t *testing.T) {
	old := domain.Complete(domain.Apply(domain.NewResult(t0), stdout("a")), t0.Add(time.Second))
	fresh := domain.NewResult(t0.Add(time.Minute))

	d := domain.DiffResult("c1", &old, &fresh, true)
	require.NotNil(t, d)
	assert.True(t, d.Reset)

	replayed := d.ApplyTo(&old)
	assert.Empty(t, replayed.Outputs)
	assert.Equal(t, domain.StatusRunning, replayed.Status)
	assert.Nil(t, replayed.FinishedAt)
}

func TestDiffResult_ResetWithSameStartTime(t *testing.T) {
	old := domain.Complete(
		domain.Apply(domain.NewResult(t0), domain.ExecuteResultEvent{ExecutionCount: 3, Data: domain.MimeBundle{"text/plain": "3"}}),
		t0,
	)
	fresh := domain.NewResult(t0)

	d := domain.DiffResult("c1", &old, &fresh, true)
	require.NotNil(t, d)
	assert.True(t, d.Reset)

	replayed := d.ApplyTo(&old)
	assert.Equal(t, domain.StatusRunning, replayed.Status)
	assert.Nil(t, replayed.FinishedAt)
	assert.Nil(t, replayed.ExecutionCount)
	assert.Empty(t, replayed.Outputs)
}
