package observability_test

import (
	"context"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aretw0/quill/pkg/domain"
	"github.com/aretw0/quill/pkg/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *observability.Metrics) string {
	t.Helper()
	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

func TestMetrics_Hooks(t *testing.T) {
	m := observability.NewMetrics(prometheus.NewRegistry())
	hooks := m.Hooks()
	ctx := context.Background()

	info := &domain.ExecutionInfo{CellID: "a"}
	hooks.OnExecuteStart(ctx, info)
	hooks.OnEvent(ctx, info, domain.StreamEvent{Name: domain.Stdout, Text: "x"})
	hooks.OnEvent(ctx, info, domain.StreamEvent{Name: domain.Stdout, Text: "y"})
	hooks.OnEvent(ctx, info, domain.ErrorEvent{Name: "E"})

	body := scrape(t, m)
	assert.Contains(t, body, "quill_cell_executions_in_flight 1")

	info.Status = domain.StatusError
	info.Duration = 250 * time.Millisecond
	hooks.OnExecuteFinish(ctx, info)

	body = scrape(t, m)
	assert.Contains(t, body, `quill_execution_events_total{kind="stdout"} 2`)
	assert.Contains(t, body, `quill_execution_events_total{kind="error"} 1`)
	assert.Contains(t, body, `quill_cell_executions_total{status="error"} 1`)
	assert.Contains(t, body, `quill_cell_execution_duration_seconds_count{status="error"} 1`)
	assert.Contains(t, body, "quill_cell_executions_in_flight 0")
}

func TestCombine(t *testing.T) {
	var calls []string
	record := func(name string) domain.LifecycleHooks {
		return domain.LifecycleHooks{
			OnExecuteStart:  func(context.Context, *domain.ExecutionInfo) { calls = append(calls, name+":start") },
			OnExecuteFinish: func(context.Context, *domain.ExecutionInfo) { calls = append(calls, name+":finish") },
		}
	}

	hooks := observability.Combine(record("a"), domain.LifecycleHooks{}, record("b"))
	assert.Nil(t, hooks.OnEvent)

	hooks.OnExecuteStart(context.Background(), &domain.ExecutionInfo{})
	hooks.OnExecuteFinish(context.Background(), &domain.ExecutionInfo{})
	assert.Equal(t, []string{"a:start", "b:start", "a:finish", "b:finish"}, calls)
}
