package toolhost

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrWong99/campusagent/pkg/provider/llm"
)

func TestDispatcher_Workers(t *testing.T) {
	t.Parallel()

	tests := []struct {
		maxWorkers, n, want int
	}{
		{4, 1, 1},
		{4, 3, 3},
		{4, 10, 4},
		{0, 5, 1},
		{-2, 5, 1},
		{4, 0, 1},
	}
	for _, tc := range tests {
		d := NewDispatcher(nil, tc.maxWorkers)
		assert.Equal(t, tc.want, d.Workers(tc.n), "maxWorkers=%d n=%d", tc.maxWorkers, tc.n)
	}
}

func TestDispatcher_EmptyBatch(t *testing.T) {
	t.Parallel()

	d := NewDispatcher(NewInvoker(newRegistry(t)), 4)
	assert.Empty(t, d.Dispatch(context.Background(), nil))
}

func TestDispatcher_OneResultPerCall(t *testing.T) {
	t.Parallel()

	r := newRegistry(t, fnTool("echo", func(_ context.Context, args map[string]any) (any, error) {
		return args["n"], nil
	}))
	d := NewDispatcher(NewInvoker(r), 3)

	for _, n := range []int{1, 2, 7, 20} {
		calls := make([]llm.ToolCall, n)
		for i := range calls {
			calls[i] = llm.ToolCall{ID: fmt.Sprintf("call_%d", i), Name: "echo", Arguments: fmt.Sprintf(`{"n":%d}`, i)}
		}

		outcomes := d.Dispatch(context.Background(), calls)
		require.Len(t, outcomes, n)
		byID := ByID(outcomes)
		require.Len(t, byID, n, "ids must be distinct")
		for i, c := range calls {
			o, ok := byID[c.ID]
			require.True(t, ok, "missing result for %s", c.ID)
			assert.Equal(t, float64(i), o.Result.Data)
		}
	}
}

func TestDispatcher_PartialFailure(t *testing.T) {
	t.Parallel()

	r := newRegistry(t,
		constTool("google_search", []string{"result"}),
		fnTool("search_library_data", func(context.Context, map[string]any) (any, error) {
			return nil, errors.New("opac unreachable")
		}),
	)
	d := NewDispatcher(NewInvoker(r), 4)

	outcomes := ByID(d.Dispatch(context.Background(), []llm.ToolCall{
		{ID: "a", Name: "google_search", Arguments: `{"query":"sztu"}`},
		{ID: "b", Name: "search_library_data", Arguments: `{"keyword":"go"}`},
		{ID: "c", Name: "nope"},
		{ID: "d", Name: "google_search", Arguments: `{bad`},
	}))

	require.Len(t, outcomes, 4)
	assert.True(t, outcomes["a"].Result.Success)
	assert.Equal(t, "execution error: opac unreachable", outcomes["b"].Result.Error)
	assert.ErrorIs(t, outcomes["c"].Err, ErrUnknownTool)
	assert.ErrorIs(t, outcomes["d"].Err, ErrInvalidArguments)
}

func TestDispatcher_CompletionOrder(t *testing.T) {
	t.Parallel()

	fastDone := make(chan struct{})
	r := newRegistry(t,
		fnTool("slow", func(ctx context.Context, _ map[string]any) (any, error) {
			select {
			case <-fastDone:
			case <-ctx.Done():
			}
			// Give the fast call time to deliver its outcome.
			time.Sleep(50 * time.Millisecond)
			return "slow", nil
		}),
		fnTool("fast", func(context.Context, map[string]any) (any, error) {
			defer close(fastDone)
			return "fast", nil
		}),
	)
	d := NewDispatcher(NewInvoker(r), 2)

	outcomes := d.Dispatch(context.Background(), []llm.ToolCall{
		{ID: "1", Name: "slow"},
		{ID: "2", Name: "fast"},
	})
	require.Len(t, outcomes, 2)
	assert.Equal(t, "2", outcomes[0].Call.ID, "fast call finishes first despite being submitted second")
	assert.Equal(t, "1", outcomes[1].Call.ID)
}

func TestDispatcher_BoundedParallelism(t *testing.T) {
	t.Parallel()

	var active, peak atomic.Int32
	r := newRegistry(t, fnTool("work", func(context.Context, map[string]any) (any, error) {
		n := active.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		active.Add(-1)
		return nil, nil
	}))
	d := NewDispatcher(NewInvoker(r), 2)

	calls := make([]llm.ToolCall, 8)
	for i := range calls {
		calls[i] = llm.ToolCall{ID: fmt.Sprint(i), Name: "work"}
	}
	outcomes := d.Dispatch(context.Background(), calls)

	assert.Len(t, outcomes, 8)
	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.Zero(t, active.Load(), "Dispatch must not return before every call finished")
}
