package toolhost

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/campusagent/pkg/provider/llm"
)

// Dispatcher fans one batch of tool calls out over a bounded set of workers.
type Dispatcher struct {
	invoker    *Invoker
	maxWorkers int
}

// NewDispatcher returns a dispatcher running at most maxWorkers calls at once.
// Values below 1 are treated as 1.
func NewDispatcher(inv *Invoker, maxWorkers int) *Dispatcher {
	return &Dispatcher{invoker: inv, maxWorkers: max(1, maxWorkers)}
}

// Workers returns the number of workers a batch of n calls gets.
func (d *Dispatcher) Workers(n int) int {
	return max(1, min(d.maxWorkers, n))
}

// Dispatch runs every call and blocks until all of them have finished. The
// returned outcomes are in completion order, one per call; match them to
// calls by [Outcome.Call] id, never by position. A failing call does not
// affect its siblings and nothing is retried.
func (d *Dispatcher) Dispatch(ctx context.Context, calls []llm.ToolCall) []Outcome {
	if len(calls) == 0 {
		return nil
	}

	done := make(chan Outcome, len(calls))
	var g errgroup.Group
	g.SetLimit(d.Workers(len(calls)))
	for _, call := range calls {
		g.Go(func() error {
			done <- d.invoker.Invoke(ctx, call)
			return nil
		})
	}
	_ = g.Wait() // workers never return errors
	close(done)

	outcomes := make([]Outcome, 0, len(calls))
	for o := range done {
		outcomes = append(outcomes, o)
	}
	return outcomes
}
