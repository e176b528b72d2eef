// Package gather runs independent sub-calls concurrently and collects
// one outcome per call. A failing or panicking call never cancels its
// siblings; its error is captured in its own slot.
package gather

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultLimit bounds concurrent sub-calls per gather.
const DefaultLimit = 6

// Task is one named sub-call.
type Task struct {
	Name string
	Run  func(ctx context.Context) (any, error)
}

// Outcome is the result of one Task. Exactly one of Value or Err is
// meaningful.
type Outcome struct {
	Name    string
	Value   any
	Err     error
	Elapsed time.Duration
}

// All runs tasks with at most limit in flight (limit <= 0 uses
// DefaultLimit) and returns outcomes in task order. Each task gets ctx
// unchanged; the group never derives a cancelling context.
func All(ctx context.Context, limit int, tasks ...Task) []Outcome {
	if limit <= 0 {
		limit = DefaultLimit
	}
	out := make([]Outcome, len(tasks))

	var g errgroup.Group
	g.SetLimit(limit)
	for i, task := range tasks {
		g.Go(func() error {
			out[i] = run(ctx, task)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func run(ctx context.Context, task Task) (o Outcome) {
	o.Name = task.Name
	start := time.Now()
	defer func() {
		o.Elapsed = time.Since(start)
		if r := recover(); r != nil {
			o.Value = nil
			o.Err = fmt.Errorf("%s panicked: %v", task.Name, r)
		}
	}()

	if err := ctx.Err(); err != nil {
		o.Err = err
		return o
	}
	o.Value, o.Err = task.Run(ctx)
	return o
}

// Failed returns the names of failed outcomes.
func Failed(outcomes []Outcome) []string {
	var names []string
	for _, o := range outcomes {
		if o.Err != nil {
			names = append(names, o.Name)
		}
	}
	return names
}

// Report folds outcomes into a bundled tool result. Each task becomes a
// top-level section holding its value, or {"error": msg} when it
// failed. The top level always has "success": true plus a list of
// failed sections; with no outcomes at all it reports success false.
func Report(outcomes []Outcome) map[string]any {
	if len(outcomes) == 0 {
		return map[string]any{
			"success": false,
			"error":   "no sections could be run",
		}
	}

	out := map[string]any{"success": true}
	failed := []string{}
	for _, o := range outcomes {
		if o.Err != nil {
			out[o.Name] = map[string]any{"error": o.Err.Error()}
			failed = append(failed, o.Name)
			continue
		}
		out[o.Name] = o.Value
	}
	out["failed_sections"] = failed
	out["partial"] = len(failed) > 0
	return out
}
