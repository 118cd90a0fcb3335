package pipeline

import (
	"context"
	"fmt"

	"github.com/metaground/retrieval-engine/internal/errs"
)

// StageFunc is the shape every pipeline stage implements: read the
// accumulated State, return a delta to merge into it. Defined here
// (rather than in package stages) so Runtime has no import-cycle with
// the stage implementations, which themselves depend on pipeline.State.
type StageFunc func(ctx context.Context, st State) (State, error)

// Runtime executes a named sequence of stages against a session's
// State, persisting after every stage so a re-run from any point is
// resumable.
type Runtime struct {
	store Store
}

// NewRuntime builds a Runtime over the given Store.
func NewRuntime(store Store) *Runtime {
	return &Runtime{store: store}
}

// Run loads sessionID's State, merges `initial` onto it (the caller's
// way of seeding db_code/query on a fresh session), then runs each
// named stage in order, persisting the merged State after each one.
// It returns the final State.
func (r *Runtime) Run(ctx context.Context, sessionID string, initial State, stages map[string]StageFunc, order []string) (State, error) {
	st, err := r.store.Load(ctx, sessionID)
	if err != nil {
		return State{}, err
	}
	st.Merge(initial)

	for _, name := range order {
		fn, ok := stages[name]
		if !ok {
			return State{}, errs.New(errs.KindConfig, "pipeline_run", fmt.Errorf("unknown stage %q", name))
		}
		patch, err := fn(ctx, st)
		if err != nil {
			return State{}, fmt.Errorf("stage %q: %w", name, err)
		}
		st.Merge(patch)
		if err := r.store.Save(ctx, sessionID, st); err != nil {
			return State{}, err
		}
	}
	return st, nil
}

// RunOne runs a single named stage, for CLI invocations that target
// one stage at a time instead of the full sequence.
func (r *Runtime) RunOne(ctx context.Context, sessionID, stage string, fn StageFunc) (State, error) {
	return r.Run(ctx, sessionID, State{}, map[string]StageFunc{stage: fn}, []string{stage})
}
