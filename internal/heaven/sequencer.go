package heaven

import (
	"context"
	"fmt"
	"time"

	"github.com/example/heaven-sync/internal/browser"
	"github.com/example/heaven-sync/internal/logging"
)

// progress is what the sequencer knows about an attempt when it stops.
type progress struct {
	completed []StepName
}

// runSteps executes steps in order against w. The first error stops the run
// and comes back as a *StepFailure; no step is retried or skipped.
func runSteps(ctx context.Context, steps []step, sess Session, w *workflow) (progress, error) {
	var p progress
	logger := logging.FromContext(ctx)
	for _, st := range steps {
		if st.enters != browser.StateUnopened && sess.State() != st.enters {
			if err := sess.Advance(st.enters); err != nil {
				return p, fail(st, w, &UnexpectedError{Err: err})
			}
		}

		start := time.Now()
		logger.Info("step started", "step", st.name)
		if err := runStep(ctx, st, w); err != nil {
			logger.Error("step failed", "step", st.name, "error", err,
				"elapsed", time.Since(start).Round(time.Millisecond), "after_submit", w.remoteCreated)
			return p, fail(st, w, err)
		}
		logger.Info("step finished", "step", st.name, "elapsed", time.Since(start).Round(time.Millisecond))
		p.completed = append(p.completed, st.name)

		if st.establishes != browser.StateUnopened {
			if err := sess.Advance(st.establishes); err != nil {
				return p, fail(st, w, &UnexpectedError{Err: err})
			}
		}
	}
	return p, nil
}

func fail(st step, w *workflow, err error) *StepFailure {
	recordStepFailure(st.name)
	return &StepFailure{Step: st.name, Err: classify(err), AfterSubmit: w.remoteCreated}
}

// runStep turns a panic inside a step into an UnexpectedError so teardown
// still happens on the normal path.
func runStep(ctx context.Context, st step, w *workflow) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &UnexpectedError{Err: fmt.Errorf("panic in step %s: %v", st.name, r)}
		}
	}()
	return st.run(ctx, w)
}
