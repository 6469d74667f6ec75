// Package saga sequences reversible steps across independently-failing
// backends. It holds no persistent log: recovery after a process crash
// mid-run is out of scope, so runs must stay bounded by a single
// request/invocation lifetime.
package saga

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/halcyonops/sandbox-control-plane/internal/metrics"
)

// Step is one reversible unit of work. Begin commits the step's effect;
// Compensate undoes it after a later step fails. Compensate is only ever
// invoked for steps whose Begin succeeded.
type Step interface {
	Name() string
	Begin(ctx context.Context) error
	Compensate(ctx context.Context) error
}

type funcStep struct {
	name       string
	begin      func(ctx context.Context) error
	compensate func(ctx context.Context) error
}

func (s funcStep) Name() string                    { return s.name }
func (s funcStep) Begin(ctx context.Context) error { return s.begin(ctx) }
func (s funcStep) Compensate(ctx context.Context) error {
	if s.compensate == nil {
		return nil
	}
	return s.compensate(ctx)
}

// New builds a Step from a begin/compensate pair. compensate may be nil for
// steps with no inverse.
func New(name string, begin, compensate func(ctx context.Context) error) Step {
	return funcStep{name: name, begin: begin, compensate: compensate}
}

// Error reports a failed run that was fully rolled back: every completed
// step's compensation succeeded, so the caller may retry.
type Error struct {
	Step  string
	Cause error
}

func (e *Error) Error() string {
	return fmt.Sprintf("saga failed at step %s: %v", e.Step, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// CompensationError reports a failed run that could NOT be fully rolled
// back. System state may be inconsistent; this is fatal and requires
// operator attention, never an automatic retry.
type CompensationError struct {
	Step         string
	Cause        error
	Compensation error
}

func (e *CompensationError) Error() string {
	return fmt.Sprintf("saga failed at step %s and compensation failed: %v (cause: %v)", e.Step, e.Compensation, e.Cause)
}

func (e *CompensationError) Unwrap() error { return e.Compensation }

// Run executes steps strictly in order. On the first Begin failure it
// compensates the already-completed steps in reverse order, attempting
// every compensation regardless of individual outcomes and aggregating
// their errors. A zero- or single-step run degenerates to a plain call.
func Run(ctx context.Context, steps ...Step) error {
	for i, step := range steps {
		err := step.Begin(ctx)
		if err == nil {
			continue
		}

		var compErrs []error
		for j := i - 1; j >= 0; j-- {
			status := "ok"
			if cerr := steps[j].Compensate(ctx); cerr != nil {
				status = "error"
				log.Printf("event=saga_compensation_failed step=%s err=%q", steps[j].Name(), cerr.Error())
				compErrs = append(compErrs, fmt.Errorf("compensate %s: %w", steps[j].Name(), cerr))
			}
			metrics.Default().IncCounter("sbx_saga_compensations_total", map[string]string{
				"step":   steps[j].Name(),
				"status": status,
			})
		}
		if len(compErrs) > 0 {
			return &CompensationError{
				Step:         step.Name(),
				Cause:        err,
				Compensation: errors.Join(compErrs...),
			}
		}
		return &Error{Step: step.Name(), Cause: err}
	}
	return nil
}
