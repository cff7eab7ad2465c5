// Package saga runs a sequence of steps and undoes the completed ones when a
// later step fails.
package saga

import (
	"context"
	"errors"
	"fmt"
)

// Step is one unit of work. Compensate may be nil when there is nothing to
// undo.
type Step struct {
	Name       string
	Execute    func(ctx context.Context) error
	Compensate func(ctx context.Context) error
}

// Saga is an ordered list of steps.
type Saga struct {
	name  string
	steps []Step
}

func New(name string) *Saga {
	return &Saga{name: name}
}

func (s *Saga) AddStep(step Step) *Saga {
	s.steps = append(s.steps, step)
	return s
}

// StepError reports the step that failed and anything that went wrong while
// undoing the steps before it. It unwraps to the step's own error.
type StepError struct {
	Saga          string
	Step          string
	Err           error
	CompensateErr error
}

func (e *StepError) Error() string {
	if e.CompensateErr != nil {
		return fmt.Sprintf("saga %s: step %q failed (%v), compensation also failed: %v", e.Saga, e.Step, e.Err, e.CompensateErr)
	}
	return fmt.Sprintf("saga %s: step %q failed: %v", e.Saga, e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Execute runs the steps in order and returns -1, nil when all succeed.
// Otherwise it compensates the completed steps in reverse order and returns
// the index of the failed step with a *StepError. Compensation ignores the
// cancellation of ctx; a request that timed out still gets cleaned up.
func (s *Saga) Execute(ctx context.Context) (failedStep int, err error) {
	for i, step := range s.steps {
		if err := step.Execute(ctx); err != nil {
			return i, &StepError{
				Saga:          s.name,
				Step:          step.Name,
				Err:           err,
				CompensateErr: s.compensate(context.WithoutCancel(ctx), i),
			}
		}
	}
	return -1, nil
}

// compensate undoes steps [0, failed) last first and joins their errors.
func (s *Saga) compensate(ctx context.Context, failed int) error {
	var errs []error
	for i := failed - 1; i >= 0; i-- {
		step := s.steps[i]
		if step.Compensate == nil {
			continue
		}
		if err := step.Compensate(ctx); err != nil {
			errs = append(errs, fmt.Errorf("compensate step %q: %w", step.Name, err))
		}
	}
	return errors.Join(errs...)
}
