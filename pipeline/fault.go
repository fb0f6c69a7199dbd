package pipeline

import (
	"errors"
	"fmt"
	"time"
)

// ComponentFault records one failure observed in a component: a callback
// error, a recovered panic, or a fatal posting violation.
type ComponentFault struct {
	Component string
	Operation string
	Err       error
	Time      time.Time
}

// Error implements the error interface
func (f ComponentFault) Error() string {
	return fmt.Sprintf("component %s: %s: %v", f.Component, f.Operation, f.Err)
}

// Unwrap returns the underlying error
func (f ComponentFault) Unwrap() error {
	return f.Err
}

// aggregateFaults joins all faults into one error with Unwrap() []error
// semantics, or nil when no fault was observed.
func aggregateFaults(faults []ComponentFault) error {
	if len(faults) == 0 {
		return nil
	}
	errs := make([]error, len(faults))
	for i, f := range faults {
		errs[i] = f
	}
	return errors.Join(errs...)
}
