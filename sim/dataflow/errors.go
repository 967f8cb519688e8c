package dataflow

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// CalculationError carries the trail of component names a failure propagated
// through, outermost (closest to the source that started the cycle) first.
type CalculationError struct {
	Path []string
	Err  error
}

func (e *CalculationError) Error() string {
	return fmt.Sprintf("calculation failed in %s: %v", strings.Join(e.Path, " > "), e.Err)
}

// Cause returns the original error, for errors.Cause.
func (e *CalculationError) Cause() error { return e.Err }

// Unwrap returns the original error, for errors.Is and errors.As.
func (e *CalculationError) Unwrap() error { return e.Err }

// Origin returns the name of the component where the failure started.
func (e *CalculationError) Origin() string {
	if len(e.Path) == 0 {
		return ""
	}
	return e.Path[len(e.Path)-1]
}

// annotate records that err propagated through the named component.
func annotate(name string, err error) error {
	var ce *CalculationError
	if errors.As(err, &ce) {
		if len(ce.Path) > 0 && ce.Path[0] == name {
			return ce
		}
		ce.Path = append([]string{name}, ce.Path...)
		return ce
	}
	return &CalculationError{Path: []string{name}, Err: errors.WithStack(err)}
}
