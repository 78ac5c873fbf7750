package dashboard

import (
	"errors"
	"fmt"
)

var (
	// ErrLoading is returned when a selection arrives while a refresh is in flight.
	ErrLoading = errors.New("dashboard: refresh in progress")
	// ErrDataUnavailable matches every failed load or refresh.
	ErrDataUnavailable = errors.New("dashboard: data unavailable")
)

// DataUnavailableError reports a failed refresh. The engine keeps its
// previous state when one is returned.
type DataUnavailableError struct {
	Source string
	Err    error
}

func (e *DataUnavailableError) Error() string {
	if e.Source != "" {
		return fmt.Sprintf("data unavailable from %s: %v", e.Source, e.Err)
	}
	return fmt.Sprintf("data unavailable: %v", e.Err)
}

func (e *DataUnavailableError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrDataUnavailable) match.
func (e *DataUnavailableError) Is(target error) bool { return target == ErrDataUnavailable }
