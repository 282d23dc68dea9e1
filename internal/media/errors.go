package media

import (
	"errors"
	"fmt"
)

var (
	ErrNoDevice         = errors.New("no capture device available")
	ErrPermission       = errors.New("capture device not readable")
	ErrNothingRequested = errors.New("neither audio nor video requested")
)

// AcquisitionError reports why the local capability could not be acquired.
type AcquisitionError struct {
	Kind Kind
	Err  error
}

func (e *AcquisitionError) Error() string {
	if e.Kind == "" {
		return fmt.Sprintf("acquire media: %v", e.Err)
	}
	return fmt.Sprintf("acquire %s: %v", e.Kind, e.Err)
}

func (e *AcquisitionError) Unwrap() error {
	return e.Err
}
