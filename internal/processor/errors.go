package processor

import "fmt"

type ErrorKind string

const (
	KindConfiguration       ErrorKind = "configuration"
	KindCacheAccess         ErrorKind = "cache-access"
	KindDifferencing        ErrorKind = "differencing"
	KindProviderUnavailable ErrorKind = "provider-unavailable"
	KindProviderFailure     ErrorKind = "provider-failure"
	KindCalibration         ErrorKind = "calibration"
)

// FrameError is the structured error carried by frame-processing-error
// events.
type FrameError struct {
	Kind    ErrorKind `json:"kind"`
	Op      string    `json:"op"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
}

func newFrameError(kind ErrorKind, op string, err error) *FrameError {
	return &FrameError{Kind: kind, Op: op, Message: err.Error(), Err: err}
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Kind, e.Op, e.Message)
}

func (e *FrameError) Unwrap() error {
	return e.Err
}
