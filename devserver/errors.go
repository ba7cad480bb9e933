package devserver

import (
	"fmt"
	"net/http"

	"github.com/pcviewer/viewerkit/internal/execx"
)

// RequestError is a problem with what the client sent.
type RequestError struct {
	Status int
	Msg    string
}

func (e *RequestError) Error() string { return e.Msg }

func badRequestf(format string, args ...interface{}) error {
	return &RequestError{Status: http.StatusBadRequest, Msg: fmt.Sprintf(format, args...)}
}

// ExternalProcessError is a conversion run that failed to start, exited
// non-zero or ran out of time.
type ExternalProcessError struct {
	Result execx.Result
	Err    error
}

func (e *ExternalProcessError) Error() string {
	return fmt.Sprintf("conversion failed (exit code %d): %v", e.Result.ExitCode, e.Err)
}

func (e *ExternalProcessError) Unwrap() error { return e.Err }
