package worker

import (
	"context"
	"errors"
)

// JobHandler executes one type of background job. Type must match the
// job_type column written by EnqueueJob.
type JobHandler interface {
	Type() string

	// Handle receives the raw JSON payload stored with the job. Return a
	// PermanentError to fail the job without further attempts.
	Handle(ctx context.Context, payload []byte) error
}

// HandlerFunc adapts a plain function to JobHandler.
type HandlerFunc struct {
	JobType string
	Fn      func(ctx context.Context, payload []byte) error
}

func (h HandlerFunc) Type() string { return h.JobType }

func (h HandlerFunc) Handle(ctx context.Context, payload []byte) error {
	return h.Fn(ctx, payload)
}

// PermanentError marks a job failure that retrying cannot fix, such as a
// payload that no longer decodes.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return "permanent: " + e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// NewPermanentError wraps err. A nil err stays nil.
func NewPermanentError(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err or anything it wraps is a PermanentError.
func IsPermanent(err error) bool {
	var permErr *PermanentError
	return errors.As(err, &permErr)
}
