package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrKeyRequired   = errors.New("api key required")
	ErrSessionClosed = errors.New("session closed")
)

// ErrorKind classifies why a generation run stopped.
type ErrorKind string

const (
	KindSubmissionFailed   ErrorKind = "submission_failed"
	KindPollingFailed      ErrorKind = "polling_failed"
	KindNoArtifactProduced ErrorKind = "no_artifact_produced"
	KindDownloadFailed     ErrorKind = "download_failed"
	KindCancelled          ErrorKind = "cancelled"
	KindBusy               ErrorKind = "busy"
	KindInvalidRequest     ErrorKind = "invalid_request"
)

// Kind sentinels. errors.Is matches any *JobError of the same kind.
var (
	ErrSubmissionFailed   = &JobError{Kind: KindSubmissionFailed}
	ErrPollingFailed      = &JobError{Kind: KindPollingFailed}
	ErrNoArtifactProduced = &JobError{Kind: KindNoArtifactProduced}
	ErrDownloadFailed     = &JobError{Kind: KindDownloadFailed}
	ErrCancelled          = &JobError{Kind: KindCancelled}
	ErrBusy               = &JobError{Kind: KindBusy}
	ErrInvalidRequest     = &JobError{Kind: KindInvalidRequest}
)

// ErrDeadlineExceeded is the cause attached to runs cancelled by the
// configured maximum duration.
var ErrDeadlineExceeded = errors.New("generation deadline exceeded")

// JobError carries a stable kind plus the underlying cause when one exists.
type JobError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func NewJobError(kind ErrorKind, message string, cause error) *JobError {
	return &JobError{Kind: kind, Message: message, Err: cause}
}

func (e *JobError) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err == nil {
		return msg
	}
	return msg + ": " + e.Err.Error()
}

func (e *JobError) Unwrap() error { return e.Err }

func (e *JobError) Is(target error) bool {
	t, ok := target.(*JobError)
	if !ok || e == nil || t == nil {
		return false
	}
	return e.Kind == t.Kind
}

// KindOf returns the kind of the first JobError in err's chain, or "".
func KindOf(err error) ErrorKind {
	var jobErr *JobError
	if errors.As(err, &jobErr) {
		return jobErr.Kind
	}
	return ""
}
