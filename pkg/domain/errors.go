package domain

import (
	"errors"
	"fmt"
)

// SubmissionError is a failure that ends a submission. Message is what the
// user sees; Err keeps the underlying cause for logs.
type SubmissionError struct {
	Kind    ErrorKind
	Message string
	Status  int
	Err     error
}

func (e *SubmissionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// KindOf returns the kind of the SubmissionError in err's chain, or "" if none.
func KindOf(err error) ErrorKind {
	var se *SubmissionError
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}

// UserMessage reduces any error to the text shown to the user.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var se *SubmissionError
	if errors.As(err, &se) && se.Message != "" {
		return se.Message
	}
	return "An error occurred during processing"
}
