package era5

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrConfiguration reports contradictory or missing date-range inputs. It is
	// the only error that aborts a run.
	ErrConfiguration = errors.New("invalid date range configuration")

	// ErrConfigValidation reports an unusable download configuration.
	ErrConfigValidation = errors.New("invalid download configuration")

	// ErrRetrieval wraps any failure returned by the retrieval client.
	ErrRetrieval = errors.New("retrieval failed")

	// ErrPostCondition reports a retrieval that claimed success but left no usable file.
	ErrPostCondition = errors.New("downloaded file failed post-conditions")

	// ErrCleanup reports a temporary directory that could not be removed.
	ErrCleanup = errors.New("temporary directory cleanup failed")
)

// ErrorKind names the class of err for logs. An error in the chain with a
// Kind method wins. Otherwise it is the type of the outermost error that is
// not a plain message or %w wrapper, falling back to the innermost type.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	var k interface{ Kind() string }
	if errors.As(err, &k) {
		return k.Kind()
	}
	switch {
	case errors.Is(err, context.Canceled):
		return "Canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "DeadlineExceeded"
	}

	for {
		kind := fmt.Sprintf("%T", err)
		switch kind {
		case "*errors.errorString", "*fmt.wrapError", "*fmt.wrapErrors", "*errors.joinError":
		default:
			return kind
		}
		next := unwrapFirst(err)
		if next == nil {
			return kind
		}
		err = next
	}
}

func unwrapFirst(err error) error {
	switch e := err.(type) {
	case interface{ Unwrap() error }:
		return e.Unwrap()
	case interface{ Unwrap() []error }:
		if errs := e.Unwrap(); len(errs) > 0 {
			return errs[0]
		}
	}
	return nil
}
