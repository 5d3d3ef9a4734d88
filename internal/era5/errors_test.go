package era5

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

type kindedError struct{}

func (kindedError) Error() string { return "job failed" }
func (kindedError) Kind() string  { return "JobFailed" }

func TestErrorKind(t *testing.T) {
	_, statErr := os.Stat("/definitely/not/here")

	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "nil", err: nil, want: ""},
		{name: "plain message", err: errors.New("boom"), want: "*errors.errorString"},
		{name: "wrapped message", err: fmt.Errorf("submit: %w", errors.New("boom")), want: "*errors.errorString"},
		{name: "wrapped typed error", err: fmt.Errorf("write: %w", statErr), want: "*fs.PathError"},
		{name: "kind method wins", err: fmt.Errorf("%w: %w", ErrRetrieval, kindedError{}), want: "JobFailed"},
		{name: "cancelled", err: fmt.Errorf("poll: %w", context.Canceled), want: "Canceled"},
		{name: "deadline", err: fmt.Errorf("poll: %w", context.DeadlineExceeded), want: "DeadlineExceeded"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ErrorKind(tt.err))
		})
	}
}
