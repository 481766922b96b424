package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/multierr"
)

func TestErrorIs(t *testing.T) {
	err := fmt.Errorf("applying patch: %w", VersionTooOld("receiver 1.2.3 behind 1.2.4"))

	assert.True(t, stderrors.Is(err, ErrVersionTooOld))
	assert.False(t, stderrors.Is(err, ErrVersionTooHigh))
	assert.Equal(t, ErrorTypeVersionTooOld, TypeOf(err))
	assert.Equal(t, ErrorType(""), TypeOf(stderrors.New("plain")))
}

func TestWorst(t *testing.T) {
	tests := []struct {
		name string
		errs []error
		want ErrorType
	}{
		{
			name: "single",
			errs: []error{PathUnresolved("/a")},
			want: ErrorTypePathUnresolved,
		},
		{
			name: "digest beats path",
			errs: []error{PathUnresolved("/a"), DigestMismatch("x", "y"), PathUnresolved("/b")},
			want: ErrorTypeDigestMismatch,
		},
		{
			name: "untyped ignored",
			errs: []error{stderrors.New("boom"), AccessDenied("/a", "b")},
			want: ErrorTypeAccessDenied,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var err error
			for _, e := range tt.errs {
				err = multierr.Append(err, e)
			}
			w := Worst(err)
			if assert.NotNil(t, w) {
				assert.Equal(t, tt.want, w.Type)
			}
		})
	}

	assert.Nil(t, Worst(nil))
}
