package apperr

import (
	"io"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestKindOfWrapped(t *testing.T) {
	base := Wrap(NetworkFailure, io.ErrUnexpectedEOF, "")
	err := errors.Wrap(base, "loading messages")

	assert.Equal(t, NetworkFailure, KindOf(err))
	assert.True(t, Is(err, NetworkFailure))
	assert.False(t, Is(err, DuplicateRequest))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.Equal(t, Unknown, KindOf(io.EOF))
	assert.False(t, Is(nil, Unknown))
}

func TestUserMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"backend text verbatim", New(DuplicateRequest, "Request already sent to Ms Okafor"), "Request already sent to Ms Okafor"},
		{"generic duplicate", New(DuplicateRequest, ""), "Request already sent"},
		{"generic network", Wrap(NetworkFailure, io.EOF, ""), "Something went wrong. Please try again."},
		{"foreign error", io.EOF, "Something went wrong. Please try again."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Message(tt.err))
		})
	}
}
