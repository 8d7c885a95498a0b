package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *AppError
		want string
	}{
		{
			name: "type and message only",
			err:  &AppError{Type: ErrTypeValidation, Message: "bad input"},
			want: "validation: bad input",
		},
		{
			name: "with code",
			err:  ContentionError("part MPN-1"),
			want: "contention: could not acquire lock for part MPN-1: code=LOCK_CONTENTION",
		},
		{
			name: "with cause",
			err:  ConnectionError("redis unreachable", errors.New("dial tcp refused")),
			want: "connection: redis unreachable: cause=dial tcp refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestRetryabilityClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"connection error is transient", ConnectionError("down", nil), true},
		{"timeout is transient", TimeoutError("supplier query", nil), true},
		{"upstream 5xx is transient", UpstreamError("supplier 503", nil), true},
		{"internal is transient", InternalError("save failed", nil), true},
		{"validation is permanent", ValidationError("missing identifier"), false},
		{"not found is permanent", NotFoundError("component"), false},
		{"config is permanent", ConfigError("bad dsn"), false},
		{"contention is permanent", ContentionError("part"), false},
		{"unknown plain error defaults to transient", errors.New("boom"), true},
		{"wrapped app error keeps classification", fmt.Errorf("outer: %w", ValidationError("inner")), false},
		{"nil is not retryable", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.retryable, IsRetryable(tt.err))
		})
	}
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := InternalError("wrapper", cause)

	assert.ErrorIs(t, err, cause)
}

func TestIsType(t *testing.T) {
	err := ContentionError("part")

	assert.True(t, IsType(err, ErrTypeContention))
	assert.False(t, IsType(err, ErrTypeTimeout))
	assert.False(t, IsType(errors.New("plain"), ErrTypeInternal))
	assert.False(t, IsType(nil, ErrTypeInternal))
}

func TestGetType(t *testing.T) {
	assert.Equal(t, ErrTypeUpstream, GetType(UpstreamError("503", nil)))
	assert.Equal(t, ErrTypeInternal, GetType(errors.New("plain")))
	assert.Equal(t, ErrorType(""), GetType(nil))
}

func TestCode(t *testing.T) {
	assert.Equal(t, "LOCK_CONTENTION", Code(ContentionError("part")))
	assert.Equal(t, "VALIDATION", Code(ValidationError("bad")))
	assert.Equal(t, "INTERNAL", Code(errors.New("plain")))
	assert.Equal(t, "", Code(nil))
}

func TestWithContext(t *testing.T) {
	err := ValidationError("bad").WithContext("field", "business_key")

	assert.Contains(t, err.Error(), "business_key")
}
