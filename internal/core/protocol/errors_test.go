package protocol

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_WrapsSentinel(t *testing.T) {
	err := NewProtocolError(ErrorCodeUnknownIdentity, "remove", ErrUnknownIdentity).
		WithContext("uid", uint64(7))

	assert.ErrorIs(t, err, ErrUnknownIdentity)
	assert.Contains(t, err.Error(), "remove")
	assert.Contains(t, err.Error(), "uid:7")
	assert.Equal(t, ErrorCodeUnknownIdentity, GetErrorCode(err))
}

func TestGetErrorCode_Sentinels(t *testing.T) {
	tests := []struct {
		err  error
		want ErrorCode
	}{
		{ErrUnknownComponent, ErrorCodeUnknownComponent},
		{fmt.Errorf("context: %w", ErrCompressionMismatch), ErrorCodeCompressionMismatch},
		{ErrPostBoxClosed, ErrorCodeTransportClosed},
		{ErrInvalidConfig, ErrorCodeInvalidConfig},
		{errors.New("other"), ErrorCodeUnknownError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, GetErrorCode(tt.err))
		})
	}
}

func TestIsFatal(t *testing.T) {
	tests := map[string]struct {
		err  error
		want bool
	}{
		"nil":               {nil, false},
		"unknown identity":  {ErrUnknownIdentity, true},
		"identity bound":    {WrapError(ErrIdentityBound, "insert"), true},
		"unknown component": {fmt.Errorf("apply: %w", ErrUnknownComponent), true},
		"malformed payload": {ErrDeserializationFailed, true},
		"compression":       {ErrCompressionMismatch, true},
		"closed postbox":    {ErrPostBoxClosed, false},
		"serialization":     {ErrSerializationFailed, false},
		"unrelated":         {errors.New("boom"), false},
		"coded non fatal":   {NewProtocolError(ErrorCodeTransportClosed, "read", ErrConnectionClosed), false},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsFatal(tt.err))
		})
	}
}
