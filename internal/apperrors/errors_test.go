package apperrors

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNotFoundError_IsSentinel(t *testing.T) {
	err := fmt.Errorf("load: %w", NewNotFoundError("analysis", "a1"))
	assert.True(t, IsNotFound(err))
	assert.Equal(t, "load: analysis not found: a1", err.Error())
}

func TestValidationError(t *testing.T) {
	err := fmt.Errorf("submit: %w", NewValidationError("name", "is required"))
	assert.True(t, IsValidation(err))
	assert.False(t, IsNotFound(err))
	assert.Equal(t, "submit: name: is required", err.Error())
}

func TestGatewayError(t *testing.T) {
	tests := []struct {
		name string
		err  *GatewayError
		want string
	}{
		{
			name: "status",
			err:  &GatewayError{Op: "upload", Kind: GatewayStatus, StatusCode: 422, Detail: "bad source"},
			want: "external API error: upload returned 422: bad source",
		},
		{
			name: "timeout falls back to wrapped error",
			err:  &GatewayError{Op: "3d_generate", Kind: GatewayTimeout, Err: context.DeadlineExceeded},
			want: "external API error: 3d_generate timed out: context deadline exceeded",
		},
		{
			name: "network",
			err:  &GatewayError{Op: "chat", Kind: GatewayNetwork, Detail: "connection refused"},
			want: "external API error: chat: connection refused",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
			g, ok := AsGateway(fmt.Errorf("run: %w", tt.err))
			assert.True(t, ok)
			assert.Equal(t, tt.err.Op, g.Op)
		})
	}
}
