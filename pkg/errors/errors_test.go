package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFailureErrorIncludesCause(t *testing.T) {
	cause := stderrors.New("connection refused")
	f := NewMedia("room connect failed", cause)
	assert.Equal(t, "MEDIA: room connect failed: connection refused", f.Error())
}

func TestFailureErrorWithoutCause(t *testing.T) {
	f := NewProtocol("stream is full", false)
	assert.Equal(t, "PROTOCOL: stream is full", f.Error())
}

func TestUnwrapReachesCause(t *testing.T) {
	cause := stderrors.New("boom")
	f := NewRegistry("create failed", fmt.Errorf("wrapped: %w", cause))
	assert.ErrorIs(t, f, cause)
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindPermission, KindOf(NewPermission("denied", nil)))
	assert.Equal(t, KindRegistry, KindOf(NewRegistry("down", nil)))
	assert.Equal(t, KindTransport, KindOf(NewTransport("dropped", nil)))
	assert.Equal(t, KindMedia, KindOf(fmt.Errorf("outer: %w", NewMedia("publish failed", nil))))
	assert.Equal(t, KindProtocol, KindOf(stderrors.New("anonymous")), "unclassified errors land in the protocol bucket")
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(NewPermission("denied", nil)))
	assert.True(t, IsRetryable(NewTransport("dropped", nil)))
	assert.True(t, IsRetryable(NewProtocol("slow down", true)))
	assert.False(t, IsRetryable(NewRegistry("down", nil)))
	assert.False(t, IsRetryable(NewMedia("publish failed", nil)))
	assert.False(t, IsRetryable(stderrors.New("anonymous")))
}

func TestWrapClassifies(t *testing.T) {
	cause := stderrors.New("timeout")
	f := Wrap(cause, KindTransport, "channel send")
	assert.Equal(t, KindTransport, KindOf(f))
	assert.ErrorIs(t, f, cause)
	assert.False(t, f.Retryable, "Wrap does not assume retryability")
}
