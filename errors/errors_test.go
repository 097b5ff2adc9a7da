package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrap(t *testing.T) {
	original := New("original")
	wrapped := Wrap(original, "wrapped")

	assert.Contains(t, wrapped.Error(), "wrapped")
	assert.Contains(t, wrapped.Error(), "original")
	assert.True(t, Is(wrapped, original))
}

func TestWithHint(t *testing.T) {
	err := WithHint(New("sink unreachable"), "check the server address")

	hints := GetAllHints(err)
	require.Len(t, hints, 1)
	assert.Equal(t, "check the server address", hints[0])
}

func TestStackTrace(t *testing.T) {
	err := New("with stack")

	detailed := fmt.Sprintf("%+v", err)
	assert.Contains(t, detailed, "errors_test.go")
}

func TestNilHandling(t *testing.T) {
	assert.Nil(t, Wrap(nil, "context"))
	assert.Nil(t, WithStack(nil))
	assert.Nil(t, WithHint(nil, "hint"))
	assert.Nil(t, NewRunError(nil, KindSink, "file", "close"))
	assert.Nil(t, WrapConfigurationError(nil, KindSource, "file"))
}

func TestMarkedSentinels(t *testing.T) {
	err := NewNotFoundError("run %s", "1700000000000")
	assert.True(t, IsNotFoundError(err))
	assert.False(t, IsInvalidRequestError(err))
	assert.Equal(t, "run 1700000000000", err.Error())

	wrapped := Wrap(NewInvalidRequestError("bad limit"), "list runs")
	assert.True(t, IsInvalidRequestError(wrapped))
}

func ExampleWrap() {
	baseErr := New("connection refused")
	err := Wrap(baseErr, "emit proposal")
	fmt.Println(err)
	// Output: emit proposal: connection refused
}
