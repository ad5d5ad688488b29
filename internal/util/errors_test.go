package util

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapError(t *testing.T) {
	assert.NoError(t, WrapError("open device", nil))

	base := errors.New("boom")
	err := WrapError("open device", base)
	require.Error(t, err)
	assert.ErrorIs(t, err, base)
	assert.Equal(t, "failed to open device: boom", err.Error())
}

func TestLastLine(t *testing.T) {
	assert.Equal(t, "", LastLine("  \n \n"))
	assert.Equal(t, "third", LastLine("first\nsecond\nthird\n\n"))

	long := strings.Repeat("x", 300)
	got := LastLine("ok\n" + long)
	assert.Len(t, got, maxErrorLineLength+3)
	assert.True(t, strings.HasSuffix(got, "..."))
}
