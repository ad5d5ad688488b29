package util

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffLinearDelays(t *testing.T) {
	b := NewBackoff(time.Second, 5)

	var got []time.Duration
	for {
		d, ok := b.Next()
		if !ok {
			break
		}
		got = append(got, d)
	}

	assert.Equal(t, []time.Duration{
		1 * time.Second, 2 * time.Second, 3 * time.Second, 4 * time.Second, 5 * time.Second,
	}, got)
	assert.Equal(t, 5, b.Attempt())
	assert.True(t, b.Exhausted())
}

func TestBackoffReset(t *testing.T) {
	b := NewBackoff(100*time.Millisecond, 2)
	b.Next()
	b.Next()
	_, ok := b.Next()
	assert.False(t, ok)

	b.Reset()
	assert.Equal(t, 0, b.Attempt())
	d, ok := b.Next()
	assert.True(t, ok)
	assert.Equal(t, 100*time.Millisecond, d)
}

func TestBackoffZeroCap(t *testing.T) {
	b := NewBackoff(time.Second, 0)
	_, ok := b.Next()
	assert.False(t, ok)
	assert.True(t, b.Exhausted())
}
