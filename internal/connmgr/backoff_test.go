package connmgr

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffDoublesToCap(t *testing.T) {
	bo := &backoff{initial: 100 * time.Millisecond, max: time.Second}

	expected := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		time.Second,
		time.Second,
	}
	for i, want := range expected {
		assert.Equal(t, want, bo.next(), "attempt %d", i)
	}
}

func TestBackoffReset(t *testing.T) {
	bo := &backoff{initial: 100 * time.Millisecond, max: time.Second}
	for i := 0; i < 5; i++ {
		bo.next()
	}
	bo.reset()
	assert.Equal(t, 100*time.Millisecond, bo.next())
}

func TestBackoffJitterBounds(t *testing.T) {
	bo := &backoff{initial: 100 * time.Millisecond, max: time.Second, jitter: 0.2}

	d := bo.next()
	assert.GreaterOrEqual(t, d, 80*time.Millisecond)
	assert.LessOrEqual(t, d, 120*time.Millisecond)

	// Jittered delays at the cap stay within the jitter band of the cap.
	for i := 0; i < 10; i++ {
		d = bo.next()
	}
	assert.GreaterOrEqual(t, d, 800*time.Millisecond)
	assert.LessOrEqual(t, d, 1200*time.Millisecond)
}

func TestBackoffShiftOverflow(t *testing.T) {
	bo := &backoff{initial: time.Second, max: time.Minute}
	// Enough attempts to shift the initial delay past the int64 range.
	for i := 0; i < 80; i++ {
		d := bo.next()
		assert.Greater(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, time.Minute)
	}
}
