package connmgr

import (
	"math/rand"
	"time"
)

// backoff produces jittered, capped exponential reconnect delays. Retries
// are unlimited: the device is expected to come back once the vendor app
// releases its single BLE connection slot.
type backoff struct {
	initial time.Duration
	max     time.Duration
	jitter  float64 // fraction of the delay randomized in +/- terms

	attempt int
}

func (b *backoff) next() time.Duration {
	d := b.initial << b.attempt
	if d > b.max || d <= 0 { // <=0 guards shift overflow
		d = b.max
	} else {
		b.attempt++
	}
	if b.jitter > 0 {
		spread := float64(d) * b.jitter
		d = time.Duration(float64(d) + (rand.Float64()*2-1)*spread)
		if d < 0 {
			d = b.initial
		}
	}
	return d
}

// reset is called after a session reaches Active, so the next outage starts
// from the initial delay again.
func (b *backoff) reset() {
	b.attempt = 0
}
