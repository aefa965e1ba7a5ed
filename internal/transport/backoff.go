package transport

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// linearBackOff yields linearly increasing delays: step, 2*step, 3*step.
// The target directory API throttles aggressively; a growing but
// predictable wait keeps retried calls inside the rate window without
// exponential stalls.
type linearBackOff struct {
	step time.Duration
	next time.Duration
}

var _ backoff.BackOff = (*linearBackOff)(nil)

func newLinearBackOff(step time.Duration) *linearBackOff {
	b := &linearBackOff{step: step}
	b.Reset()
	return b
}

// NextBackOff implements backoff.BackOff.
func (b *linearBackOff) NextBackOff() time.Duration {
	d := b.next
	b.next += b.step
	return d
}

// Reset implements backoff.BackOff.
func (b *linearBackOff) Reset() {
	b.next = b.step
}
