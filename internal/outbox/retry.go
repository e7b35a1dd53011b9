package outbox

import "time"

// retryDelay is the pause after the given failed publish attempt: one second
// doubling with every attempt up to MaxBackoff, plus up to JitterMax drawn
// from Rand.
func (o Options) retryDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	d := o.MaxBackoff
	if attempt <= 30 {
		if step := time.Second << (attempt - 1); step < d {
			d = step
		}
	}
	if o.JitterMax > 0 && o.Rand != nil {
		d += time.Duration(o.Rand.Int63n(int64(o.JitterMax) + 1)) //nolint:gosec
	}
	return d
}
