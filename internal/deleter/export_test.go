package deleter

import (
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// WithRemove overrides the function removing files.
func WithRemove(remove func(string) error) Options {
	return func(o *options) {
		o.remove = remove
	}
}

// Deletions returns the number of deletion attempts with result.
func (q *Queue) Deletions(result string) float64 {
	return testutil.ToFloat64(q.deletions.WithLabelValues(result))
}

// QueueLength returns the value of the queue length gauge.
func (q *Queue) QueueLength() float64 {
	return testutil.ToFloat64(q.queueLength)
}
