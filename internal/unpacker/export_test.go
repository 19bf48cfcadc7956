package unpacker

import (
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// Processed returns the number of bundles processed with result.
func (s *Service) Processed(result string) float64 {
	return testutil.ToFloat64(s.processed.WithLabelValues(result))
}
