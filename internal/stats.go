package internal

import (
	"github.com/hashicorp/go-hclog"
	"go.uber.org/atomic"
)

// Stats carries the resilience counters emitted periodically. Observability
// only, nothing reads these to make decisions.
type Stats struct {
	Poison         atomic.Int64
	VendorFailures atomic.Int64
	Pending        atomic.Int64
	Sent           atomic.Int64
	Failed         atomic.Int64
}

func NewStats() *Stats {
	return &Stats{}
}

// IncVendorFailure satisfies clients.FailureCounter.
func (s *Stats) IncVendorFailure() {
	s.VendorFailures.Inc()
}

func (s *Stats) Emit(logger hclog.Logger) {
	logger.Info("resilience statistics",
		"poison_messages", s.Poison.Load(),
		"vendor_failures", s.VendorFailures.Load(),
		"pending", s.Pending.Load(),
		"sent", s.Sent.Load(),
		"failed", s.Failed.Load(),
	)
}
