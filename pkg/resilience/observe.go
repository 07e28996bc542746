package resilience

import (
	"log/slog"

	"github.com/WessleyAI/regcheck/pkg/metrics"
)

// Observe returns a BreakerOpts.OnChange hook that logs each transition and
// exports the state as regcheck_breaker_state{breaker} (0 closed, 1 open,
// 2 half-open).
func Observe(reg *metrics.Registry, logger *slog.Logger) func(name string, from, to State) {
	if logger == nil {
		logger = slog.Default()
	}
	return func(name string, from, to State) {
		if to == StateOpen {
			logger.Warn("breaker opened", "breaker", name, "from", from.String())
		} else {
			logger.Info("breaker state", "breaker", name, "from", from.String(), "to", to.String())
		}
		if reg != nil {
			reg.Gauge(metrics.WithLabels("regcheck_breaker_state", "breaker", name),
				"Circuit breaker state: 0 closed, 1 open, 2 half-open.").Set(int64(to))
		}
	}
}
