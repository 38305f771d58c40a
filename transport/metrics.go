package transport

import (
	"time"

	"github.com/svio-coop/go-svio/metrics"
)

const (
	namespace = "transport"

	outcomeOK   = "ok"
	outcomeFail = "fail"
)

var (
	requests = metrics.NewCounter(
		"requests",
		namespace,
		"number of store requests by method and outcome",
		[]string{"method", "outcome"},
	)

	requestLatency = metrics.NewHistogram(
		"request_duration_seconds",
		namespace,
		"store request duration in seconds by method, across all candidate endpoints",
		[]string{"method"},
	)
)

func observeRequest(method, outcome string, start time.Time) {
	requests.WithLabelValues(method, outcome).Inc()
	requestLatency.WithLabelValues(method).Observe(time.Since(start).Seconds())
}
