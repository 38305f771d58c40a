package orbits

import (
	"github.com/svio-coop/go-svio/metrics"
)

const namespace = "orbits"

var (
	trackedMarkers = metrics.NewGauge(
		"tracked",
		namespace,
		"number of foreign markers currently tracked",
		[]string{},
	).WithLabelValues()

	malformedRows = metrics.NewCounter(
		"malformed_rows",
		namespace,
		"number of feed rows skipped while parsing",
		[]string{},
	).WithLabelValues()
)
