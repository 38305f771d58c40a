package vessels

import (
	"github.com/svio-coop/go-svio/metrics"
)

const namespace = "vessels"

var (
	exported = metrics.NewCounter(
		"exported",
		namespace,
		"number of own craft files delivered to the store",
		[]string{},
	).WithLabelValues()

	imported = metrics.NewCounter(
		"imported",
		namespace,
		"number of foreign craft files staged locally",
		[]string{},
	).WithLabelValues()

	malformedEntries = metrics.NewCounter(
		"malformed_entries",
		namespace,
		"number of listing entries rejected while parsing",
		[]string{},
	).WithLabelValues()
)
