package flags

import (
	"github.com/svio-coop/go-svio/metrics"
)

const namespace = "flags"

var (
	uploaded = metrics.NewCounter(
		"uploaded",
		namespace,
		"number of own flags delivered to the store",
		[]string{},
	).WithLabelValues()

	imported = metrics.NewCounter(
		"imported",
		namespace,
		"number of foreign flags staged locally",
		[]string{},
	).WithLabelValues()

	malformedEntries = metrics.NewCounter(
		"malformed_entries",
		namespace,
		"number of listing entries rejected while parsing",
		[]string{},
	).WithLabelValues()
)
