package ownership

import (
	"github.com/svio-coop/go-svio/metrics"
)

const namespace = "ownership"

var (
	decisions = metrics.NewCounter(
		"decisions",
		namespace,
		"number of admission decisions by outcome",
		[]string{"outcome"},
	)

	decisionsAdmit   = decisions.WithLabelValues("admit")
	decisionsOwn     = decisions.WithLabelValues("own")
	decisionsKnown   = decisions.WithLabelValues("known")
	decisionsForeign = decisions.WithLabelValues("foreign_owner")
)
