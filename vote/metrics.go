package vote

import (
	"github.com/svio-coop/go-svio/metrics"
)

const namespace = "vote"

var (
	proposalsStarted = metrics.NewCounter(
		"proposals",
		namespace,
		"number of proposals opened by this client",
		[]string{},
	).WithLabelValues()

	castsSubmitted = metrics.NewCounter(
		"casts",
		namespace,
		"number of answers submitted to the store",
		[]string{},
	).WithLabelValues()

	finalized = metrics.NewCounter(
		"finalized",
		namespace,
		"number of tracked votes finalized by outcome",
		[]string{"outcome"},
	)

	finalizedApproved  = finalized.WithLabelValues("approved")
	finalizedRejected  = finalized.WithLabelValues("rejected")
	finalizedCancelled = finalized.WithLabelValues("cancelled")
	finalizedVanished  = finalized.WithLabelValues("vanished")
)
