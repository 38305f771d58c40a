package presence

import (
	"github.com/svio-coop/go-svio/metrics"
)

const namespace = "presence"

var (
	livePlayers = metrics.NewGauge(
		"live_players",
		namespace,
		"players currently in the live set",
		[]string{},
	).WithLabelValues()

	malformedPairs = metrics.NewCounter(
		"malformed_pairs",
		namespace,
		"malformed key=value pairs skipped in presence lines",
		[]string{},
	).WithLabelValues()

	droppedLines = metrics.NewCounter(
		"dropped_lines",
		namespace,
		"presence lines dropped for missing a user",
		[]string{},
	).WithLabelValues()
)
