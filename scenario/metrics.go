package scenario

import (
	"github.com/svio-coop/go-svio/metrics"
)

const namespace = "scenario"

var (
	balanceGauge = metrics.NewGauge(
		"balance",
		namespace,
		"local point balance after the last merge",
		[]string{},
	).WithLabelValues()

	nodesUnlocked = metrics.NewCounter(
		"nodes_unlocked",
		namespace,
		"number of tree entries unlocked by remote merges",
		[]string{},
	).WithLabelValues()

	archivesAdded = metrics.NewCounter(
		"archives_added",
		namespace,
		"number of discovery records admitted from remote merges",
		[]string{},
	).WithLabelValues()

	malformedBlocks = metrics.NewCounter(
		"malformed_blocks",
		namespace,
		"number of fragment blocks skipped while parsing",
		[]string{},
	).WithLabelValues()
)
