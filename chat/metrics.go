package chat

import (
	"github.com/svio-coop/go-svio/metrics"
)

const namespace = "chat"

var (
	messagesSent = metrics.NewCounter(
		"sent",
		namespace,
		"number of chat messages delivered to the store",
		[]string{},
	).WithLabelValues()

	messagesReceived = metrics.NewCounter(
		"received",
		namespace,
		"number of chat messages consumed from the log",
		[]string{},
	).WithLabelValues()

	malformedLines = metrics.NewCounter(
		"malformed_lines",
		namespace,
		"number of log lines skipped while parsing",
		[]string{},
	).WithLabelValues()
)
