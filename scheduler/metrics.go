package scheduler

import (
	"github.com/svio-coop/go-svio/metrics"
)

const (
	namespace = "scheduler"

	opPush = "push"
	opPull = "pull"

	outcomeOK   = "ok"
	outcomeFail = "fail"
)

var steps = metrics.NewCounter(
	"steps",
	namespace,
	"number of sync steps by channel, operation and outcome",
	[]string{"channel", "op", "outcome"},
)
