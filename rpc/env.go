package rpc

import (
	"hotstuff_demo/consensus"
	"hotstuff_demo/libs/metric"
	"hotstuff_demo/mempool"

	"github.com/tendermint/tendermint/libs/log"
)

var env *Environment

func SetEnvironment(e *Environment) {
	if e.MetricSet == nil {
		e.MetricSet = metric.NewMetricSet()
	}
	e.MetricSet.SetMetrics("consensus", e.HotStuff.Metric())
	e.MetricSet.SetMetrics("cmd_pool", e.CmdPool.Metric())
	env = e
}

type Environment struct {
	CmdPool  *mempool.ListCmdPool
	HotStuff *consensus.HotStuffBase

	MetricSet *metric.MetricSet
	Logger    log.Logger
}
