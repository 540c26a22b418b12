package mempool

import (
	"sync"

	jsoniter "github.com/json-iterator/go"
)

func newPoolMetric() *poolMetric {
	return &poolMetric{}
}

type poolMetric struct {
	mtx           sync.RWMutex
	CmdsNum       int   `json:"cmds_num"`        // 池中等待的命令总数
	TotalCmdBytes int64 `json:"total_cmd_bytes"` // 池中命令的总大小
}

func (pm *poolMetric) JSONString() string {
	pm.mtx.RLock()
	defer pm.mtx.RUnlock()
	s, _ := jsoniter.MarshalToString(pm)
	return s
}

func (pm *poolMetric) MarkCmdsNum(num int) {
	pm.mtx.Lock()
	defer pm.mtx.Unlock()
	pm.CmdsNum = num
}

func (pm *poolMetric) MarkTotalCmdBytes(total int64) {
	pm.mtx.Lock()
	defer pm.mtx.Unlock()
	pm.TotalCmdBytes = total
}
