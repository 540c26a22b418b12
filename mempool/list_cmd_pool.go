package mempool

import (
	"sync"
	"sync/atomic"

	"hotstuff_demo/types"

	"github.com/tendermint/tendermint/libs/clist"
	"github.com/tendermint/tendermint/libs/log"
)

const (
	CmdKeySize = 32
)

// ListCmdPool 双向链表实现的命令池，到达顺序就是打包顺序
// 多个客户端协程并发写入，共识事件循环单独消费
type ListCmdPool struct {
	cmdsBytes int64 // total size of pool, in bytes. Atomic.

	updateMtx sync.RWMutex

	cmds    *clist.CList
	cmdsMap sync.Map // cmd hash -> *clist.CElement

	metric *poolMetric

	logger log.Logger
}

type ListCmdPoolOption func(pool *ListCmdPool)

func NewListCmdPool(options ...ListCmdPoolOption) *ListCmdPool {
	pool := &ListCmdPool{
		cmds:   clist.New(),
		metric: newPoolMetric(),
		logger: log.NewNopLogger(),
	}
	for _, option := range options {
		option(pool)
	}
	return pool
}

func (pool *ListCmdPool) SetLogger(logger log.Logger) {
	pool.logger = logger
}

// CheckCmd 去重后把命令挂到链表尾
func (pool *ListCmdPool) CheckCmd(cmd types.Cmd, cb types.CommitCallback, info CmdInfo) error {
	key := string(cmd.Hash())
	if _, ok := pool.cmdsMap.Load(key); ok {
		return ErrCmdInPool
	}

	entry := &poolCmd{
		entry: CmdEntry{
			Cmd:      cmd,
			Hash:     cmd.Hash(),
			Callback: cb,
		},
	}
	entry.senders.Store(info.SenderID, struct{}{})

	e := pool.cmds.PushBack(entry)
	pool.cmdsMap.Store(key, e)
	atomic.AddInt64(&pool.cmdsBytes, cmd.ComputeSize())

	pool.metric.MarkCmdsNum(pool.Size())
	pool.metric.MarkTotalCmdBytes(pool.CmdsBytes())
	pool.logger.Debug("added cmd", "hash", entry.entry.Hash, "sender", info.SenderP2PID)
	return nil
}

// Reap 从队头摘下至多max条命令
func (pool *ListCmdPool) Reap(max int) []*CmdEntry {
	pool.updateMtx.Lock()
	defer pool.updateMtx.Unlock()

	if max < 0 {
		max = pool.cmds.Len()
	}
	out := make([]*CmdEntry, 0, max)
	for len(out) < max {
		front := pool.cmds.Front()
		if front == nil {
			break
		}
		entry := front.Value.(*poolCmd)
		pool.cmds.Remove(front)
		front.DetachPrev()
		pool.cmdsMap.Delete(string(entry.entry.Hash))
		atomic.AddInt64(&pool.cmdsBytes, -entry.entry.Cmd.ComputeSize())
		out = append(out, &entry.entry)
	}
	pool.metric.MarkCmdsNum(pool.Size())
	pool.metric.MarkTotalCmdBytes(pool.CmdsBytes())
	return out
}

func (pool *ListCmdPool) Flush() {
	pool.updateMtx.Lock()
	defer pool.updateMtx.Unlock()

	for e := pool.cmds.Front(); e != nil; e = e.Next() {
		pool.cmds.Remove(e)
		e.DetachPrev()
	}
	pool.cmdsMap.Range(func(key, _ interface{}) bool {
		pool.cmdsMap.Delete(key)
		return true
	})
	atomic.StoreInt64(&pool.cmdsBytes, 0)
}

func (pool *ListCmdPool) Size() int {
	return pool.cmds.Len()
}

func (pool *ListCmdPool) CmdsBytes() int64 {
	return atomic.LoadInt64(&pool.cmdsBytes)
}

func (pool *ListCmdPool) CmdsWaitChan() <-chan struct{} {
	return pool.cmds.WaitChan()
}

func (pool *ListCmdPool) CmdsFront() *clist.CElement {
	return pool.cmds.Front()
}

func (pool *ListCmdPool) Metric() *poolMetric {
	return pool.metric
}

// ------------------------------

// poolCmd 链表元素，senders记录已知持有该命令的peer，gossip时跳过
type poolCmd struct {
	entry   CmdEntry
	senders sync.Map
}

func (pc *poolCmd) HasSender(id uint16) bool {
	_, ok := pc.senders.Load(id)
	return ok
}
