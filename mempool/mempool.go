package mempool

import (
	"hotstuff_demo/types"

	"github.com/tendermint/tendermint/libs/clist"
	"github.com/tendermint/tendermint/p2p"
)

// CmdPool 客户端命令的等待队列
// 共识层在本节点是proposer时从这里按到达顺序取命令hash打包
type CmdPool interface {
	// CheckCmd 接收一条新命令，callback在命令提交时触发
	CheckCmd(cmd types.Cmd, cb types.CommitCallback, info CmdInfo) error

	// Reap 从队头取出至多max条命令并从池中移除
	Reap(max int) []*CmdEntry

	// Flush 清空池子和cache
	Flush()

	// Size 池中等待的命令条数
	Size() int

	// CmdsBytes 池中所有命令的总大小
	CmdsBytes() int64

	// CmdsWaitChan 池子从空变非空时关闭的chan
	CmdsWaitChan() <-chan struct{}

	// CmdsFront gossip routine遍历用
	CmdsFront() *clist.CElement
}

// CmdEntry 池子里的一条命令
type CmdEntry struct {
	Cmd      types.Cmd
	Hash     []byte
	Callback types.CommitCallback
}

//--------------------------------------------------------------------------------

// CmdInfo are parameters that get passed when attempting to add a cmd to the
// pool.
type CmdInfo struct {
	// SenderID is the internal peer ID used in the pool to identify the
	// sender, storing 2 bytes with each cmd instead of 20 bytes for the p2p.ID.
	SenderID uint16
	// SenderP2PID is the actual p2p.ID of the sender, used e.g. for logging.
	SenderP2PID p2p.ID
}
