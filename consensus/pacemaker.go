package consensus

import (
	"hotstuff_demo/types"

	"github.com/tendermint/tendermint/libs/log"
)

// Pacemaker 决定谁在什么时候提案、提案接在哪些parent后面
// 共识核心只消费这三个答案，轮换算法本身可以随意替换
type Pacemaker interface {
	Init(base *HotStuffBase)

	// Beat 请求一次提案机会，resolve出下一个proposer
	Beat() <-chan types.ReplicaID

	// GetProposer 当前视图的proposer
	GetProposer() types.ReplicaID

	// GetParents 下一个提案的parent列表，下标0是primary parent
	GetParents() []*types.Block
}

// RRPacemaker 静态轮转：proposer = view mod n，视图只在blame quorum后推进
// parent取最高的tail，其余tail作为uncle一并挂上
type RRPacemaker struct {
	logger log.Logger

	base *HotStuffBase
	view uint32
}

func NewRRPacemaker() *RRPacemaker {
	return &RRPacemaker{logger: log.NewNopLogger()}
}

func (pm *RRPacemaker) SetLogger(logger log.Logger) {
	pm.logger = logger
}

func (pm *RRPacemaker) Init(base *HotStuffBase) {
	pm.base = base
}

func (pm *RRPacemaker) View() uint32 { return pm.view }

// OnViewChange blame quorum之后推进视图
func (pm *RRPacemaker) OnViewChange() {
	pm.view++
	pm.logger.Info("view change", "view", pm.view, "proposer", pm.GetProposer())
}

func (pm *RRPacemaker) GetProposer() types.ReplicaID {
	r := pm.base.Config().GetProposer(pm.view)
	if r == nil {
		return -1
	}
	return r.ID
}

func (pm *RRPacemaker) Beat() <-chan types.ReplicaID {
	ch := make(chan types.ReplicaID, 1)
	ch <- pm.GetProposer()
	close(ch)
	return ch
}

// GetParents 最高tail做primary parent，其余tail全部作为uncle收编
func (pm *RRPacemaker) GetParents() []*types.Block {
	tails := pm.base.Tails()
	if len(tails) == 0 {
		return []*types.Block{pm.base.Genesis()}
	}
	best := 0
	for i, blk := range tails {
		if blk.Height > tails[best].Height {
			best = i
		}
	}
	parents := []*types.Block{tails[best]}
	for i, blk := range tails {
		if i != best {
			parents = append(parents, blk)
		}
	}
	return parents
}
