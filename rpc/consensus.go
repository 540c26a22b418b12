package rpc

import (
	"hotstuff_demo/consensus"

	rpctypes "github.com/tendermint/tendermint/rpc/jsonrpc/types"
)

type ResultBlockDAG struct {
	Snapshot consensus.CoreSnapshot `json:"snapshot"`
}

// BlockDAG 返回共识核心的快照：bexec/hqc/vheight、tails和已提交主链
func BlockDAG(ctx *rpctypes.Context) (*ResultBlockDAG, error) {
	return &ResultBlockDAG{Snapshot: env.HotStuff.Snapshot()}, nil
}
