package rpc

import (
	"hotstuff_demo/types"

	tmbytes "github.com/tendermint/tendermint/libs/bytes"
	rpctypes "github.com/tendermint/tendermint/rpc/jsonrpc/types"
)

type ResultExecCommand struct {
	Hash tmbytes.HexBytes `json:"hash"`
}

type ResultQueueStatus struct {
	Pending   int   `json:"pending"`
	CmdsBytes int64 `json:"cmds_bytes"`
}

// ExecCommand 客户端提交一条命令，异步返回命令hash
// 提交结果通过日志观察，或轮询block_dag
func ExecCommand(ctx *rpctypes.Context, cmd []byte) (*ResultExecCommand, error) {
	c := types.Cmd(cmd)
	logger := env.Logger

	err := env.HotStuff.ExecCommand(c, func(fin types.Finality) {
		logger.Info("command committed", "finality", fin)
	})
	if err != nil {
		return nil, err
	}
	return &ResultExecCommand{Hash: c.Hash()}, nil
}

// QueueStatus 命令池的等待情况
func QueueStatus(ctx *rpctypes.Context) (*ResultQueueStatus, error) {
	return &ResultQueueStatus{
		Pending:   env.CmdPool.Size(),
		CmdsBytes: env.CmdPool.CmdsBytes(),
	}, nil
}
