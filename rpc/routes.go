package rpc

import rpc "github.com/tendermint/tendermint/rpc/jsonrpc/server"

var Routes = map[string]*rpc.RPCFunc{
	"exec_command": rpc.NewRPCFunc(ExecCommand, "cmd"),
	"block_dag":    rpc.NewRPCFunc(BlockDAG, ""),
	"queue_status": rpc.NewRPCFunc(QueueStatus, ""),
	"metrics":      rpc.NewRPCFunc(JSONMetrics, "label"),
}
