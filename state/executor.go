package state

import (
	"sync"

	"hotstuff_demo/store"
	"hotstuff_demo/types"

	tmbytes "github.com/tendermint/tendermint/libs/bytes"
	"github.com/tendermint/tendermint/libs/log"
)

// Executor 应用状态机，按提交序消费Finality
type Executor interface {
	// StateMachineExecute 每条命令提交时精确调用一次，调用顺序就是提交顺序
	StateMachineExecute(fin types.Finality)

	// MarkHQC 共识层启动时和每次执行提交前把当前hqc同步过来，写进检查点
	MarkHQC(hash tmbytes.HexBytes)

	SetLogger(logger log.Logger)
}

func NewExecutor(commitDB *store.CommitDB, blockStore *store.BlockStore) Executor {
	return &commitExecutor{
		commitDB:   commitDB,
		blockStore: blockStore,
		logger:     log.NewNopLogger(),
	}
}

// commitExecutor 把提交记录落到commit log，并清理已提交命令的cache
type commitExecutor struct {
	mtx sync.Mutex

	commitDB   *store.CommitDB
	blockStore *store.BlockStore
	hqcHash    tmbytes.HexBytes

	logger log.Logger
}

func (exec *commitExecutor) SetLogger(logger log.Logger) {
	exec.logger = logger
}

func (exec *commitExecutor) MarkHQC(hash tmbytes.HexBytes) {
	exec.mtx.Lock()
	exec.hqcHash = hash
	exec.mtx.Unlock()
}

func (exec *commitExecutor) StateMachineExecute(fin types.Finality) {
	exec.mtx.Lock()
	defer exec.mtx.Unlock()

	exec.logger.Info("execute", "finality", fin)

	hqcHash := exec.hqcHash
	if len(hqcHash) == 0 {
		hqcHash = fin.BlockHash
	}
	if exec.commitDB != nil {
		if err := exec.commitDB.SaveFinality(fin); err != nil {
			exec.logger.Error("save finality failed", "err", err)
		}
		if err := exec.commitDB.SaveCheckpoint(fin.BlockHash, hqcHash, fin.BlockHeight); err != nil {
			exec.logger.Error("save checkpoint failed", "err", err)
		}
	}
	if exec.blockStore != nil {
		exec.blockStore.ReleaseCmds([]tmbytes.HexBytes{fin.CmdHash})
	}
}
