package types

import (
	"fmt"

	tmbytes "github.com/tendermint/tendermint/libs/bytes"
)

// Finality 一条命令的提交通知，按提交序对每条命令精确触发一次
type Finality struct {
	ReplicaID   ReplicaID        `json:"replica_id"`
	Decision    Decision         `json:"decision"`
	CmdIdx      int              `json:"cmd_idx"`
	BlockHeight uint64           `json:"block_height"`
	CmdHash     tmbytes.HexBytes `json:"cmd_hash"`
	BlockHash   tmbytes.HexBytes `json:"block_hash"`
}

func (f Finality) String() string {
	return fmt.Sprintf("Finality{r%d cmd=%X blk=%X@%d}",
		f.ReplicaID, tmbytes.Fingerprint(f.CmdHash), tmbytes.Fingerprint(f.BlockHash), f.BlockHeight)
}

// CommitCallback exec_command登记的回调，命令提交时在事件循环上触发
type CommitCallback func(Finality)
