package types

import (
	"github.com/tendermint/tendermint/crypto"
	tmbytes "github.com/tendermint/tendermint/libs/bytes"
)

// PrivValidator 持有本副本私钥分片的签名接口
type PrivValidator interface {
	GetPubKey() (crypto.PubKey, error)
	GetID() ReplicaID

	// SignPartialCert 对区块hash签部分签名，作为投票的证书
	SignPartialCert(blockHash tmbytes.HexBytes) (*PartialCert, error)

	// SignStatus / SignBlame 视图切换消息用普通bls签名
	SignStatus(status *Status) error
	SignBlame(blame *Blame) error
}

type PrivValidatorsByID []PrivValidator

func (pvs PrivValidatorsByID) Len() int { return len(pvs) }

func (pvs PrivValidatorsByID) Less(i, j int) bool {
	return pvs[i].GetID() < pvs[j].GetID()
}

func (pvs PrivValidatorsByID) Swap(i, j int) {
	pvs[i], pvs[j] = pvs[j], pvs[i]
}
