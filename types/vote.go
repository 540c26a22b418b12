package types

import (
	"bytes"
	"errors"
	"fmt"

	tmbytes "github.com/tendermint/tendermint/libs/bytes"
)

// Vote 一个副本对某个区块的投票，带着它的部分签名
// 投给该区块的proposer而不是全网广播
type Vote struct {
	Voter     ReplicaID        `json:"voter"`
	BlockHash tmbytes.HexBytes `json:"block_hash"`
	Cert      *PartialCert     `json:"cert"`
}

func NewVote(voter ReplicaID, blockHash tmbytes.HexBytes, cert *PartialCert) *Vote {
	return &Vote{Voter: voter, BlockHash: blockHash, Cert: cert}
}

func (v *Vote) ValidateBasic() error {
	if v == nil {
		return errors.New("nil vote")
	}
	if len(v.BlockHash) != HashSize {
		return ErrBadHashSize
	}
	if v.Cert == nil {
		return errors.New("vote carries no partial cert")
	}
	if v.Cert.Voter != v.Voter {
		return errors.New("vote and cert disagree on voter")
	}
	if !bytes.Equal(v.BlockHash, v.Cert.BlockHash) {
		return errors.New("vote and cert disagree on block hash")
	}
	return v.Cert.ValidateBasic()
}

// Verify 校验部分签名，调用方负责先ValidateBasic
func (v *Vote) Verify(rs *ReplicaSet) error {
	return v.Cert.Verify(rs)
}

func (v *Vote) String() string {
	if v == nil {
		return "nil-Vote"
	}
	return fmt.Sprintf("Vote{#%d -> %X}", v.Voter, tmbytes.Fingerprint(v.BlockHash))
}
