package types

import (
	"errors"
	"fmt"
)

// Proposal leader对外广播的提案，完整携带区块
type Proposal struct {
	Proposer ReplicaID `json:"proposer"`
	Block    *Block    `json:"block"`
}

func NewProposal(proposer ReplicaID, block *Block) *Proposal {
	return &Proposal{Proposer: proposer, Block: block}
}

func (p *Proposal) ValidateBasic() error {
	if p == nil {
		return errors.New("nil proposal")
	}
	if p.Proposer < 0 {
		return errors.New("proposal has negative proposer id")
	}
	if p.Block == nil {
		return errors.New("proposal carries no block")
	}
	return p.Block.ValidateBasic()
}

func (p *Proposal) String() string {
	if p == nil {
		return "nil-Proposal"
	}
	return fmt.Sprintf("Prop{#%d %v}", p.Proposer, p.Block)
}
