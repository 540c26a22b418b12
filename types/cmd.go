package types

import (
	"github.com/tendermint/tendermint/crypto/merkle"
	"github.com/tendermint/tendermint/crypto/tmhash"
	tmbytes "github.com/tendermint/tendermint/libs/bytes"
)

// Cmd 客户端命令的原始载荷，共识核心只认它的hash
type Cmd []byte

func (cmd Cmd) Hash() tmbytes.HexBytes {
	return tmhash.Sum(cmd)
}

func (cmd Cmd) ComputeSize() int64 {
	return int64(len(cmd))
}

type Cmds []Cmd

func (cmds Cmds) Hashes() []tmbytes.HexBytes {
	hashes := make([]tmbytes.HexBytes, len(cmds))
	for i, cmd := range cmds {
		hashes[i] = cmd.Hash()
	}
	return hashes
}

// Hash 命令batch的merkle root
func (cmds Cmds) Hash() []byte {
	bzs := make([][]byte, len(cmds))
	for i, cmd := range cmds {
		bzs[i] = cmd.Hash()
	}
	return merkle.HashFromByteSlices(bzs)
}

func ComputeSizeForCmds(cmds []Cmd) int64 {
	var size int64
	for _, cmd := range cmds {
		size += cmd.ComputeSize()
	}
	return size
}
