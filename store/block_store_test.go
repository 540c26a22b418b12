package store

import (
	"testing"

	"hotstuff_demo/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendermint/tendermint/crypto/tmhash"
	tmbytes "github.com/tendermint/tendermint/libs/bytes"
)

func newStoredBlock(extra string) *types.Block {
	gen := types.MakeGenesisBlock()
	return types.NewBlock([]*types.Block{gen}, nil, nil, []byte(extra))
}

func TestAddBlockIdempotent(t *testing.T) {
	bs := NewBlockStore()
	blk := newStoredBlock("a")

	canonical := bs.AddBlock(blk)
	assert.True(t, canonical == blk)

	// 同内容的另一个实例，返回已有的规范实例
	dup := newStoredBlock("a")
	assert.True(t, bs.AddBlock(dup) == blk)
	assert.Equal(t, 1, bs.BlkCacheSize())
}

func TestFindAndDeliveredFlags(t *testing.T) {
	bs := NewBlockStore()
	blk := newStoredBlock("b")

	assert.False(t, bs.IsBlockFetched(blk.Hash()))
	assert.False(t, bs.IsBlockDelivered(blk.Hash()))
	assert.Nil(t, bs.FindBlock(blk.Hash()))

	bs.AddBlock(blk)
	assert.True(t, bs.IsBlockFetched(blk.Hash()))
	assert.False(t, bs.IsBlockDelivered(blk.Hash()))

	blk.Delivered = true
	assert.True(t, bs.IsBlockDelivered(blk.Hash()))
}

func TestRetainRelease(t *testing.T) {
	bs := NewBlockStore()
	blk := bs.AddBlock(newStoredBlock("c"))

	bs.Retain(blk)
	assert.False(t, bs.TryReleaseBlock(blk), "still retained")
	assert.True(t, bs.IsBlockFetched(blk.Hash()))

	assert.True(t, bs.TryReleaseBlock(blk))
	assert.False(t, bs.IsBlockFetched(blk.Hash()), "released blocks are evicted")

	// 再次release已经不存在的块是无害的
	assert.True(t, bs.TryReleaseBlock(blk))
}

func TestCmdCache(t *testing.T) {
	bs := NewBlockStore()
	cmd := types.Cmd("pay alice 10")

	_, ok := bs.GetCmd(cmd.Hash())
	assert.False(t, ok)

	bs.AddCmd(cmd)
	bs.AddCmd(cmd) // 幂等
	got, ok := bs.GetCmd(cmd.Hash())
	require.True(t, ok)
	assert.Equal(t, cmd, got)
	assert.Equal(t, 1, bs.CmdCacheSize())

	bs.ReleaseCmds([]tmbytes.HexBytes{cmd.Hash()})
	assert.Equal(t, 0, bs.CmdCacheSize())
}

func TestCmdHashStable(t *testing.T) {
	cmd := types.Cmd("x")
	assert.Equal(t, tmhash.Sum([]byte("x")), []byte(cmd.Hash()))
}
