package types

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendermint/tendermint/crypto/tmhash"
	tmbytes "github.com/tendermint/tendermint/libs/bytes"
)

func testCmdHash(b byte) tmbytes.HexBytes {
	return tmhash.Sum([]byte{b})
}

// 生成一个挂在genesis下的区块
func newTestBlock(t *testing.T, qc *QuorumCert) *Block {
	gen := MakeGenesisBlock()
	blk := NewBlock([]*Block{gen}, []tmbytes.HexBytes{testCmdHash(0xAA)}, qc, []byte("extra"))
	require.NoError(t, blk.ValidateBasic())
	return blk
}

func TestGenesisBlock(t *testing.T) {
	gen := MakeGenesisBlock()

	assert.True(t, gen.IsGenesis())
	assert.True(t, gen.Delivered)
	assert.Equal(t, DecisionCommitted, gen.Decision)
	assert.Equal(t, uint64(0), gen.Height)
	// genesis的QC指向自己
	assert.Equal(t, []byte(gen.Hash()), []byte(gen.QC.BlockHash))
	assert.True(t, gen.QC.IsComplete())
}

// 序列化再反序列化，hash必须一致
func TestBlockCodecRoundTrip(t *testing.T) {
	qc := NewGenesisQC(testCmdHash(0x01))
	blk := newTestBlock(t, qc)

	raw := blk.EncodeBody()
	decoded, err := DecodeBlock(bytes.NewReader(raw))
	require.NoError(t, err)

	assert.Equal(t, []byte(blk.Hash()), []byte(decoded.Hash()))
	assert.Equal(t, len(blk.ParentHashes), len(decoded.ParentHashes))
	assert.Equal(t, len(blk.Cmds), len(decoded.Cmds))
	require.NotNil(t, decoded.QC)
	assert.Equal(t, []byte(blk.QC.BlockHash), []byte(decoded.QC.BlockHash))
	assert.Equal(t, []byte(blk.Extra), []byte(decoded.Extra))
}

// 不带QC的区块同样round-trip
func TestBlockCodecNoQC(t *testing.T) {
	blk := newTestBlock(t, nil)

	decoded, err := DecodeBlock(bytes.NewReader(blk.EncodeBody()))
	require.NoError(t, err)

	assert.Nil(t, decoded.QC)
	assert.Equal(t, []byte(blk.Hash()), []byte(decoded.Hash()))
}

func TestBlockValidateBasic(t *testing.T) {
	blk := &Block{
		ParentHashes: []tmbytes.HexBytes{[]byte("short")},
	}
	assert.Error(t, blk.ValidateBasic())

	blk2 := newTestBlock(t, nil)
	blk2.Cmds = []tmbytes.HexBytes{[]byte("also short")}
	assert.Error(t, blk2.ValidateBasic())
}

func TestDecodeBlockTruncated(t *testing.T) {
	blk := newTestBlock(t, nil)
	raw := blk.EncodeBody()

	for _, cut := range []int{1, 4, 10, len(raw) - 1} {
		_, err := DecodeBlock(bytes.NewReader(raw[:cut]))
		assert.Error(t, err, "cut=%d", cut)
	}
}

func TestFrameRoundTrip(t *testing.T) {
	body := []byte("hello consensus")
	frame := EncodeFrame(OpPropose, body)

	opcode, decoded, err := DecodeFrame(frame)
	require.NoError(t, err)
	assert.Equal(t, OpPropose, opcode)
	assert.Equal(t, body, decoded)

	_, _, err = DecodeFrame(frame[:3])
	assert.Error(t, err)

	// 长度字段与实际不符
	frame[1] = 0xFF
	_, _, err = DecodeFrame(frame)
	assert.Error(t, err)
}
