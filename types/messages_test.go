package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendermint/tendermint/crypto/tmhash"
	tmbytes "github.com/tendermint/tendermint/libs/bytes"
)

// interner的假实现：用map保证同hash返回同一实例
type mapInterner struct {
	blocks map[string]*Block
}

func newMapInterner() *mapInterner {
	return &mapInterner{blocks: make(map[string]*Block)}
}

func (in *mapInterner) InternBlock(blk *Block) *Block {
	key := string(blk.Hash())
	if existing, ok := in.blocks[key]; ok {
		return existing
	}
	in.blocks[key] = blk
	return blk
}

func TestMsgProposeTwoStageParse(t *testing.T) {
	gen := MakeGenesisBlock()
	blk := NewBlock([]*Block{gen}, []tmbytes.HexBytes{tmhash.Sum([]byte("cmd"))}, nil, nil)
	msg := NewMsgPropose(NewProposal(3, blk))

	wire := msg.Encode()

	// 第一阶段：只认出opcode
	decoded, err := DecodeWireMsg(wire)
	require.NoError(t, err)
	mp, ok := decoded.(*MsgPropose)
	require.True(t, ok)
	assert.Nil(t, mp.Proposal)

	// 第二阶段：补上核心上下文后解body
	in := newMapInterner()
	require.NoError(t, mp.ParseBody(in))
	require.NotNil(t, mp.Proposal)
	assert.Equal(t, ReplicaID(3), mp.Proposal.Proposer)
	assert.Equal(t, []byte(blk.Hash()), []byte(mp.Proposal.Block.Hash()))

	// 再parse一次是幂等的
	first := mp.Proposal.Block
	require.NoError(t, mp.ParseBody(in))
	assert.True(t, first == mp.Proposal.Block)
}

// 同一个块出现两次，interner必须给出同一实例
func TestMsgRespBlockIntern(t *testing.T) {
	gen := MakeGenesisBlock()
	b1 := NewBlock([]*Block{gen}, nil, nil, nil)
	b2 := NewBlock([]*Block{gen}, nil, nil, []byte("x"))

	msg := NewMsgRespBlock([]*Block{b1, b2})
	decoded, err := DecodeWireMsg(msg.Encode())
	require.NoError(t, err)

	in := newMapInterner()
	in.InternBlock(b1) // b1已经在storage里

	mr := decoded.(*MsgRespBlock)
	require.NoError(t, mr.ParseBody(in))
	require.Len(t, mr.Blocks, 2)
	assert.True(t, mr.Blocks[0] == b1, "must return the canonical instance")
}

func TestMsgVoteRoundTrip(t *testing.T) {
	hash := tmhash.Sum([]byte("blk"))
	vote := NewVote(2, hash, &PartialCert{Voter: 2, BlockHash: hash, Sig: []byte("sig")})

	decoded, err := DecodeWireMsg(NewMsgVote(vote).Encode())
	require.NoError(t, err)
	mv := decoded.(*MsgVote)
	require.NoError(t, mv.ParseBody(nil))

	assert.Equal(t, vote.Voter, mv.Vote.Voter)
	assert.Equal(t, []byte(vote.BlockHash), []byte(mv.Vote.BlockHash))
	assert.NoError(t, mv.Vote.ValidateBasic())
}

func TestMsgReqBlockRoundTrip(t *testing.T) {
	hashes := []tmbytes.HexBytes{tmhash.Sum([]byte("a")), tmhash.Sum([]byte("b"))}

	decoded, err := DecodeWireMsg(NewMsgReqBlock(hashes).Encode())
	require.NoError(t, err)
	mr := decoded.(*MsgReqBlock)
	require.NoError(t, mr.ParseBody(nil))

	require.Len(t, mr.Hashes, 2)
	assert.Equal(t, []byte(hashes[0]), []byte(mr.Hashes[0]))
	assert.Equal(t, []byte(hashes[1]), []byte(mr.Hashes[1]))
}

func TestDecodeWireMsgUnknownOpcode(t *testing.T) {
	_, err := DecodeWireMsg(EncodeFrame(0x7F, []byte("junk")))
	assert.Error(t, err)
}
