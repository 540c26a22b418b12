package types

import (
	"bytes"
	"errors"
	"fmt"

	tmbytes "github.com/tendermint/tendermint/libs/bytes"
)

// 共识wire消息。接收侧只解帧头确定消息类型，body推迟到
// ParseBody：块载荷必须经过interner拿到storage里的规范实例，
// 所以第二阶段要等共识核心就位才能执行。

const (
	OpPropose     = byte(0x00)
	OpVote        = byte(0x01)
	OpReqBlock    = byte(0x02)
	OpRespBlock   = byte(0x03)
	OpNotify      = byte(0x04)
	OpStatus      = byte(0x05)
	OpBlame       = byte(0x06)
	OpBlameNotify = byte(0x07)
	OpNewView     = byte(0x08)
)

var (
	ErrUnknownOpcode = errors.New("unknown wire opcode")

	// ReqBlock一次最多请求的块数
	MaxReqBlocks = uint32(64)
)

// BlockInterner 把wire上解出的区块换成storage里的规范实例
type BlockInterner interface {
	InternBlock(*Block) *Block
}

// WireMsg 所有共识消息的统一形态
type WireMsg interface {
	Opcode() byte
	// ParseBody 第二阶段解析body，幂等
	ParseBody(in BlockInterner) error
	// Encode 打包成完整的wire帧
	Encode() []byte
}

// DecodeWireMsg 第一阶段：只认opcode，body原样保留
func DecodeWireMsg(bz []byte) (WireMsg, error) {
	opcode, body, err := DecodeFrame(bz)
	if err != nil {
		return nil, err
	}
	switch opcode {
	case OpPropose:
		return &MsgPropose{raw: body}, nil
	case OpVote:
		return &MsgVote{raw: body}, nil
	case OpReqBlock:
		return &MsgReqBlock{raw: body}, nil
	case OpRespBlock:
		return &MsgRespBlock{raw: body}, nil
	case OpNotify:
		return &MsgNotify{raw: body}, nil
	case OpStatus:
		return &MsgStatus{raw: body}, nil
	case OpBlame:
		return &MsgBlame{raw: body}, nil
	case OpBlameNotify:
		return &MsgBlameNotify{raw: body}, nil
	case OpNewView:
		return &MsgNewView{raw: body}, nil
	default:
		return nil, fmt.Errorf("%w: %#x", ErrUnknownOpcode, opcode)
	}
}

// -------------------- Propose --------------------

type MsgPropose struct {
	raw      []byte
	Proposal *Proposal
}

func NewMsgPropose(prop *Proposal) *MsgPropose {
	w := new(bytes.Buffer)
	putUint32(w, uint32(int32(prop.Proposer)))
	w.Write(prop.Block.EncodeBody())
	return &MsgPropose{raw: w.Bytes(), Proposal: prop}
}

func (m *MsgPropose) Opcode() byte { return OpPropose }

func (m *MsgPropose) Encode() []byte { return EncodeFrame(OpPropose, m.raw) }

func (m *MsgPropose) ParseBody(in BlockInterner) error {
	if m.Proposal != nil {
		return nil
	}
	r := bytes.NewReader(m.raw)
	proposer, err := getUint32(r)
	if err != nil {
		return err
	}
	blk, err := DecodeBlock(r)
	if err != nil {
		return err
	}
	m.Proposal = &Proposal{
		Proposer: ReplicaID(int32(proposer)),
		Block:    in.InternBlock(blk),
	}
	return nil
}

// -------------------- Vote --------------------

type MsgVote struct {
	raw  []byte
	Vote *Vote
}

func NewMsgVote(vote *Vote) *MsgVote {
	w := new(bytes.Buffer)
	putUint32(w, uint32(int32(vote.Voter)))
	putHash(w, vote.BlockHash)
	putBytes(w, vote.Cert.Sig)
	return &MsgVote{raw: w.Bytes(), Vote: vote}
}

func (m *MsgVote) Opcode() byte { return OpVote }

func (m *MsgVote) Encode() []byte { return EncodeFrame(OpVote, m.raw) }

func (m *MsgVote) ParseBody(BlockInterner) error {
	if m.Vote != nil {
		return nil
	}
	r := bytes.NewReader(m.raw)
	voter, err := getUint32(r)
	if err != nil {
		return err
	}
	hash, err := getHash(r)
	if err != nil {
		return err
	}
	sig, err := getBytes(r)
	if err != nil {
		return err
	}
	id := ReplicaID(int32(voter))
	m.Vote = &Vote{
		Voter:     id,
		BlockHash: hash,
		Cert:      &PartialCert{Voter: id, BlockHash: hash, Sig: sig},
	}
	return nil
}

// -------------------- ReqBlock --------------------

type MsgReqBlock struct {
	raw    []byte
	Hashes []tmbytes.HexBytes
}

func NewMsgReqBlock(hashes []tmbytes.HexBytes) *MsgReqBlock {
	w := new(bytes.Buffer)
	putUint32(w, uint32(len(hashes)))
	for _, h := range hashes {
		putHash(w, h)
	}
	return &MsgReqBlock{raw: w.Bytes(), Hashes: hashes}
}

func (m *MsgReqBlock) Opcode() byte { return OpReqBlock }

func (m *MsgReqBlock) Encode() []byte { return EncodeFrame(OpReqBlock, m.raw) }

func (m *MsgReqBlock) ParseBody(BlockInterner) error {
	if m.Hashes != nil {
		return nil
	}
	r := bytes.NewReader(m.raw)
	n, err := getUint32(r)
	if err != nil {
		return err
	}
	if n > MaxReqBlocks {
		return ErrBodyTooLarge
	}
	hashes := make([]tmbytes.HexBytes, n)
	for i := range hashes {
		if hashes[i], err = getHash(r); err != nil {
			return err
		}
	}
	m.Hashes = hashes
	return nil
}

// -------------------- RespBlock --------------------

type MsgRespBlock struct {
	raw    []byte
	Blocks []*Block
}

func NewMsgRespBlock(blocks []*Block) *MsgRespBlock {
	w := new(bytes.Buffer)
	putUint32(w, uint32(len(blocks)))
	for _, b := range blocks {
		w.Write(b.EncodeBody())
	}
	return &MsgRespBlock{raw: w.Bytes(), Blocks: blocks}
}

func (m *MsgRespBlock) Opcode() byte { return OpRespBlock }

func (m *MsgRespBlock) Encode() []byte { return EncodeFrame(OpRespBlock, m.raw) }

func (m *MsgRespBlock) ParseBody(in BlockInterner) error {
	if m.Blocks != nil {
		return nil
	}
	r := bytes.NewReader(m.raw)
	n, err := getUint32(r)
	if err != nil {
		return err
	}
	if n > MaxReqBlocks {
		return ErrBodyTooLarge
	}
	blocks := make([]*Block, n)
	for i := range blocks {
		blk, err := DecodeBlock(r)
		if err != nil {
			return err
		}
		blocks[i] = in.InternBlock(blk)
	}
	m.Blocks = blocks
	return nil
}

// -------------------- Notify --------------------

type MsgNotify struct {
	raw    []byte
	Notify *Notify
}

func NewMsgNotify(n *Notify) *MsgNotify {
	w := new(bytes.Buffer)
	n.encode(w)
	return &MsgNotify{raw: w.Bytes(), Notify: n}
}

func (m *MsgNotify) Opcode() byte { return OpNotify }

func (m *MsgNotify) Encode() []byte { return EncodeFrame(OpNotify, m.raw) }

func (m *MsgNotify) ParseBody(BlockInterner) error {
	if m.Notify != nil {
		return nil
	}
	n, err := decodeNotify(bytes.NewReader(m.raw))
	if err != nil {
		return err
	}
	m.Notify = n
	return nil
}

// -------------------- Status / NewView --------------------

type MsgStatus struct {
	raw    []byte
	Status *Status
}

func NewMsgStatus(s *Status) *MsgStatus {
	w := new(bytes.Buffer)
	s.encode(w)
	return &MsgStatus{raw: w.Bytes(), Status: s}
}

func (m *MsgStatus) Opcode() byte { return OpStatus }

func (m *MsgStatus) Encode() []byte { return EncodeFrame(OpStatus, m.raw) }

func (m *MsgStatus) ParseBody(BlockInterner) error {
	if m.Status != nil {
		return nil
	}
	s, err := decodeStatus(bytes.NewReader(m.raw))
	if err != nil {
		return err
	}
	m.Status = s
	return nil
}

// MsgNewView 载荷和Status相同，opcode区分语义
type MsgNewView struct {
	raw    []byte
	Status *Status
}

func NewMsgNewView(s *Status) *MsgNewView {
	w := new(bytes.Buffer)
	s.encode(w)
	return &MsgNewView{raw: w.Bytes(), Status: s}
}

func (m *MsgNewView) Opcode() byte { return OpNewView }

func (m *MsgNewView) Encode() []byte { return EncodeFrame(OpNewView, m.raw) }

func (m *MsgNewView) ParseBody(BlockInterner) error {
	if m.Status != nil {
		return nil
	}
	s, err := decodeStatus(bytes.NewReader(m.raw))
	if err != nil {
		return err
	}
	m.Status = s
	return nil
}

// -------------------- Blame / BlameNotify --------------------

type MsgBlame struct {
	raw   []byte
	Blame *Blame
}

func NewMsgBlame(b *Blame) *MsgBlame {
	w := new(bytes.Buffer)
	b.encode(w)
	return &MsgBlame{raw: w.Bytes(), Blame: b}
}

func (m *MsgBlame) Opcode() byte { return OpBlame }

func (m *MsgBlame) Encode() []byte { return EncodeFrame(OpBlame, m.raw) }

func (m *MsgBlame) ParseBody(BlockInterner) error {
	if m.Blame != nil {
		return nil
	}
	b, err := decodeBlame(bytes.NewReader(m.raw))
	if err != nil {
		return err
	}
	m.Blame = b
	return nil
}

type MsgBlameNotify struct {
	raw         []byte
	BlameNotify *BlameNotify
}

func NewMsgBlameNotify(bn *BlameNotify) *MsgBlameNotify {
	w := new(bytes.Buffer)
	bn.encode(w)
	return &MsgBlameNotify{raw: w.Bytes(), BlameNotify: bn}
}

func (m *MsgBlameNotify) Opcode() byte { return OpBlameNotify }

func (m *MsgBlameNotify) Encode() []byte { return EncodeFrame(OpBlameNotify, m.raw) }

func (m *MsgBlameNotify) ParseBody(BlockInterner) error {
	if m.BlameNotify != nil {
		return nil
	}
	bn, err := decodeBlameNotify(bytes.NewReader(m.raw))
	if err != nil {
		return err
	}
	m.BlameNotify = bn
	return nil
}
