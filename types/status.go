package types

import (
	"bytes"
	"errors"
	"fmt"

	tmbytes "github.com/tendermint/tendermint/libs/bytes"
)

// 视图切换相关的消息载荷。共识核心只搬运和验证它们，
// 视图切换的状态机本身由pacemaker层驱动。

// Status 周期性/换届时宣告自己看到的最高QC
type Status struct {
	HQCBlockHash tmbytes.HexBytes `json:"hqc_block_hash"`
	HQC          *QuorumCert      `json:"hqc"`
	View         uint32           `json:"view"`
	Voter        ReplicaID        `json:"voter"`
	Signature    tmbytes.HexBytes `json:"signature"`
}

func (s *Status) ValidateBasic() error {
	if s == nil {
		return errors.New("nil status")
	}
	if len(s.HQCBlockHash) != HashSize {
		return ErrBadHashSize
	}
	if s.HQC == nil || !s.HQC.IsComplete() {
		return errors.New("status carries no complete hqc")
	}
	return nil
}

// SignBytes 被签名的部分：hqc hash + view
func (s *Status) SignBytes() []byte {
	w := new(bytes.Buffer)
	putHash(w, s.HQCBlockHash)
	putUint32(w, s.View)
	return w.Bytes()
}

// Verify 验证发送者签名和hqc的门限签名
func (s *Status) Verify(rs *ReplicaSet) error {
	r := rs.GetByID(s.Voter)
	if r == nil {
		return fmt.Errorf("status from unknown replica %d", s.Voter)
	}
	if !r.PubKey.VerifySignature(s.SignBytes(), s.Signature) {
		return errors.New("bad status signature")
	}
	return s.HQC.VerifySignature(rs)
}

func (s *Status) String() string {
	return fmt.Sprintf("Status{#%d view=%d hqc=%X}", s.Voter, s.View, tmbytes.Fingerprint(s.HQCBlockHash))
}

func (s *Status) encode(w *bytes.Buffer) {
	putHash(w, s.HQCBlockHash)
	s.HQC.encode(w)
	putUint32(w, s.View)
	putUint32(w, uint32(int32(s.Voter)))
	putBytes(w, s.Signature)
}

func decodeStatus(r *bytes.Reader) (*Status, error) {
	hash, err := getHash(r)
	if err != nil {
		return nil, err
	}
	qc, err := decodeQuorumCert(r)
	if err != nil {
		return nil, err
	}
	view, err := getUint32(r)
	if err != nil {
		return nil, err
	}
	voter, err := getUint32(r)
	if err != nil {
		return nil, err
	}
	sig, err := getBytes(r)
	if err != nil {
		return nil, err
	}
	return &Status{
		HQCBlockHash: hash,
		HQC:          qc,
		View:         view,
		Voter:        ReplicaID(int32(voter)),
		Signature:    sig,
	}, nil
}

// Blame 指控当前leader没有推进
type Blame struct {
	View      uint32           `json:"view"`
	Voter     ReplicaID        `json:"voter"`
	Signature tmbytes.HexBytes `json:"signature"`
}

func (b *Blame) ValidateBasic() error {
	if b == nil {
		return errors.New("nil blame")
	}
	if len(b.Signature) == 0 {
		return errors.New("blame carries no signature")
	}
	return nil
}

func (b *Blame) SignBytes() []byte {
	w := new(bytes.Buffer)
	w.WriteString("blame")
	putUint32(w, b.View)
	return w.Bytes()
}

func (b *Blame) Verify(rs *ReplicaSet) error {
	r := rs.GetByID(b.Voter)
	if r == nil {
		return fmt.Errorf("blame from unknown replica %d", b.Voter)
	}
	if !r.PubKey.VerifySignature(b.SignBytes(), b.Signature) {
		return errors.New("bad blame signature")
	}
	return nil
}

func (b *Blame) String() string {
	return fmt.Sprintf("Blame{#%d view=%d}", b.Voter, b.View)
}

func (b *Blame) encode(w *bytes.Buffer) {
	putUint32(w, b.View)
	putUint32(w, uint32(int32(b.Voter)))
	putBytes(w, b.Signature)
}

func decodeBlame(r *bytes.Reader) (*Blame, error) {
	view, err := getUint32(r)
	if err != nil {
		return nil, err
	}
	voter, err := getUint32(r)
	if err != nil {
		return nil, err
	}
	sig, err := getBytes(r)
	if err != nil {
		return nil, err
	}
	return &Blame{View: view, Voter: ReplicaID(int32(voter)), Signature: sig}, nil
}

// BlameNotify 搬运一个blame quorum和发起者的hqc，通知全网换届
type BlameNotify struct {
	View    uint32           `json:"view"`
	HQCHash tmbytes.HexBytes `json:"hqc_hash"`
	HQC     *QuorumCert      `json:"hqc"`
	Blames  []*Blame         `json:"blames"`
}

func (bn *BlameNotify) ValidateBasic() error {
	if bn == nil {
		return errors.New("nil blame notify")
	}
	if len(bn.HQCHash) != HashSize {
		return ErrBadHashSize
	}
	if len(bn.Blames) == 0 {
		return errors.New("blame notify carries no blames")
	}
	for i, b := range bn.Blames {
		if err := b.ValidateBasic(); err != nil {
			return fmt.Errorf("blame #%d: %w", i, err)
		}
	}
	return nil
}

// Verify 要求blame数达到quorum并逐个验签
func (bn *BlameNotify) Verify(rs *ReplicaSet) error {
	if len(bn.Blames) < rs.NMajority() {
		return fmt.Errorf("blame notify has %d blames, need %d", len(bn.Blames), rs.NMajority())
	}
	seen := make(map[ReplicaID]struct{})
	for _, b := range bn.Blames {
		if b.View != bn.View {
			return errors.New("blame view mismatch")
		}
		if _, ok := seen[b.Voter]; ok {
			return fmt.Errorf("duplicate blame from %d", b.Voter)
		}
		seen[b.Voter] = struct{}{}
		if err := b.Verify(rs); err != nil {
			return err
		}
	}
	if bn.HQC != nil {
		return bn.HQC.VerifySignature(rs)
	}
	return nil
}

func (bn *BlameNotify) String() string {
	return fmt.Sprintf("BlameNotify{view=%d #blames=%d}", bn.View, len(bn.Blames))
}

func (bn *BlameNotify) encode(w *bytes.Buffer) {
	putUint32(w, bn.View)
	putHash(w, bn.HQCHash)
	if bn.HQC != nil {
		w.WriteByte(1)
		bn.HQC.encode(w)
	} else {
		w.WriteByte(0)
	}
	putUint32(w, uint32(len(bn.Blames)))
	for _, b := range bn.Blames {
		b.encode(w)
	}
}

func decodeBlameNotify(r *bytes.Reader) (*BlameNotify, error) {
	view, err := getUint32(r)
	if err != nil {
		return nil, err
	}
	hash, err := getHash(r)
	if err != nil {
		return nil, err
	}
	present, err := r.ReadByte()
	if err != nil {
		return nil, ErrShortBuffer
	}
	var qc *QuorumCert
	if present == 1 {
		if qc, err = decodeQuorumCert(r); err != nil {
			return nil, err
		}
	}
	n, err := getUint32(r)
	if err != nil {
		return nil, err
	}
	if n > MaxBodySize/8 {
		return nil, ErrBodyTooLarge
	}
	blames := make([]*Blame, n)
	for i := range blames {
		if blames[i], err = decodeBlame(r); err != nil {
			return nil, err
		}
	}
	return &BlameNotify{View: view, HQCHash: hash, HQC: qc, Blames: blames}, nil
}

// Notify 把一个新鲜的QC推给慢节点
type Notify struct {
	BlockHash tmbytes.HexBytes `json:"block_hash"`
	QC        *QuorumCert      `json:"qc"`
}

func (n *Notify) ValidateBasic() error {
	if n == nil {
		return errors.New("nil notify")
	}
	if len(n.BlockHash) != HashSize {
		return ErrBadHashSize
	}
	if n.QC == nil || !n.QC.IsComplete() {
		return errors.New("notify carries no complete qc")
	}
	if !bytes.Equal(n.BlockHash, n.QC.BlockHash) {
		return errors.New("notify hash and qc disagree")
	}
	return nil
}

func (n *Notify) Verify(rs *ReplicaSet) error {
	return n.QC.VerifySignature(rs)
}

func (n *Notify) String() string {
	return fmt.Sprintf("Notify{%X}", tmbytes.Fingerprint(n.BlockHash))
}

func (n *Notify) encode(w *bytes.Buffer) {
	putHash(w, n.BlockHash)
	n.QC.encode(w)
}

func decodeNotify(r *bytes.Reader) (*Notify, error) {
	hash, err := getHash(r)
	if err != nil {
		return nil, err
	}
	qc, err := decodeQuorumCert(r)
	if err != nil {
		return nil, err
	}
	return &Notify{BlockHash: hash, QC: qc}, nil
}
