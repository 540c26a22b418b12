package types

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	tmbytes "github.com/tendermint/tendermint/libs/bytes"
)

var (
	ErrQCComplete   = errors.New("quorum cert already finalized")
	ErrQCIncomplete = errors.New("quorum cert has no threshold signature yet")
	ErrDupPart      = errors.New("duplicate partial cert")
)

// PartialCert 单个副本对区块hash的部分签名，凑齐nmajority个就能合成QC
type PartialCert struct {
	Voter     ReplicaID        `json:"voter"`
	BlockHash tmbytes.HexBytes `json:"block_hash"`
	Sig       tmbytes.HexBytes `json:"sig"`
}

func (pc *PartialCert) ValidateBasic() error {
	if pc == nil {
		return errors.New("nil partial cert")
	}
	if len(pc.BlockHash) != HashSize {
		return ErrBadHashSize
	}
	if len(pc.Sig) == 0 {
		return errors.New("empty partial signature")
	}
	return nil
}

// Verify 用共识组的公开多项式验证部分签名
func (pc *PartialCert) Verify(rs *ReplicaSet) error {
	if err := pc.ValidateBasic(); err != nil {
		return err
	}
	return rs.VerifyShare(pc.BlockHash, pc.Sig)
}

func (pc *PartialCert) String() string {
	return fmt.Sprintf("PartCert{#%d votes %X}", pc.Voter, tmbytes.Fingerprint(pc.BlockHash))
}

// QuorumCert 针对某个区块hash的门限签名证书
// 在达到nmajority个部分签名并Compute之前，AggSig为空
type QuorumCert struct {
	BlockHash tmbytes.HexBytes `json:"block_hash"`
	AggSig    tmbytes.HexBytes `json:"agg_sig"`
	Voters    []ReplicaID      `json:"voters"`

	parts map[ReplicaID][]byte
}

// NewQuorumCert 创建一张空的证书，等待部分签名
func NewQuorumCert(blockHash tmbytes.HexBytes) *QuorumCert {
	return &QuorumCert{
		BlockHash: blockHash,
		parts:     make(map[ReplicaID][]byte),
	}
}

// NewGenesisQC genesis自引用的QC，视作已经被全体副本认可，不参与验证
func NewGenesisQC(blockHash tmbytes.HexBytes) *QuorumCert {
	qc := NewQuorumCert(blockHash)
	qc.AggSig = []byte("genesis")
	return qc
}

func (qc *QuorumCert) IsComplete() bool {
	return len(qc.AggSig) > 0
}

// AddPart 收集一个部分签名，重复投票返回ErrDupPart
func (qc *QuorumCert) AddPart(voter ReplicaID, sig []byte) error {
	if qc.IsComplete() {
		return ErrQCComplete
	}
	if qc.parts == nil {
		qc.parts = make(map[ReplicaID][]byte)
	}
	if _, ok := qc.parts[voter]; ok {
		return ErrDupPart
	}
	qc.parts[voter] = sig
	qc.Voters = append(qc.Voters, voter)
	sort.Slice(qc.Voters, func(i, j int) bool { return qc.Voters[i] < qc.Voters[j] })
	return nil
}

// Compute 凑齐门限后合成完整的门限签名，幂等
func (qc *QuorumCert) Compute(rs *ReplicaSet) error {
	if qc.IsComplete() {
		return nil
	}
	sigs := make([][]byte, 0, len(qc.parts))
	for _, id := range qc.Voters {
		sigs = append(sigs, qc.parts[id])
	}
	agg, err := rs.RecoverThreshold(qc.BlockHash, sigs)
	if err != nil {
		return err
	}
	qc.AggSig = agg
	return nil
}

// VerifySignature 验证合成后的门限签名
func (qc *QuorumCert) VerifySignature(rs *ReplicaSet) error {
	if !qc.IsComplete() {
		return ErrQCIncomplete
	}
	return rs.VerifyThreshold(qc.BlockHash, qc.AggSig)
}

// Clone 深拷贝，未合成的部分签名一并复制
func (qc *QuorumCert) Clone() *QuorumCert {
	if qc == nil {
		return nil
	}
	cp := &QuorumCert{
		BlockHash: append(tmbytes.HexBytes(nil), qc.BlockHash...),
		AggSig:    append(tmbytes.HexBytes(nil), qc.AggSig...),
		Voters:    append([]ReplicaID(nil), qc.Voters...),
		parts:     make(map[ReplicaID][]byte, len(qc.parts)),
	}
	for id, sig := range qc.parts {
		cp.parts[id] = sig
	}
	return cp
}

func (qc *QuorumCert) String() string {
	if qc == nil {
		return "nil-QC"
	}
	return fmt.Sprintf("QC{%X voters=%v complete=%v}",
		tmbytes.Fingerprint(qc.BlockHash), qc.Voters, qc.IsComplete())
}

// ---- wire编码：只有合成后的证书才会上链路 ----

func (qc *QuorumCert) encode(w *bytes.Buffer) {
	putHash(w, qc.BlockHash)
	putBytes(w, qc.AggSig)
	putUint32(w, uint32(len(qc.Voters)))
	for _, id := range qc.Voters {
		putUint32(w, uint32(int32(id)))
	}
}

func decodeQuorumCert(r *bytes.Reader) (*QuorumCert, error) {
	hash, err := getHash(r)
	if err != nil {
		return nil, err
	}
	agg, err := getBytes(r)
	if err != nil {
		return nil, err
	}
	n, err := getUint32(r)
	if err != nil {
		return nil, err
	}
	if n > MaxBodySize/4 {
		return nil, ErrBodyTooLarge
	}
	voters := make([]ReplicaID, n)
	for i := range voters {
		v, err := getUint32(r)
		if err != nil {
			return nil, err
		}
		voters[i] = ReplicaID(int32(v))
	}
	return &QuorumCert{BlockHash: hash, AggSig: agg, Voters: voters}, nil
}
