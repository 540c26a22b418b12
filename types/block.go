package types

import (
	"bytes"
	"errors"
	"fmt"
	"sync"

	"github.com/tendermint/tendermint/crypto/tmhash"
	tmbytes "github.com/tendermint/tendermint/libs/bytes"
)

var (
	ErrEmptyParents = errors.New("block has no parent hashes")
)

// Decision 区块的提交判定，一旦committed不再回退
type Decision uint8

const (
	DecisionNone      = Decision(0)
	DecisionCommitted = Decision(1)
)

func (d Decision) String() string {
	switch d {
	case DecisionNone:
		return "undecided"
	case DecisionCommitted:
		return "committed"
	default:
		return "UnknownDecision"
	}
}

// Block 协议唯一落盘的实体
// wire部分是parent hash列表、命令hash列表、可选的QC和extra；
// 其余字段都在deliver时在本地补齐，不参与hash计算
type Block struct {
	mtx sync.Mutex

	// ---- wire字段 ----
	ParentHashes []tmbytes.HexBytes `json:"parent_hashes"` // 下标0是primary parent
	Cmds         []tmbytes.HexBytes `json:"cmds"`
	QC           *QuorumCert        `json:"qc"`
	Extra        tmbytes.HexBytes   `json:"extra"`

	// ---- 本地运行时字段 ----
	Height    uint64                 `json:"height"` // parents[0].Height+1，deliver时填
	SelfQC    *QuorumCert            `json:"-"`      // 自己作为proposer时累积投票的证书
	Voted     map[ReplicaID]struct{} `json:"-"`
	Parents   []*Block               `json:"-"`
	QCRef     *Block                 `json:"-"`
	Delivered bool                   `json:"-"`
	Decision  Decision               `json:"-"`

	hash tmbytes.HexBytes
}

// NewBlock 本地提案用的构造函数，parents非空，下标0是primary parent
func NewBlock(parents []*Block, cmds []tmbytes.HexBytes, qc *QuorumCert, extra []byte) *Block {
	parentHashes := make([]tmbytes.HexBytes, len(parents))
	for i, p := range parents {
		parentHashes[i] = p.Hash()
	}
	return &Block{
		ParentHashes: parentHashes,
		Cmds:         cmds,
		QC:           qc,
		Extra:        extra,
		Voted:        make(map[ReplicaID]struct{}),
	}
}

// MakeGenesisBlock genesis区块：没有parent，自引用的QC，高度0
func MakeGenesisBlock() *Block {
	b := &Block{
		ParentHashes: []tmbytes.HexBytes{},
		Cmds:         []tmbytes.HexBytes{},
		Extra:        []byte("genesis"),
		Height:       0,
		Voted:        make(map[ReplicaID]struct{}),
		Delivered:    true,
		Decision:     DecisionCommitted,
	}
	qc := NewGenesisQC(b.Hash())
	b.QC = qc
	b.SelfQC = qc.Clone()
	b.QCRef = b
	return b
}

func (b *Block) IsGenesis() bool {
	return len(b.ParentHashes) == 0
}

// QCRefHash QC指向的区块hash，无QC返回nil
func (b *Block) QCRefHash() tmbytes.HexBytes {
	if b.QC == nil {
		return nil
	}
	return b.QC.BlockHash
}

func (b *Block) ValidateBasic() error {
	if b == nil {
		return errors.New("nil block")
	}
	if len(b.ParentHashes) == 0 && !b.IsGenesis() {
		return ErrEmptyParents
	}
	for i, h := range b.ParentHashes {
		if len(h) != HashSize {
			return fmt.Errorf("parent hash #%d: %w", i, ErrBadHashSize)
		}
	}
	for i, c := range b.Cmds {
		if len(c) != HashSize {
			return fmt.Errorf("cmd hash #%d: %w", i, ErrBadHashSize)
		}
	}
	return nil
}

// Hash 区块body编码的sha256，懒计算
func (b *Block) Hash() tmbytes.HexBytes {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	if b.hash == nil {
		b.hash = tmhash.Sum(b.EncodeBody())
	}
	return b.hash
}

// EncodeBody 按wire格式编码
// nparents:4 | hashes | ncmds:4 | cmds | qc_present:1 | qc? | extra_len:4 | extra
func (b *Block) EncodeBody() []byte {
	w := new(bytes.Buffer)
	putUint32(w, uint32(len(b.ParentHashes)))
	for _, h := range b.ParentHashes {
		putHash(w, h)
	}
	putUint32(w, uint32(len(b.Cmds)))
	for _, c := range b.Cmds {
		putHash(w, c)
	}
	if b.QC != nil {
		w.WriteByte(1)
		b.QC.encode(w)
	} else {
		w.WriteByte(0)
	}
	putBytes(w, b.Extra)
	return w.Bytes()
}

// DecodeBlock 从wire还原区块，运行时字段留空
func DecodeBlock(r *bytes.Reader) (*Block, error) {
	nparents, err := getUint32(r)
	if err != nil {
		return nil, err
	}
	if nparents > MaxBodySize/HashSize {
		return nil, ErrBodyTooLarge
	}
	parents := make([]tmbytes.HexBytes, nparents)
	for i := range parents {
		if parents[i], err = getHash(r); err != nil {
			return nil, err
		}
	}
	ncmds, err := getUint32(r)
	if err != nil {
		return nil, err
	}
	if ncmds > MaxBodySize/HashSize {
		return nil, ErrBodyTooLarge
	}
	cmds := make([]tmbytes.HexBytes, ncmds)
	for i := range cmds {
		if cmds[i], err = getHash(r); err != nil {
			return nil, err
		}
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
	extra, err := getBytes(r)
	if err != nil {
		return nil, err
	}
	return &Block{
		ParentHashes: parents,
		Cmds:         cmds,
		QC:           qc,
		Extra:        extra,
		Voted:        make(map[ReplicaID]struct{}),
	}, nil
}

func (b *Block) String() string {
	if b == nil {
		return "nil-Block"
	}
	return fmt.Sprintf("Blk{%X h=%d #cmds=%d qc=%v delivered=%v %v}",
		tmbytes.Fingerprint(b.Hash()), b.Height, len(b.Cmds), b.QC, b.Delivered, b.Decision)
}
