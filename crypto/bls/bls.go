package bls

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/tendermint/tendermint/crypto"
	"github.com/tendermint/tendermint/crypto/tmhash"
	tmbytes "github.com/tendermint/tendermint/libs/bytes"
	tmjson "github.com/tendermint/tendermint/libs/json"
	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/kyber/v3/pairing/bn256"
	"go.dedis.ch/kyber/v3/share"
	"go.dedis.ch/kyber/v3/sign/bls"
	"go.dedis.ch/kyber/v3/sign/tbls"
	"go.dedis.ch/kyber/v3/xof/blake2xb"
)

const (
	PrivKeyName = "hotstuff/PrivKeyBLS"
	PubKeyName  = "hotstuff/PubKeyBLS"

	KeyType = "bls-bn256"
)

// Suite - bls签名使用的配对曲线，全局唯一
var Suite = bn256.NewSuite()

func init() {
	tmjson.RegisterType(PubKey{}, PubKeyName)
	tmjson.RegisterType(PrivKey{}, PrivKeyName)
}

// -------------------- PrivKey --------------------

// PrivKey bls私钥，同时承担两种角色：
//   - Index < 0 : 独立私钥（门限多项式的主私钥），Sign生成普通bls签名
//   - Index >= 0: 门限多项式上的私钥分片，SignShare生成带编号的部分签名
type PrivKey struct {
	Index  int              `json:"index"`
	Scalar tmbytes.HexBytes `json:"scalar"`

	scalar kyber.Scalar // 反序列化后的缓存
}

// GenPrivKeyWithSeed 根据seed生成确定性的独立私钥
func GenPrivKeyWithSeed(seed int64) PrivKey {
	scalar := Suite.G2().Scalar().Pick(seedStream(seed))
	return newPrivKey(-1, scalar)
}

// GenTestPrivKey 测试用的确定性私钥
func GenTestPrivKey(seed int64) PrivKey {
	return GenPrivKeyWithSeed(seed)
}

// GenPrimaryKeyWithSeed 返回seed对应主私钥的公钥
func GenPrimaryKeyWithSeed(seed int64) PubKey {
	priv := GenPrivKeyWithSeed(seed)
	return priv.PubKey().(PubKey)
}

func newPrivKey(index int, scalar kyber.Scalar) PrivKey {
	raw, err := scalar.MarshalBinary()
	if err != nil {
		panic(err)
	}
	return PrivKey{Index: index, Scalar: raw, scalar: scalar}
}

// NewPrivKeyFromShare 从门限多项式的分片构造私钥
func NewPrivKeyFromShare(s *share.PriShare) PrivKey {
	return newPrivKey(s.I, s.V)
}

func (priv PrivKey) Key() kyber.Scalar {
	if priv.scalar != nil {
		return priv.scalar
	}
	scalar := Suite.G2().Scalar()
	if err := scalar.UnmarshalBinary(priv.Scalar); err != nil {
		panic(fmt.Sprintf("corrupted bls scalar: %v", err))
	}
	return scalar
}

// PriShare 返回kyber的分片形式，给tbls使用
func (priv PrivKey) PriShare() *share.PriShare {
	return &share.PriShare{I: priv.Index, V: priv.Key()}
}

func (priv PrivKey) Bytes() []byte {
	buf := make([]byte, 4+len(priv.Scalar))
	binary.LittleEndian.PutUint32(buf[:4], uint32(int32(priv.Index)))
	copy(buf[4:], priv.Scalar)
	return buf
}

// Sign 普通bls签名
func (priv PrivKey) Sign(msg []byte) ([]byte, error) {
	return bls.Sign(Suite, priv.Key(), msg)
}

// SignShare 门限部分签名，签名自带分片编号
func (priv PrivKey) SignShare(msg []byte) ([]byte, error) {
	if priv.Index < 0 {
		return nil, fmt.Errorf("primary key cannot sign a threshold share")
	}
	return tbls.Sign(Suite, priv.PriShare(), msg)
}

func (priv PrivKey) PubKey() crypto.PubKey {
	point := Suite.G2().Point().Mul(priv.Key(), nil)
	return newPubKey(point)
}

func (priv PrivKey) Equals(other crypto.PrivKey) bool {
	o, ok := other.(PrivKey)
	if !ok {
		return false
	}
	return priv.Index == o.Index && bytes.Equal(priv.Scalar, o.Scalar)
}

func (priv PrivKey) Type() string {
	return KeyType
}

// -------------------- PubKey --------------------

type PubKey struct {
	Point tmbytes.HexBytes `json:"point"`

	point kyber.Point
}

func newPubKey(point kyber.Point) PubKey {
	raw, err := point.MarshalBinary()
	if err != nil {
		panic(err)
	}
	return PubKey{Point: raw, point: point}
}

// NewPubKeyFromPoint 从kyber的G2点构造公钥
func NewPubKeyFromPoint(point kyber.Point) PubKey {
	return newPubKey(point)
}

func (pub PubKey) Key() kyber.Point {
	if pub.point != nil {
		return pub.point
	}
	point := Suite.G2().Point()
	if err := point.UnmarshalBinary(pub.Point); err != nil {
		panic(fmt.Sprintf("corrupted bls point: %v", err))
	}
	return point
}

func (pub PubKey) Address() crypto.Address {
	return crypto.Address(tmhash.SumTruncated(pub.Point))
}

func (pub PubKey) Bytes() []byte {
	return pub.Point
}

// VerifySignature 验证普通bls签名
func (pub PubKey) VerifySignature(msg []byte, sig []byte) bool {
	return bls.Verify(Suite, pub.Key(), msg, sig) == nil
}

func (pub PubKey) Equals(other crypto.PubKey) bool {
	o, ok := other.(PubKey)
	if !ok {
		return false
	}
	return bytes.Equal(pub.Point, o.Point)
}

func (pub PubKey) Type() string {
	return KeyType
}

// -------------------- helpers --------------------

func seedStream(seed int64) kyber.XOF {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(seed))
	return blake2xb.New(buf[:])
}
