package threshold

import (
	"encoding/binary"
	"errors"
	"fmt"

	"hotstuff_demo/crypto/bls"

	tmbytes "github.com/tendermint/tendermint/libs/bytes"
	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/kyber/v3/share"
	kyberbls "go.dedis.ch/kyber/v3/sign/bls"
	"go.dedis.ch/kyber/v3/sign/tbls"
	"go.dedis.ch/kyber/v3/xof/blake2xb"
)

var (
	ErrShareIndex    = errors.New("share index out of polynomial range")
	ErrNotEnoughSigs = errors.New("not enough signature shares to recover")
)

// Master 以主私钥为常数项生成t-1阶随机多项式
// 多项式上的每个点就是一个节点的私钥分片，t个分片可以还原门限签名
func Master(primary bls.PrivKey, t int, seed int64) *Poly {
	pri := share.NewPriPoly(bls.Suite.G2(), t, primary.Key(), seedStream(seed))
	return &Poly{
		t:   t,
		pri: pri,
		pub: pri.Commit(bls.Suite.G2().Point().Base()),
	}
}

// Poly 门限签名的多项式，持有者可以派生任意编号的私钥分片
type Poly struct {
	t   int
	pri *share.PriPoly
	pub *share.PubPoly
}

// GetValue 返回编号idx的私钥分片，idx从0开始
func (p *Poly) GetValue(idx int64) (bls.PrivKey, error) {
	if idx < 0 {
		return bls.PrivKey{}, ErrShareIndex
	}
	return bls.NewPrivKeyFromShare(p.pri.Eval(int(idx))), nil
}

// PubPoly 多项式的公开承诺，用来验证部分签名和还原门限签名
func (p *Poly) PubPoly() *PubPoly {
	return &PubPoly{t: p.t, pub: p.pub}
}

// PubPoly 公开多项式承诺的包装，可以序列化后写入genesis
type PubPoly struct {
	t   int
	pub *share.PubPoly
}

func (pp *PubPoly) Threshold() int {
	return pp.t
}

// SharePubKey 派生编号idx分片对应的公钥
func (pp *PubPoly) SharePubKey(idx int64) bls.PubKey {
	return bls.NewPubKeyFromPoint(pp.pub.Eval(int(idx)).V)
}

// PrimaryPubKey 主公钥，门限签名用它验证
func (pp *PubPoly) PrimaryPubKey() bls.PubKey {
	return bls.NewPubKeyFromPoint(pp.pub.Commit())
}

// VerifyShare 验证一个带编号的部分签名
func (pp *PubPoly) VerifyShare(msg, sig []byte) error {
	return tbls.Verify(bls.Suite, pp.pub, msg, sig)
}

// Recover 从至少t个部分签名还原出门限签名
func (pp *PubPoly) Recover(msg []byte, sigs [][]byte, n int) ([]byte, error) {
	if len(sigs) < pp.t {
		return nil, ErrNotEnoughSigs
	}
	return tbls.Recover(bls.Suite, pp.pub, msg, sigs, pp.t, n)
}

// VerifyThreshold 验证还原后的门限签名
func (pp *PubPoly) VerifyThreshold(msg, sig []byte) error {
	return kyberbls.Verify(bls.Suite, pp.pub.Commit(), msg, sig)
}

// MarshalCommits 导出多项式的承诺点，逐点序列化
func (pp *PubPoly) MarshalCommits() ([]tmbytes.HexBytes, error) {
	base, commits := pp.pub.Info()
	if !base.Equal(bls.Suite.G2().Point().Base()) {
		return nil, errors.New("pub poly committed on a non-standard base")
	}
	out := make([]tmbytes.HexBytes, len(commits))
	for i, c := range commits {
		raw, err := c.MarshalBinary()
		if err != nil {
			return nil, err
		}
		out[i] = raw
	}
	return out, nil
}

// PubPolyFromCommits 从genesis里的承诺点还原公开多项式
func PubPolyFromCommits(raws []tmbytes.HexBytes) (*PubPoly, error) {
	if len(raws) == 0 {
		return nil, errors.New("empty pub poly commits")
	}
	commits := make([]kyber.Point, len(raws))
	for i, raw := range raws {
		point := bls.Suite.G2().Point()
		if err := point.UnmarshalBinary(raw); err != nil {
			return nil, fmt.Errorf("commit #%d: %w", i, err)
		}
		commits[i] = point
	}
	pub := share.NewPubPoly(bls.Suite.G2(), bls.Suite.G2().Point().Base(), commits)
	return &PubPoly{t: len(commits), pub: pub}, nil
}

func seedStream(seed int64) kyber.XOF {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(seed))
	return blake2xb.New(buf[:])
}
