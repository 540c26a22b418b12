package types

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"strings"

	"hotstuff_demo/crypto/bls"
	"hotstuff_demo/crypto/threshold"

	"github.com/tendermint/tendermint/crypto"
	"github.com/tendermint/tendermint/crypto/merkle"
)

// ReplicaID 副本编号，同时也是门限私钥分片的编号
type ReplicaID int32

type Address = crypto.Address

// Replica 共识组里的一个副本
type Replica struct {
	ID      ReplicaID  `json:"id"`
	Address Address    `json:"address"`
	NetAddr string     `json:"net_addr"`
	PubKey  bls.PubKey `json:"pub_key"`
}

func NewReplica(id ReplicaID, netAddr string, pubKey bls.PubKey) *Replica {
	return &Replica{
		ID:      id,
		Address: pubKey.Address(),
		NetAddr: netAddr,
		PubKey:  pubKey,
	}
}

func (r *Replica) ValidateBasic() error {
	if r == nil {
		return errors.New("nil replica")
	}
	if r.ID < 0 {
		return fmt.Errorf("negative replica id: %d", r.ID)
	}
	if len(r.PubKey.Point) == 0 {
		return errors.New("replica does not have a public key")
	}
	if len(r.Address) != crypto.AddressSize {
		return fmt.Errorf("replica address is the wrong size: %v", r.Address)
	}
	return nil
}

func (r *Replica) Copy() *Replica {
	rCopy := *r
	return &rCopy
}

func (r *Replica) String() string {
	if r == nil {
		return "nil-Replica"
	}
	return fmt.Sprintf("Replica{#%d %v @%s}", r.ID, r.Address, r.NetAddr)
}

func (r *Replica) Bytes() []byte {
	return r.PubKey.Bytes()
}

// ReplicaSet 固定的共识组配置：n个副本，容忍nfaulty个拜占庭节点
// 本协议变体要求 n >= 2f+1，quorum门限 nmajority = 2f+1
//
// NOTE: Not goroutine-safe.
type ReplicaSet struct {
	Replicas []*Replica `json:"replicas"`
	NFaulty  int        `json:"nfaulty"`

	pubPoly *threshold.PubPoly
}

// NewReplicaSet 创建共识组配置，nfaulty是显式配置而不是从节点数推导
func NewReplicaSet(pubPoly *threshold.PubPoly, nfaulty int) *ReplicaSet {
	return &ReplicaSet{
		Replicas: []*Replica{},
		NFaulty:  nfaulty,
		pubPoly:  pubPoly,
	}
}

func (rs *ReplicaSet) ValidateBasic() error {
	if rs.IsNilOrEmpty() {
		return errors.New("replica set is nil or empty")
	}
	for idx, r := range rs.Replicas {
		if err := r.ValidateBasic(); err != nil {
			return fmt.Errorf("invalid replica #%d: %w", idx, err)
		}
	}
	if rs.NMajority() > rs.Size() {
		return fmt.Errorf("nmajority %d exceeds replica count %d", rs.NMajority(), rs.Size())
	}
	return nil
}

func (rs *ReplicaSet) IsNilOrEmpty() bool {
	return rs == nil || len(rs.Replicas) == 0
}

// AddReplica 注册一个副本，按ID保持有序
func (rs *ReplicaSet) AddReplica(r *Replica) error {
	if rs.HasID(r.ID) {
		return fmt.Errorf("replica %d already exists", r.ID)
	}
	rs.Replicas = append(rs.Replicas, r)
	sort.Slice(rs.Replicas, func(i, j int) bool {
		return rs.Replicas[i].ID < rs.Replicas[j].ID
	})
	return nil
}

// NMajority quorum门限，2f+1
func (rs *ReplicaSet) NMajority() int {
	return 2*rs.NFaulty + 1
}

func (rs *ReplicaSet) Size() int {
	return len(rs.Replicas)
}

func (rs *ReplicaSet) HasID(id ReplicaID) bool {
	return rs.GetByID(id) != nil
}

func (rs *ReplicaSet) GetByID(id ReplicaID) *Replica {
	for _, r := range rs.Replicas {
		if r.ID == id {
			return r
		}
	}
	return nil
}

func (rs *ReplicaSet) GetByAddress(address []byte) *Replica {
	for _, r := range rs.Replicas {
		if bytes.Equal(r.Address, address) {
			return r.Copy()
		}
	}
	return nil
}

// GetProposer 轮转leader：view对副本数取模
func (rs *ReplicaSet) GetProposer(view uint32) *Replica {
	if len(rs.Replicas) == 0 {
		return nil
	}
	return rs.Replicas[int(view)%len(rs.Replicas)].Copy()
}

// SetPubPoly 从genesis恢复replica set时补上门限多项式
func (rs *ReplicaSet) SetPubPoly(pp *threshold.PubPoly) {
	rs.pubPoly = pp
}

func (rs *ReplicaSet) PubPoly() *threshold.PubPoly {
	return rs.pubPoly
}

// VerifyShare 验证replica id签出的部分签名
func (rs *ReplicaSet) VerifyShare(msg, sig []byte) error {
	if rs.pubPoly == nil {
		return errors.New("replica set has no pub poly")
	}
	return rs.pubPoly.VerifyShare(msg, sig)
}

// RecoverThreshold 从部分签名集合还原门限签名
func (rs *ReplicaSet) RecoverThreshold(msg []byte, sigs [][]byte) ([]byte, error) {
	if rs.pubPoly == nil {
		return nil, errors.New("replica set has no pub poly")
	}
	return rs.pubPoly.Recover(msg, sigs, rs.Size())
}

// VerifyThreshold 验证完整的门限签名
func (rs *ReplicaSet) VerifyThreshold(msg, sig []byte) error {
	if rs.pubPoly == nil {
		return errors.New("replica set has no pub poly")
	}
	return rs.pubPoly.VerifyThreshold(msg, sig)
}

// Hash replica列表的merkle root
func (rs *ReplicaSet) Hash() []byte {
	bzs := make([][]byte, len(rs.Replicas))
	for i, r := range rs.Replicas {
		bzs[i] = r.Bytes()
	}
	return merkle.HashFromByteSlices(bzs)
}

func (rs *ReplicaSet) Iterate(fn func(index int, r *Replica) bool) {
	for i, r := range rs.Replicas {
		if fn(i, r.Copy()) {
			break
		}
	}
}

func (rs *ReplicaSet) String() string {
	if rs == nil {
		return "nil-ReplicaSet"
	}
	var strs []string
	rs.Iterate(func(_ int, r *Replica) bool {
		strs = append(strs, r.String())
		return false
	})
	return fmt.Sprintf("ReplicaSet{f=%d, q=%d, [%s]}", rs.NFaulty, rs.NMajority(), strings.Join(strs, " "))
}
