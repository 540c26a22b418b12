package types

import (
	"testing"

	"hotstuff_demo/crypto/bls"
	"hotstuff_demo/crypto/threshold"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendermint/tendermint/crypto/tmhash"
	tmbytes "github.com/tendermint/tendermint/libs/bytes"
)

// 生成n个副本的共识组和对应的私钥分片
func newTestReplicaSet(t *testing.T, n, nfaulty int, seed int64) (*ReplicaSet, []bls.PrivKey) {
	primary := bls.GenTestPrivKey(seed)
	poly := threshold.Master(primary, 2*nfaulty+1, seed)

	rs := NewReplicaSet(poly.PubPoly(), nfaulty)
	privs := make([]bls.PrivKey, n)
	for i := 0; i < n; i++ {
		priv, err := poly.GetValue(int64(i))
		require.NoError(t, err)
		privs[i] = priv
		pub := priv.PubKey().(bls.PubKey)
		require.NoError(t, rs.AddReplica(NewReplica(ReplicaID(i), "", pub)))
	}
	return rs, privs
}

func signShare(t *testing.T, priv bls.PrivKey, hash tmbytes.HexBytes) []byte {
	sig, err := priv.SignShare(hash)
	require.NoError(t, err)
	return sig
}

// 收集nmajority个部分签名后Compute，门限签名可以验证通过
func TestQuorumCertCompute(t *testing.T) {
	rs, privs := newTestReplicaSet(t, 4, 1, 100)
	hash := tmhash.Sum([]byte("block"))

	qc := NewQuorumCert(hash)
	for i := 0; i < rs.NMajority(); i++ {
		require.NoError(t, qc.AddPart(ReplicaID(i), signShare(t, privs[i], hash)))
	}
	require.NoError(t, qc.Compute(rs))

	assert.True(t, qc.IsComplete())
	assert.NoError(t, qc.VerifySignature(rs))

	// Compute幂等
	before := qc.AggSig
	require.NoError(t, qc.Compute(rs))
	assert.Equal(t, before, qc.AggSig)
}

func TestQuorumCertDupPart(t *testing.T) {
	rs, privs := newTestReplicaSet(t, 4, 1, 101)
	hash := tmhash.Sum([]byte("block"))

	qc := NewQuorumCert(hash)
	require.NoError(t, qc.AddPart(0, signShare(t, privs[0], hash)))
	assert.Equal(t, ErrDupPart, qc.AddPart(0, signShare(t, privs[0], hash)))

	// 不够门限时Compute失败
	assert.Error(t, qc.Compute(rs))
	_ = rs
}

func TestQuorumCertClone(t *testing.T) {
	rs, privs := newTestReplicaSet(t, 4, 1, 102)
	hash := tmhash.Sum([]byte("block"))

	qc := NewQuorumCert(hash)
	for i := 0; i < rs.NMajority(); i++ {
		require.NoError(t, qc.AddPart(ReplicaID(i), signShare(t, privs[i], hash)))
	}
	require.NoError(t, qc.Compute(rs))

	cp := qc.Clone()
	assert.NoError(t, cp.VerifySignature(rs))
	assert.Equal(t, qc.Voters, cp.Voters)

	// 修改副本不影响原件
	cp.Voters = append(cp.Voters, 99)
	assert.NotEqual(t, len(qc.Voters), len(cp.Voters))
}

// 部分签名的验证：正确的通过，错副本签的不通过
func TestPartialCertVerify(t *testing.T) {
	rs, privs := newTestReplicaSet(t, 4, 1, 103)
	hash := tmhash.Sum([]byte("block"))

	cert := &PartialCert{Voter: 1, BlockHash: hash, Sig: signShare(t, privs[1], hash)}
	assert.NoError(t, cert.Verify(rs))

	wrong := &PartialCert{Voter: 1, BlockHash: hash, Sig: signShare(t, privs[1], tmhash.Sum([]byte("other")))}
	assert.Error(t, wrong.Verify(rs))
}
