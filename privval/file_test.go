package privval

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"hotstuff_demo/crypto/bls"
	"hotstuff_demo/crypto/threshold"
	"hotstuff_demo/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendermint/tendermint/crypto/tmhash"
)

func newTestReplicaSet(t *testing.T, n, nfaulty int, seed int64) (*types.ReplicaSet, *threshold.Poly) {
	primary := bls.GenTestPrivKey(seed)
	poly := threshold.Master(primary, 2*nfaulty+1, seed)

	rs := types.NewReplicaSet(poly.PubPoly(), nfaulty)
	for i := 0; i < n; i++ {
		priv, err := poly.GetValue(int64(i))
		require.NoError(t, err)
		require.NoError(t, rs.AddReplica(
			types.NewReplica(types.ReplicaID(i), "", priv.PubKey().(bls.PubKey))))
	}
	return rs, poly
}

func TestGenSaveLoadRoundTrip(t *testing.T) {
	dir, err := ioutil.TempDir("", "privval_test")
	require.NoError(t, err)
	defer os.RemoveAll(dir)
	keyFile := filepath.Join(dir, "priv_key.json")

	pv := GenFilePVWithSeedAndIdx(keyFile, 3, 2, 999)
	pv.Save()

	loaded := LoadFilePV(keyFile)
	assert.Equal(t, pv.GetID(), loaded.GetID())
	assert.Equal(t, types.ReplicaID(2), loaded.GetID())

	pub1, err := pv.GetPubKey()
	require.NoError(t, err)
	pub2, err := loaded.GetPubKey()
	require.NoError(t, err)
	assert.True(t, pub1.Equals(pub2))
}

// 分片签出的部分签名要能过共识组的验证
func TestSignPartialCert(t *testing.T) {
	rs, poly := newTestReplicaSet(t, 4, 1, 999)
	priv, err := poly.GetValue(1)
	require.NoError(t, err)
	pv := NewFilePV(priv, "")

	hash := tmhash.Sum([]byte("block"))
	cert, err := pv.SignPartialCert(hash)
	require.NoError(t, err)

	assert.Equal(t, types.ReplicaID(1), cert.Voter)
	assert.NoError(t, cert.Verify(rs))
}

func TestSignStatusAndBlame(t *testing.T) {
	rs, poly := newTestReplicaSet(t, 4, 1, 999)
	priv, err := poly.GetValue(0)
	require.NoError(t, err)
	pv := NewFilePV(priv, "")

	hash := tmhash.Sum([]byte("hqc"))
	qc := types.NewQuorumCert(hash)
	status := &types.Status{HQCBlockHash: hash, HQC: qc, View: 7}
	require.NoError(t, pv.SignStatus(status))
	assert.Equal(t, types.ReplicaID(0), status.Voter)

	r := rs.GetByID(0)
	assert.True(t, r.PubKey.VerifySignature(status.SignBytes(), status.Signature))

	blame := &types.Blame{View: 7}
	require.NoError(t, pv.SignBlame(blame))
	assert.NoError(t, blame.Verify(rs))
}
