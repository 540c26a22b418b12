package threshold

import (
	"testing"

	"hotstuff_demo/crypto/bls"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testN    = 4
	testT    = 3
	testSeed = int64(1000)
)

func TestShareSignVerify(t *testing.T) {
	primary := bls.GenTestPrivKey(testSeed)
	poly := Master(primary, testT, testSeed)
	pub := poly.PubPoly()
	msg := []byte("three-phase commit")

	for i := int64(0); i < testN; i++ {
		priv, err := poly.GetValue(i)
		require.NoError(t, err)
		assert.Equal(t, int(i), priv.Index)

		sig, err := priv.SignShare(msg)
		require.NoError(t, err)
		assert.NoError(t, pub.VerifyShare(msg, sig))
	}
}

func TestRecoverThreshold(t *testing.T) {
	primary := bls.GenTestPrivKey(testSeed)
	poly := Master(primary, testT, testSeed)
	pub := poly.PubPoly()
	msg := []byte("quorum certificate")

	sigs := make([][]byte, 0, testT)
	for i := int64(0); i < testT; i++ {
		priv, err := poly.GetValue(i)
		require.NoError(t, err)
		sig, err := priv.SignShare(msg)
		require.NoError(t, err)
		sigs = append(sigs, sig)
	}

	agg, err := pub.Recover(msg, sigs, testN)
	require.NoError(t, err)
	assert.NoError(t, pub.VerifyThreshold(msg, agg))

	// 主私钥直接签出来的签名也能过同一个验证
	direct, err := primary.Sign(msg)
	require.NoError(t, err)
	assert.NoError(t, pub.VerifyThreshold(msg, direct))

	// 少于门限不给还原
	_, err = pub.Recover(msg, sigs[:testT-1], testN)
	assert.Error(t, err)
}

func TestPubPolyCommitsRoundTrip(t *testing.T) {
	primary := bls.GenTestPrivKey(testSeed)
	poly := Master(primary, testT, testSeed)
	pub := poly.PubPoly()

	commits, err := pub.MarshalCommits()
	require.NoError(t, err)
	require.Len(t, commits, testT)

	restored, err := PubPolyFromCommits(commits)
	require.NoError(t, err)

	msg := []byte("restored poly")
	priv, err := poly.GetValue(1)
	require.NoError(t, err)
	sig, err := priv.SignShare(msg)
	require.NoError(t, err)

	assert.NoError(t, restored.VerifyShare(msg, sig))
	assert.Equal(t, testT, restored.Threshold())
}

func TestMasterDeterministic(t *testing.T) {
	p1 := Master(bls.GenTestPrivKey(testSeed), testT, testSeed)
	p2 := Master(bls.GenTestPrivKey(testSeed), testT, testSeed)

	s1, err := p1.GetValue(2)
	require.NoError(t, err)
	s2, err := p2.GetValue(2)
	require.NoError(t, err)

	assert.True(t, s1.Equals(s2), "same seed must derive same shares")
}
