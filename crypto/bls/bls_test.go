package bls

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tmjson "github.com/tendermint/tendermint/libs/json"
)

func TestSignVerify(t *testing.T) {
	priv := GenPrivKeyWithSeed(7)
	msg := []byte("hello")

	sig, err := priv.Sign(msg)
	require.NoError(t, err)

	pub := priv.PubKey()
	assert.True(t, pub.VerifySignature(msg, sig))
	assert.False(t, pub.VerifySignature([]byte("tampered"), sig))
}

func TestSeededKeyDeterministic(t *testing.T) {
	a := GenPrivKeyWithSeed(42)
	b := GenPrivKeyWithSeed(42)
	c := GenPrivKeyWithSeed(43)

	assert.True(t, a.Equals(b))
	assert.False(t, a.Equals(c))
	assert.True(t, a.PubKey().Equals(b.PubKey()))
}

func TestPrimaryKeyCannotSignShare(t *testing.T) {
	priv := GenPrivKeyWithSeed(7)
	_, err := priv.SignShare([]byte("msg"))
	assert.Error(t, err, "independent key has no share index")
}

func TestKeyJSONRoundTrip(t *testing.T) {
	priv := GenPrivKeyWithSeed(7)

	bz, err := tmjson.Marshal(priv)
	require.NoError(t, err)

	var restored PrivKey
	require.NoError(t, tmjson.Unmarshal(bz, &restored))
	assert.True(t, priv.Equals(restored))

	msg := []byte("roundtrip")
	sig, err := restored.Sign(msg)
	require.NoError(t, err)
	assert.True(t, priv.PubKey().VerifySignature(msg, sig))
}

func TestAddress(t *testing.T) {
	pub := GenPrimaryKeyWithSeed(7)
	assert.Len(t, []byte(pub.Address()), 20)
}
