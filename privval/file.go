package privval

import (
	"fmt"
	"io/ioutil"

	"hotstuff_demo/crypto/bls"
	"hotstuff_demo/crypto/threshold"
	"hotstuff_demo/types"

	"github.com/tendermint/tendermint/crypto"
	tmbytes "github.com/tendermint/tendermint/libs/bytes"
	tmjson "github.com/tendermint/tendermint/libs/json"
	tmos "github.com/tendermint/tendermint/libs/os"
	"github.com/tendermint/tendermint/libs/tempfile"
)

//-------------------------------------------------------------------------------

// FilePVKey stores the immutable part of PrivValidator.
type FilePVKey struct {
	ID      types.ReplicaID `json:"id"`
	Address types.Address   `json:"address"`
	PubKey  crypto.PubKey   `json:"pub_key"`
	PrivKey bls.PrivKey     `json:"priv_key"`

	filePath string
}

// Save persists the FilePVKey to its filePath.
func (pvKey FilePVKey) Save() {
	outFile := pvKey.filePath
	if outFile == "" {
		panic("cannot save PrivValidator key: filePath not set")
	}

	jsonBytes, err := tmjson.MarshalIndent(pvKey, "", "  ")
	if err != nil {
		panic(err)
	}
	err = tempfile.WriteFileAtomic(outFile, jsonBytes, 0600)
	if err != nil {
		panic(err)
	}
}

//-------------------------------------------------------------------------------

// FilePV implements PrivValidator using data persisted to disk.
// 私钥是门限多项式上的分片，分片编号就是副本的ReplicaID
type FilePV struct {
	Key FilePVKey
}

var _ types.PrivValidator = (*FilePV)(nil)

// NewFilePV generates a new validator from the given key and paths.
func NewFilePV(privKey bls.PrivKey, keyFilePath string) *FilePV {
	return &FilePV{
		Key: FilePVKey{
			ID:       types.ReplicaID(privKey.Index),
			Address:  privKey.PubKey().Address(),
			PubKey:   privKey.PubKey(),
			PrivKey:  privKey,
			filePath: keyFilePath,
		},
	}
}

// GenFilePVWithSeedAndIdx 从集群seed派生门限多项式，取第idx个分片做私钥
func GenFilePVWithSeedAndIdx(keyFilePath string, thresholdVal int, idx, seed int64) *FilePV {
	// 集群主私钥
	primary := bls.GenPrivKeyWithSeed(seed)

	// 根据主私钥生成的随机多项式 用来生成节点的私钥
	poly := threshold.Master(primary, thresholdVal, seed)

	// 节点自己的私钥分片
	priv, err := poly.GetValue(idx)
	if err != nil {
		panic(err)
	}
	return NewFilePV(priv, keyFilePath)
}

// LoadFilePV loads a FilePV from the filePaths.
func LoadFilePV(keyFilePath string) *FilePV {
	keyJSONBytes, err := ioutil.ReadFile(keyFilePath)
	if err != nil {
		tmos.Exit(err.Error())
	}
	pvKey := FilePVKey{}
	err = tmjson.Unmarshal(keyJSONBytes, &pvKey)
	if err != nil {
		tmos.Exit(fmt.Sprintf("Error reading PrivValidator key from %v: %v\n", keyFilePath, err))
	}

	// overwrite pubkey and address for convenience
	pvKey.ID = types.ReplicaID(pvKey.PrivKey.Index)
	pvKey.PubKey = pvKey.PrivKey.PubKey()
	pvKey.Address = pvKey.PubKey.Address()
	pvKey.filePath = keyFilePath

	return &FilePV{Key: pvKey}
}

// Save persists the FilePV to disk.
func (pv *FilePV) Save() {
	pv.Key.Save()
}

// GetAddress returns the address of the validator.
func (pv *FilePV) GetAddress() types.Address {
	return pv.Key.Address
}

// GetID returns the replica id, which equals the key share index.
func (pv *FilePV) GetID() types.ReplicaID {
	return pv.Key.ID
}

// GetPubKey returns the public key of the validator.
// Implements PrivValidator.
func (pv *FilePV) GetPubKey() (crypto.PubKey, error) {
	return pv.Key.PubKey, nil
}

// SignPartialCert 对区块hash生成带编号的部分签名
// Implements PrivValidator.
func (pv *FilePV) SignPartialCert(blockHash tmbytes.HexBytes) (*types.PartialCert, error) {
	sig, err := pv.Key.PrivKey.SignShare(blockHash)
	if err != nil {
		return nil, fmt.Errorf("error signing partial cert: %w", err)
	}
	return &types.PartialCert{
		Voter:     pv.Key.ID,
		BlockHash: blockHash,
		Sig:       sig,
	}, nil
}

// SignStatus 填上status的签名
// Implements PrivValidator.
func (pv *FilePV) SignStatus(status *types.Status) error {
	status.Voter = pv.Key.ID
	sig, err := pv.Key.PrivKey.Sign(status.SignBytes())
	if err != nil {
		return fmt.Errorf("error signing status: %w", err)
	}
	status.Signature = sig
	return nil
}

// SignBlame 填上blame的签名
// Implements PrivValidator.
func (pv *FilePV) SignBlame(blame *types.Blame) error {
	blame.Voter = pv.Key.ID
	sig, err := pv.Key.PrivKey.Sign(blame.SignBytes())
	if err != nil {
		return fmt.Errorf("error signing blame: %w", err)
	}
	blame.Signature = sig
	return nil
}

func (pv *FilePV) String() string {
	return fmt.Sprintf("PrivValidator{#%d %v}", pv.Key.ID, pv.GetAddress())
}
