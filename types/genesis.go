package types

import (
	"errors"
	"fmt"
	"io/ioutil"
	"time"

	"hotstuff_demo/crypto/bls"
	"hotstuff_demo/crypto/threshold"

	tmbytes "github.com/tendermint/tendermint/libs/bytes"
	tmjson "github.com/tendermint/tendermint/libs/json"
	tmos "github.com/tendermint/tendermint/libs/os"
)

// GenesisReplica genesis文件里的单个副本描述
type GenesisReplica struct {
	ID      ReplicaID  `json:"id"`
	Address Address    `json:"address"`
	NetAddr string     `json:"net_addr"`
	PubKey  bls.PubKey `json:"pub_key"`
	Name    string     `json:"name"`
}

// GenesisDoc 集群的创世配置：副本表、容错数和门限多项式的公开承诺
type GenesisDoc struct {
	ChainID        string             `json:"chain_id"`
	GenesisTime    time.Time          `json:"genesis_time"`
	NFaulty        int                `json:"nfaulty"`
	Replicas       []GenesisReplica   `json:"replicas"`
	PubReplica     GenesisReplica     `json:"pub_replica"` // 主公钥，门限签名的验证键
	PubPolyCommits []tmbytes.HexBytes `json:"pub_poly_commits"`
}

func (genDoc *GenesisDoc) ValidateAndComplete() error {
	if genDoc.ChainID == "" {
		return errors.New("genesis doc must include non-empty chain_id")
	}
	if len(genDoc.Replicas) == 0 {
		return errors.New("genesis doc has no replicas")
	}
	if genDoc.NFaulty < 0 {
		return errors.New("negative nfaulty")
	}
	if 2*genDoc.NFaulty+1 > len(genDoc.Replicas) {
		return fmt.Errorf("nmajority %d exceeds replica count %d",
			2*genDoc.NFaulty+1, len(genDoc.Replicas))
	}
	if len(genDoc.PubPolyCommits) == 0 {
		return errors.New("genesis doc has no pub poly commits")
	}
	if genDoc.GenesisTime.IsZero() {
		genDoc.GenesisTime = time.Now()
	}
	return nil
}

// ReplicaSet 根据genesis构造共识组配置
func (genDoc *GenesisDoc) ReplicaSet() (*ReplicaSet, error) {
	pubPoly, err := threshold.PubPolyFromCommits(genDoc.PubPolyCommits)
	if err != nil {
		return nil, err
	}
	rs := NewReplicaSet(pubPoly, genDoc.NFaulty)
	for _, gr := range genDoc.Replicas {
		if err := rs.AddReplica(NewReplica(gr.ID, gr.NetAddr, gr.PubKey)); err != nil {
			return nil, err
		}
	}
	return rs, nil
}

// SaveAs 保存genesis到文件
func (genDoc *GenesisDoc) SaveAs(file string) error {
	genDocBytes, err := tmjson.MarshalIndent(genDoc, "", "  ")
	if err != nil {
		return err
	}
	return tmos.WriteFile(file, genDocBytes, 0644)
}

// GenesisDocFromJSON 反序列化并校验genesis
func GenesisDocFromJSON(jsonBlob []byte) (*GenesisDoc, error) {
	genDoc := GenesisDoc{}
	if err := tmjson.Unmarshal(jsonBlob, &genDoc); err != nil {
		return nil, err
	}
	if err := genDoc.ValidateAndComplete(); err != nil {
		return nil, err
	}
	return &genDoc, nil
}

func GenesisDocFromFile(genDocFile string) (*GenesisDoc, error) {
	jsonBlob, err := ioutil.ReadFile(genDocFile)
	if err != nil {
		return nil, fmt.Errorf("couldn't read GenesisDoc file: %w", err)
	}
	genDoc, err := GenesisDocFromJSON(jsonBlob)
	if err != nil {
		return nil, fmt.Errorf("error reading GenesisDoc at %v: %w", genDocFile, err)
	}
	return genDoc, nil
}
