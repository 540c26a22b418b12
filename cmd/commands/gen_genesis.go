package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	tmos "github.com/tendermint/tendermint/libs/os"

	"hotstuff_demo/crypto/bls"
	"hotstuff_demo/crypto/threshold"
	"hotstuff_demo/types"
)

var netAddrs []string

var GenGenesisCmd = &cobra.Command{
	Use:     "gen-genesis",
	Aliases: []string{"gen_genesis"},
	Short:   "Generate a genesis file for the cluster",
	PreRun:  deprecateSnakeCase,
	RunE:    genGenesisFile,
}

func init() {
	GenGenesisCmd.Flags().StringVar(&chainID, "chainID", "test-chain", "链名，不指定则使用test-chain")

	GenGenesisCmd.Flags().Int64Var(&seed, "seed", 1, "用来生成集群密钥的种子")
	GenGenesisCmd.MarkFlagRequired("seed")
	GenGenesisCmd.Flags().IntVar(&clusterCount, "cluster-count", 4, "集群副本数")
	GenGenesisCmd.MarkFlagRequired("cluster-count")
	GenGenesisCmd.Flags().IntVar(&nfaulty, "nfaulty", 1, "容忍的拜占庭节点数f，quorum门限=2f+1")
	GenGenesisCmd.Flags().StringSliceVar(&netAddrs, "net-addrs", nil,
		"每个副本的p2p地址(nodeid@host:port)，按副本编号排列")
}

func genGenesisFile(cmd *cobra.Command, args []string) error {
	genFile := config.GenesisFile()
	if tmos.FileExists(genFile) {
		logger.Info("Found genesis file", "path", genFile)
		return nil
	}

	if chainID == "" {
		chainID = "test-chain"
	}
	if 2*nfaulty+1 > clusterCount {
		return fmt.Errorf("cluster of %d cannot tolerate %d faults", clusterCount, nfaulty)
	}

	primaryPriv := bls.GenPrivKeyWithSeed(seed)
	primaryPub := primaryPriv.PubKey().(bls.PubKey)
	poly := threshold.Master(primaryPriv, 2*nfaulty+1, seed)
	pubPoly := poly.PubPoly()

	commits, err := pubPoly.MarshalCommits()
	if err != nil {
		return err
	}

	// 为每一个副本生成公钥，编号从0开始
	replicas := make([]types.GenesisReplica, clusterCount)
	for id := 0; id < clusterCount; id++ {
		priv, err := poly.GetValue(int64(id))
		if err != nil {
			return fmt.Errorf("derive share for replica %d: %w", id, err)
		}
		pub := priv.PubKey().(bls.PubKey)

		netAddr := ""
		if id < len(netAddrs) {
			netAddr = netAddrs[id]
		}
		replicas[id] = types.GenesisReplica{
			ID:      types.ReplicaID(id),
			Address: pub.Address(),
			NetAddr: netAddr,
			PubKey:  pub,
			Name:    fmt.Sprintf("replica-%v", id),
		}
	}

	genDoc := types.GenesisDoc{
		ChainID:     chainID,
		GenesisTime: time.Now(),
		NFaulty:     nfaulty,
		Replicas:    replicas,
		PubReplica: types.GenesisReplica{
			Address: primaryPub.Address(),
			PubKey:  primaryPub,
			Name:    "cluster-primary",
		},
		PubPolyCommits: commits,
	}

	if err := genDoc.SaveAs(genFile); err != nil {
		return err
	}
	logger.Info("Generated genesis file", "path", genFile)
	return nil
}
