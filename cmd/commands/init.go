package commands

import (
	"github.com/spf13/cobra"
	tmos "github.com/tendermint/tendermint/libs/os"

	"hotstuff_demo/privval"

	"github.com/tendermint/tendermint/p2p"
)

// InitFilesCmd 初始化一个副本的全部本地文件：私钥分片、node key、genesis
var InitFilesCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a replica",
	RunE:  initFiles,
}

func init() {
	InitFilesCmd.Flags().Int64Var(&seed, "seed", 1, "集群密钥种子")
	InitFilesCmd.Flags().Int64Var(&idx, "idx", 0, "副本编号，同时是私钥分片编号")
	InitFilesCmd.Flags().IntVar(&nfaulty, "nfaulty", 1, "容忍的拜占庭节点数f")
	InitFilesCmd.Flags().IntVar(&clusterCount, "cluster-count", 4, "集群副本数")
	InitFilesCmd.Flags().StringSliceVar(&netAddrs, "net-addrs", nil, "每个副本的p2p地址")
}

func initFiles(cmd *cobra.Command, args []string) error {
	// private validator
	privValKeyFile := config.PrivValidatorKeyFile()

	var pv *privval.FilePV
	if tmos.FileExists(privValKeyFile) {
		pv = privval.LoadFilePV(privValKeyFile)
		logger.Info("Found private validator", "keyFile", privValKeyFile)
	} else {
		pv = privval.GenFilePVWithSeedAndIdx(privValKeyFile, 2*nfaulty+1, idx, seed)
		pv.Save()
		logger.Info("Generated private validator", "keyFile", privValKeyFile)
	}

	nodeKeyFile := config.NodeKeyFile()
	if tmos.FileExists(nodeKeyFile) {
		logger.Info("Found node key", "path", nodeKeyFile)
	} else {
		if _, err := p2p.LoadOrGenNodeKey(nodeKeyFile); err != nil {
			return err
		}
		logger.Info("Generated node key", "path", nodeKeyFile)
	}

	// genesis file
	return genGenesisFile(cmd, args)
}
