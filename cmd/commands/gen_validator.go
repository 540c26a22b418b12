package commands

import (
	"fmt"

	tmjson "github.com/tendermint/tendermint/libs/json"
	tmos "github.com/tendermint/tendermint/libs/os"

	"hotstuff_demo/privval"

	"github.com/spf13/cobra"
)

// GenValidatorCmd 生成副本的私钥分片文件
var GenValidatorCmd = &cobra.Command{
	Use:     "gen-validator",
	Aliases: []string{"gen_validator"},
	Args:    cobra.ArbitraryArgs,
	Short:   "Generate a replica key share",
	PreRun:  deprecateSnakeCase,
	Run:     genValidator,
}

func init() {
	GenValidatorCmd.Flags().Int64Var(&seed, "seed", 1, "随机数种子，影响primary private key的生成")
	GenValidatorCmd.MarkFlagRequired("seed")
	GenValidatorCmd.Flags().Int64Var(&idx, "idx", 0, "副本编号，影响私钥分片的生成")
	GenValidatorCmd.MarkFlagRequired("idx")
	GenValidatorCmd.Flags().IntVar(&nfaulty, "nfaulty", 1, "容忍的拜占庭节点数f")
}

func genValidator(cmd *cobra.Command, args []string) {
	privValKeyFile := config.PrivValidatorKeyFile()
	if tmos.FileExists(privValKeyFile) {
		logger.Info("Found private validator", "keyFile", privValKeyFile)
		return
	}

	pv := privval.GenFilePVWithSeedAndIdx(privValKeyFile, 2*nfaulty+1, idx, seed)
	jsbz, err := tmjson.Marshal(pv.Key)
	if err != nil {
		panic(err)
	}
	pv.Save()

	fmt.Printf(`%v
`, string(jsbz))
}
