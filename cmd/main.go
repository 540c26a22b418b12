package main

import (
	"fmt"
	"os"
	"path/filepath"

	cfg "github.com/tendermint/tendermint/config"
	"github.com/tendermint/tendermint/libs/cli"

	cmd "hotstuff_demo/cmd/commands"
	nm "hotstuff_demo/node"
)

func main() {
	cfg.DefaultTendermintDir = ".hotstuff"
	rootCmd := cmd.RootCmd

	rootCmd.AddCommand(
		cli.NewCompletionCmd(rootCmd, true),
	)

	// NOTE:
	// Users wishing to:
	//	* Use an external signer for their validators
	//	* Supply a genesis doc file from another source
	//	* Provide their own DB implementation
	// can copy this file and use something other than the
	// DefaultNewNode function
	nodeFunc := nm.DefaultNewNode

	rootCmd.AddCommand(
		cmd.InitFilesCmd,
		cmd.GenNodeKeyCmd,
		cmd.GenValidatorCmd,
		cmd.ShowNodeIDCmd,
		cmd.ShowValidatorCmd,
		cmd.GenGenesisCmd,
		cmd.NewRunNodeCmd(nodeFunc),
		cmd.VersionCmd,
	)

	baseCmd := cli.PrepareBaseCmd(rootCmd, "HS", os.ExpandEnv(filepath.Join("$HOME", cfg.DefaultTendermintDir)))

	if err := baseCmd.Execute(); err != nil {
		fmt.Println("error")
		panic(err)
	}
}
