package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// VersionCmd 打印版本信息
var VersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version info",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("hotstuff_demo")
	},
}
