package cmd

import (
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the build version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Println("ultrawork " + rootCmd.Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
