package cmd

import (
	"fmt"

	"github.com/BioHazard786/meshcall/internal/version"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the meshcall version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version.UserAgent())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
