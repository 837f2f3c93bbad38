package main

import (
	"fmt"

	"github.com/aretw0/patchbay"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of patchbay",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "patchbay version %s\n", patchbay.Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
