package main

import (
	"os"

	cmd "github.com/intermap/intermap/cmd/intermap/commands"
)

func main() {
	rootCmd := cmd.RootCmd
	rootCmd.AddCommand(
		cmd.InitFilesCmd,
		cmd.VersionCmd,
		cmd.NewStartCmd(cmd.DefaultNodeProvider),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
