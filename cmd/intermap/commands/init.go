package commands

import (
	"github.com/spf13/cobra"

	cfg "github.com/intermap/intermap/config"
	imos "github.com/intermap/intermap/libs/os"
	"github.com/intermap/intermap/types"
)

// InitFilesCmd initialises a fresh Intermap node home directory.
var InitFilesCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize an Intermap node",
	RunE:  initFiles,
}

func initFiles(cmd *cobra.Command, args []string) error {
	return initFilesWithConfig(config)
}

func initFilesWithConfig(config *cfg.Config) error {
	configFile := config.RootDir + "/config/config.toml"
	if imos.FileExists(configFile) {
		logger.Info("Found config file", "path", configFile)
	} else {
		cfg.WriteConfigFile(configFile, config)
		logger.Info("Generated config file", "path", configFile)
	}

	nodeIDFile := config.NodeIDFile()
	if imos.FileExists(nodeIDFile) {
		nodeID, err := types.LoadOrGenNodeID(nodeIDFile)
		if err != nil {
			return err
		}
		logger.Info("Found node ID", "path", nodeIDFile, "node_id", nodeID)
	} else {
		nodeID, err := types.LoadOrGenNodeID(nodeIDFile)
		if err != nil {
			return err
		}
		logger.Info("Generated node ID", "path", nodeIDFile, "node_id", nodeID)
	}

	return nil
}
