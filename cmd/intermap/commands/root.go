package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	cfg "github.com/intermap/intermap/config"
	"github.com/intermap/intermap/libs/log"
)

var (
	config = cfg.DefaultConfig()
	logger = log.NewIMLogger(log.NewSyncWriter(os.Stdout))
)

func init() {
	registerFlagsRootCmd(RootCmd)
}

func registerFlagsRootCmd(cmd *cobra.Command) {
	cmd.PersistentFlags().String("home", defaultHome(), "directory for config and data")
	cmd.PersistentFlags().String("log_level", config.LogLevel, "log level (debug|info|error)")
}

func defaultHome() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".intermap"
	}
	return home + "/.intermap"
}

// ParseConfig retrieves the default environment configuration, sets up the
// root and ensures that the root exists.
func ParseConfig(cmd *cobra.Command) (*cfg.Config, error) {
	conf := cfg.DefaultConfig()
	if err := viper.Unmarshal(conf); err != nil {
		return nil, err
	}

	conf.SetRoot(conf.RootDir)
	cfg.EnsureRoot(conf.RootDir)
	if err := conf.ValidateBasic(); err != nil {
		return nil, fmt.Errorf("error in config file: %w", err)
	}
	return conf, nil
}

// RootCmd is the root command. It is executed when no subcommands are given.
var RootCmd = &cobra.Command{
	Use:   "intermap",
	Short: "Collaborative internet topology mapper",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) (err error) {
		if cmd.Name() == VersionCmd.Name() {
			return nil
		}

		if err := viper.BindPFlags(cmd.Flags()); err != nil {
			return err
		}
		viper.SetConfigName("config")
		viper.AddConfigPath(viper.GetString("home") + "/config")
		if err := viper.ReadInConfig(); err != nil {
			// A missing config file is fine; `intermap init` writes one.
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return err
			}
		}

		config, err = ParseConfig(cmd)
		if err != nil {
			return err
		}

		level, err := log.ParseLevel(config.LogLevel)
		if err != nil {
			return err
		}
		logger = log.NewFilter(log.NewIMLogger(log.NewSyncWriter(os.Stdout)), level)
		logger = logger.With("module", "main")
		return nil
	},
}
