package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const defaultConfigPath = "configs/config.yaml"

// newRootCmd builds the command tree. The config path resolves from --config, then
// TASKSYNC_CONFIG, then CONFIG_PATH.
func newRootCmd() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("TASKSYNC")
	v.AutomaticEnv()
	_ = v.BindEnv("config", "TASKSYNC_CONFIG", "CONFIG_PATH")
	v.SetDefault("config", defaultConfigPath)

	root := &cobra.Command{
		Use:           "tasksync",
		Short:         "Task storage with offline GitHub and hub synchronization",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", defaultConfigPath, "path to the YAML config file")
	root.PersistentFlags().String("log-level", "", "override logging.level")
	_ = v.BindPFlag("config", root.PersistentFlags().Lookup("config"))
	_ = v.BindPFlag("log_level", root.PersistentFlags().Lookup("log-level"))

	root.AddCommand(newCheckCmd(v), newSyncCmd(v), newServeCmd(v))
	return root
}
