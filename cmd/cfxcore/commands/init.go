package commands

import (
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/cfx-go/cfxcore/config"
	"github.com/cfx-go/cfxcore/libs/log"
)

// MakeInitFilesCommand returns the command that writes the effective
// configuration to the home directory.
func MakeInitFilesCommand(conf *config.Config, logger log.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize the home directory and write config.toml",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.WriteConfigFile(conf.RootDir, conf); err != nil {
				return err
			}
			logger.Info("wrote config file",
				"path", filepath.Join(conf.RootDir, "config", "config.toml"))
			return nil
		},
	}
}
