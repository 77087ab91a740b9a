package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cfx-go/cfxcore/config"
	"github.com/cfx-go/cfxcore/libs/cli"
	"github.com/cfx-go/cfxcore/libs/log"
)

// ParseConfig unmarshals viper's settings into conf, roots every path
// under the home directory and validates the result.
func ParseConfig(conf *config.Config) (*config.Config, error) {
	if err := viper.Unmarshal(conf); err != nil {
		return nil, err
	}

	conf.SetRoot(conf.RootDir)

	if err := conf.ValidateBasic(); err != nil {
		return nil, fmt.Errorf("error in config file: %w", err)
	}
	return conf, nil
}

// RootCommand constructs the root command-line entry point.
func RootCommand(conf *config.Config, logger log.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cfxcore",
		Short: "Block storage and peer sync tooling",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			pconf, err := ParseConfig(conf)
			if err != nil {
				return err
			}
			*conf = *pconf
			if err := config.EnsureRoot(conf.RootDir); err != nil {
				return err
			}
			return log.OverrideWithNewLogger(logger, conf.LogFormat, conf.LogLevel)
		},
		SilenceUsage: true,
	}
	cmd.PersistentFlags().String("log_level", conf.LogLevel, "log level")
	return cli.PrepareBaseCmd(cmd, "CFX", os.ExpandEnv(filepath.Join("$HOME", config.DefaultHomeDir)))
}
