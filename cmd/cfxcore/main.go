package main

import (
	"context"
	"os"

	"github.com/cfx-go/cfxcore/cmd/cfxcore/commands"
	"github.com/cfx-go/cfxcore/config"
	"github.com/cfx-go/cfxcore/libs/log"
)

func main() {
	conf := config.DefaultConfig()
	logger := log.MustNewDefaultLogger(log.LogFormatPlain, log.LogLevelInfo)

	rcmd := commands.RootCommand(conf, logger)
	rcmd.AddCommand(
		commands.MakeInitFilesCommand(conf, logger),
		commands.MakeInspectCommand(conf, logger),
		commands.MakeSnapshotCommand(conf, logger),
	)

	if err := rcmd.ExecuteContext(context.Background()); err != nil {
		logger.Error("command failed", "err", err)
		os.Exit(1)
	}
}
