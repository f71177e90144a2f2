package main

import (
	"os"
	"runtime"

	"github.com/urfave/cli"
	"go.uber.org/zap"

	"github.com/elispeigel/nsrun/internal/container"
)

func init() {
	if len(os.Args) > 1 && os.Args[1] == "init" {
		// setns applies to a single thread; keep the init on the main one.
		runtime.GOMAXPROCS(1)
		runtime.LockOSThread()
	}
}

var initCommand = cli.Command{
	Name:   "init",
	Usage:  "set up the namespaces and execute the command (do not call it outside of nsrun)",
	Hidden: true,
	Action: func(clictx *cli.Context) error {
		if err := container.Init(); err != nil {
			zap.L().Error("init failed", zap.Error(err))
			os.Exit(container.ExitCode(err))
		}
		panic("nsrun: init failed to exec")
	},
}
