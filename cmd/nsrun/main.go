package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/urfave/cli"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/elispeigel/nsrun/internal/container"
	"github.com/elispeigel/nsrun/internal/container/network"
	"github.com/elispeigel/nsrun/internal/logging"
)

const (
	usage     = "run a command in new pid, mount, ipc and uts namespaces inside an existing network namespace"
	usageText = `nsrun [global options] <network namespace> <pid file> <command> [command arguments]

   Options must come before the network namespace. Everything from the
   command on is passed to it untouched.`
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "nsrun: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "nsrun"
	app.Usage = usage
	app.UsageText = usageText
	app.HideVersion = true

	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "log-level",
			Value: "info",
			Usage: "log level: debug, info, warn or error",
		},
		cli.StringFlag{
			Name:  "log-format",
			Value: logging.FormatConsole,
			Usage: "log format: console or json",
		},
		cli.DurationFlag{
			Name:  "timeout",
			Usage: "kill the command after this long (0 waits forever)",
		},
		cli.StringSliceFlag{
			Name:  "relay-signal",
			Usage: "signal to forward to the command, may be repeated (default SIGINT)",
		},
		cli.BoolFlag{
			Name:  "loopback",
			Usage: "bring up lo in the network namespace before running the command",
		},
		cli.StringFlag{
			Name:  "probe-addr",
			Usage: "ping this address from inside the network namespace before running the command",
		},
		cli.IntFlag{
			Name:  "probe-count",
			Value: network.DefaultProbeCount,
			Usage: "number of probe packets to send",
		},
		cli.DurationFlag{
			Name:  "probe-timeout",
			Value: network.DefaultProbeTimeout,
			Usage: "how long to wait for a probe reply",
		},
	}

	app.Commands = []cli.Command{
		initCommand,
	}

	app.Before = func(clictx *cli.Context) error {
		_, err := logging.Setup(logConfig(clictx))
		return err
	}
	app.Action = run

	return app
}

func logConfig(clictx *cli.Context) logging.Config {
	return logging.Config{
		Level:  clictx.GlobalString("log-level"),
		Format: clictx.GlobalString("log-format"),
	}
}

func run(clictx *cli.Context) error {
	if clictx.NArg() < 3 {
		fmt.Fprintf(clictx.App.Writer, "Usage: %s <network namespace> <pid file> <command> [command arguments]\n", os.Args[0])
		return nil
	}

	sigs, err := parseSignals(clictx.StringSlice("relay-signal"))
	if err != nil {
		return err
	}

	args := clictx.Args()
	builder := container.NewSpecBuilder().
		WithNetNSPath(args.Get(0)).
		WithPIDFile(args.Get(1)).
		WithArgs(args[2:]...).
		WithRelaySignals(sigs...).
		WithLoopback(clictx.Bool("loopback"))
	if addr := clictx.String("probe-addr"); addr != "" {
		builder.WithProbe(&network.ProbeConfig{
			Addr:    addr,
			Count:   clictx.Int("probe-count"),
			Timeout: clictx.Duration("probe-timeout"),
		})
	}
	spec, err := builder.Build()
	if err != nil {
		return err
	}

	ctx := context.Background()
	if timeout := clictx.Duration("timeout"); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	status, err := container.NewLauncher(logConfig(clictx)).Launch(ctx, spec)
	if err != nil {
		zap.L().Error("launch failed", zap.Error(err))
		return cli.NewExitError("", 1)
	}
	if status != 0 {
		return cli.NewExitError("", status)
	}
	return nil
}

// parseSignals accepts names with or without the SIG prefix, in any case,
// and signal numbers. No names selects the default relay set.
func parseSignals(names []string) ([]os.Signal, error) {
	sigs := make([]os.Signal, 0, len(names))
	for _, name := range names {
		if n, err := strconv.Atoi(name); err == nil {
			if n <= 0 || n > 64 {
				return nil, fmt.Errorf("invalid signal number %d", n)
			}
			sigs = append(sigs, syscall.Signal(n))
			continue
		}

		upper := strings.ToUpper(name)
		if !strings.HasPrefix(upper, "SIG") {
			upper = "SIG" + upper
		}
		sig := unix.SignalNum(upper)
		if sig == 0 {
			return nil, fmt.Errorf("unknown signal %q", name)
		}
		sigs = append(sigs, sig)
	}
	return sigs, nil
}
