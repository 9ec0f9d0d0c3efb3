// Command emfrp runs emfrp load buffers on the reactive VM.
package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/fatih/color"
	"github.com/tliron/commonlog"
	"gopkg.in/urfave/cli.v1"

	_ "github.com/tliron/commonlog/simple"
)

var (
	configFlag = cli.StringFlag{
		Name:  "config, c",
		Usage: "configuration file (default: emfrp.toml found upwards from the working directory)",
	}
	verbosityFlag = cli.IntFlag{
		Name:  "verbosity",
		Usage: "log verbosity, overrides [log] verbosity (0 quiet, 1 notice, 2 info, 3 debug)",
		Value: -1,
	}
	traceFlag = cli.BoolFlag{
		Name:  "trace",
		Usage: "log every executed instruction",
	}

	app = cli.NewApp()
)

func init() {
	app.Name = "emfrp"
	app.Usage = "the emfrp reactive VM"
	app.HideVersion = true
	app.Flags = []cli.Flag{configFlag, verbosityFlag, traceFlag}
	app.Commands = []cli.Command{
		runCommand,
		demoCommand,
		disCommand,
		consoleCommand,
		serveCommand,
		storeCommand,
		remoteCommand,
	}
	sort.Sort(cli.CommandsByName(app.Commands))

	app.Before = func(ctx *cli.Context) error {
		cfg, err := loadConfig(ctx)
		if err != nil {
			return err
		}
		verbosity := cfg.Log.Verbosity
		if v := ctx.GlobalInt(verbosityFlag.Name); v >= 0 {
			verbosity = v
		}
		var path *string
		if cfg.Log.File != "" {
			file := cfg.Resolve(cfg.Log.File)
			path = &file
		}
		commonlog.Configure(verbosity, path)
		return nil
	}
}

func main() {
	if err := app.Run(os.Args); err != nil {
		color.New(color.FgRed, color.Bold).Fprint(os.Stderr, "error: ")
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
