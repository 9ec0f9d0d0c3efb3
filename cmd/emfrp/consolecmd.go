package main

import (
	"os"
	"path/filepath"

	"gopkg.in/urfave/cli.v1"

	"github.com/chazu/emfrp/console"
	"github.com/chazu/emfrp/server"
)

var (
	listenFlag = cli.StringFlag{
		Name:  "addr",
		Usage: "listen address (default: [server] addr)",
	}

	consoleCommand = cli.Command{
		Action:    runConsole,
		Name:      "console",
		Usage:     "Start an interactive machine console",
		ArgsUsage: "[file|program]",
		Description: `
The console drives a local machine line by line: load programs, run ticks,
inspect nodes, disassemble and save or restore the machine state file.
Type help for the command list.`,
	}

	serveCommand = cli.Command{
		Action: serve,
		Name:   "serve",
		Usage:  "Serve a machine over Connect/gRPC",
		Flags:  []cli.Flag{listenFlag},
	}
)

func runConsole(c *cli.Context) error {
	ctx, cancel := signalContext()
	defer cancel()

	m := newMachine(c)
	defer m.Stop()

	opts := []console.Option{console.WithStateFile(config.StateFilePath())}
	if s := openStoreIfExists(); s != nil {
		defer s.Close()
		opts = append(opts, console.WithProgramStore(s))
	}
	con := console.New(m, os.Stdout, opts...)

	if c.NArg() > 0 {
		if _, err := con.Exec(ctx, "load "+c.Args().First()); err != nil {
			return err
		}
	}

	history := ""
	if home, err := os.UserHomeDir(); err == nil {
		history = filepath.Join(home, ".emfrp_history")
	}
	rl, err := console.NewReadline(history)
	if err != nil {
		return err
	}
	defer rl.Close()
	return con.Run(ctx, rl)
}

func serve(c *cli.Context) error {
	ctx, cancel := signalContext()
	defer cancel()

	addr := c.String(listenFlag.Name)
	if addr == "" {
		addr = config.Server.Addr
	}

	var opts []server.ServerOption
	s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()
	opts = append(opts, server.WithProgramStore(s))

	srv := server.New(newMachine(c), opts...)
	defer srv.Stop()
	return srv.ListenAndServe(ctx, addr)
}
