package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"gopkg.in/urfave/cli.v1"

	"github.com/chazu/emfrp/machine"
	"github.com/chazu/emfrp/vm"
)

var (
	ticksFlag = cli.IntFlag{
		Name:  "ticks, n",
		Usage: "number of ticks to run, 0 runs until interrupted (default: [machine] ticks)",
		Value: -1,
	}
	nodesFlag = cli.BoolFlag{
		Name:  "nodes",
		Usage: "print the node graph after every tick",
	}
	dumpFlag = cli.BoolFlag{
		Name:  "dump",
		Usage: "write the machine state file when the run ends",
	}
	resumeFlag = cli.BoolFlag{
		Name:  "resume",
		Usage: "restore the machine state file before loading",
	}

	runCommand = cli.Command{
		Action:    runProgram,
		Name:      "run",
		Usage:     "Load a program and run its update ticks",
		ArgsUsage: "<file|program>",
		Flags:     []cli.Flag{ticksFlag, nodesFlag, dumpFlag, resumeFlag},
		Description: `
Loads a load buffer (a file, or a program from the store), runs its init
segment and then the retained update program once per tick. The run stops
at the first tick that does not complete successfully.`,
	}

	demoCommand = cli.Command{
		Action: runDemo,
		Name:   "demo",
		Usage:  "Run the built-in toggle program",
		Flags:  []cli.Flag{ticksFlag},
	}

	disCommand = cli.Command{
		Action:    disassemble,
		Name:      "dis",
		Usage:     "Disassemble a load buffer",
		ArgsUsage: "<file|program>",
	}
)

// signalContext is canceled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func tickCount(c *cli.Context) int {
	if n := c.Int("ticks"); n >= 0 {
		return n
	}
	return config.Machine.Ticks
}

func printNodes(tick int, nodes []vm.NodeState) {
	fmt.Printf("tick %d\n", tick)
	for _, n := range nodes {
		fmt.Printf("  %s\n", n)
	}
}

func runProgram(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("usage: emfrp run <file|program>")
	}
	ctx, cancel := signalContext()
	defer cancel()

	code, err := readProgram(ctx, c.Args().First())
	if err != nil {
		return err
	}

	var opts []machine.Option
	if c.Bool("nodes") {
		opts = append(opts, machine.WithTickHook(printNodes))
	}
	m := newMachine(c, opts...)
	defer m.Stop()

	if c.Bool("resume") {
		if err := restoreState(ctx, m); err != nil {
			return err
		}
	}
	if err := m.Load(ctx, code); err != nil {
		return err
	}

	n, runErr := m.Run(ctx, tickCount(c))
	fmt.Printf("%d ticks\n", n)
	if c.Bool("dump") {
		if err := dumpState(ctx, m); err != nil {
			return err
		}
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return errors.Wrapf(runErr, "run aborted (%s)", vm.StatusOf(runErr))
	}
	return nil
}

func runDemo(c *cli.Context) error {
	ctx, cancel := signalContext()
	defer cancel()

	m := newMachine(c, machine.WithTickHook(printNodes))
	defer m.Stop()

	if err := m.Load(ctx, vm.DemoProgram()); err != nil {
		return err
	}
	_, err := m.Run(ctx, tickCount(c))
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func disassemble(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("usage: emfrp dis <file|program>")
	}
	code, err := readProgram(context.Background(), c.Args().First())
	if err != nil {
		return err
	}
	listing, err := vm.DisassembleLoad(code)
	if err != nil {
		return err
	}
	fmt.Print(listing)
	return nil
}

// dumpState writes the machine state file. It runs after an interrupted run,
// so it ignores cancellation of ctx.
func dumpState(ctx context.Context, m *machine.Machine) error {
	snap, err := m.Snapshot(context.WithoutCancel(ctx))
	if err != nil {
		return err
	}
	data, err := vm.MarshalSnapshot(snap)
	if err != nil {
		return err
	}
	path := config.StateFilePath()
	if err := os.WriteFile(path, data, 0644); err != nil {
		return errors.Wrapf(err, "write %s", path)
	}
	fmt.Printf("machine state written to %s\n", path)
	return nil
}

func restoreState(ctx context.Context, m *machine.Machine) error {
	path := config.StateFilePath()
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "read %s", path)
	}
	snap, err := vm.UnmarshalSnapshot(data)
	if err != nil {
		return err
	}
	return m.Restore(ctx, snap)
}
