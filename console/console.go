// Package console implements the interactive machine console: a
// line-oriented command interpreter over a machine.Machine.
package console

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/fatih/color"
	"github.com/pkg/errors"

	"github.com/chazu/emfrp/machine"
	"github.com/chazu/emfrp/store"
	"github.com/chazu/emfrp/vm"
)

// errQuit ends the session.
var errQuit = errors.New("quit")

type command struct {
	usage string
	help  string
	run   func(c *Console, ctx context.Context, args []string) error
}

var commands map[string]command

func init() {
	commands = map[string]command{
		"load":    {"load <file|program>", "install a load buffer from a file or the program store", (*Console).load},
		"demo":    {"demo", "install the built-in toggle program", (*Console).demo},
		"tick":    {"tick [n]", "run n ticks (default 1) and print the graph", (*Console).tick},
		"nodes":   {"nodes", "print every node", (*Console).nodes},
		"dis":     {"dis [file|program]", "disassemble a load buffer, or the retained update program", (*Console).dis},
		"save":    {"save [file]", "write the machine state file", (*Console).save},
		"restore": {"restore [file]", "replace the machine state from a state file", (*Console).restore},
		"trace":   {"trace on|off", "toggle per-instruction tracing", (*Console).trace},
		"stats":   {"stats", "print machine counters", (*Console).stats},
		"help":    {"help", "list commands", (*Console).help},
		"quit":    {"quit", "leave the console", func(*Console, context.Context, []string) error { return errQuit }},
	}
	commands["exit"] = commands["quit"]
}

// Console reads commands and applies them to a machine.
type Console struct {
	machine   *machine.Machine
	programs  *store.Store
	stateFile string
	out       io.Writer
	fail      *color.Color
}

// Option configures a Console.
type Option func(*Console)

// WithProgramStore lets load and dis resolve stored program names.
func WithProgramStore(s *store.Store) Option {
	return func(c *Console) { c.programs = s }
}

// WithStateFile sets the default path for save and restore.
func WithStateFile(path string) Option {
	return func(c *Console) { c.stateFile = path }
}

// New creates a Console writing to out.
func New(m *machine.Machine, out io.Writer, opts ...Option) *Console {
	c := &Console{
		machine:   m,
		out:       out,
		stateFile: "machine_state.cbor",
		fail:      color.New(color.FgRed),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Exec runs one command line. It reports quit when the line ends the
// session. Command failures are returned; the session can continue.
func (c *Console) Exec(ctx context.Context, line string) (quit bool, err error) {
	fields := strings.Fields(line)
	if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
		return false, nil
	}
	cmd, ok := commands[fields[0]]
	if !ok {
		return false, errors.Errorf("unknown command %q (try help)", fields[0])
	}
	err = cmd.run(c, ctx, fields[1:])
	if errors.Is(err, errQuit) {
		return true, nil
	}
	return false, err
}

// Run reads lines from rl until EOF or quit.
func (c *Console) Run(ctx context.Context, rl *readline.Instance) error {
	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		quit, err := c.Exec(ctx, line)
		if err != nil {
			c.fail.Fprintf(c.out, "error: %v\n", err)
		}
		if quit {
			return nil
		}
	}
}

// NewReadline creates the line editor used by Run, with command completion.
func NewReadline(historyFile string) (*readline.Instance, error) {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	items := make([]readline.PrefixCompleterInterface, 0, len(names))
	for _, name := range names {
		items = append(items, readline.PcItem(name))
	}
	return readline.NewEx(&readline.Config{
		Prompt:          "emfrp> ",
		HistoryFile:     historyFile,
		AutoComplete:    readline.NewPrefixCompleter(items...),
		InterruptPrompt: "^C",
		EOFPrompt:       "quit",
	})
}

// readProgram returns the bytes of a file, or of a stored program when no
// such file exists.
func (c *Console) readProgram(ctx context.Context, ref string) ([]byte, error) {
	data, err := os.ReadFile(ref)
	if err == nil {
		return data, nil
	}
	if !os.IsNotExist(err) || c.programs == nil {
		return nil, errors.Wrapf(err, "read %s", ref)
	}
	rec, err := c.programs.Get(ctx, ref)
	if err != nil {
		return nil, err
	}
	return rec.Code, nil
}

func (c *Console) load(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: load <file|program>")
	}
	code, err := c.readProgram(ctx, args[0])
	if err != nil {
		return err
	}
	return c.install(ctx, code)
}

func (c *Console) demo(ctx context.Context, _ []string) error {
	return c.install(ctx, vm.DemoProgram())
}

func (c *Console) install(ctx context.Context, code []byte) error {
	if err := c.machine.Load(ctx, code); err != nil {
		return err
	}
	nodes, err := c.machine.Nodes(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "loaded %d bytes, %d nodes\n", len(code), len(nodes))
	return nil
}

func (c *Console) tick(ctx context.Context, args []string) error {
	n := 1
	if len(args) > 0 {
		v, err := strconv.Atoi(args[0])
		if err != nil || v <= 0 {
			return errors.Errorf("invalid tick count %q", args[0])
		}
		n = v
	}
	for i := 1; i <= n; i++ {
		if err := c.machine.Tick(ctx); err != nil {
			return errors.Wrapf(err, "tick %d (%s)", i, vm.StatusOf(err))
		}
	}
	fmt.Fprintf(c.out, "%d ticks\n", n)
	return c.nodes(ctx, nil)
}

func (c *Console) nodes(ctx context.Context, _ []string) error {
	nodes, err := c.machine.Nodes(ctx)
	if err != nil {
		return err
	}
	if len(nodes) == 0 {
		fmt.Fprintln(c.out, "no nodes")
	}
	for _, n := range nodes {
		fmt.Fprintln(c.out, n)
	}
	return nil
}

func (c *Console) dis(ctx context.Context, args []string) error {
	if len(args) > 0 {
		code, err := c.readProgram(ctx, args[0])
		if err != nil {
			return err
		}
		listing, err := vm.DisassembleLoad(code)
		if err != nil {
			return err
		}
		fmt.Fprint(c.out, listing)
		return nil
	}

	var update []byte
	err := c.machine.Do(ctx, func(rt *vm.Runtime) error {
		update = append([]byte{}, rt.UpdateProgram()...)
		return nil
	})
	if err != nil {
		return err
	}
	if len(update) == 0 {
		return vm.ErrNoProgram
	}
	fmt.Fprint(c.out, vm.Disassemble(update))
	return nil
}

func (c *Console) statePath(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return c.stateFile
}

func (c *Console) save(ctx context.Context, args []string) error {
	snap, err := c.machine.Snapshot(ctx)
	if err != nil {
		return err
	}
	data, err := vm.MarshalSnapshot(snap)
	if err != nil {
		return err
	}
	path := c.statePath(args)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return errors.Wrapf(err, "write %s", path)
	}
	fmt.Fprintf(c.out, "saved %d nodes to %s\n", len(snap.Nodes), path)
	return nil
}

func (c *Console) restore(ctx context.Context, args []string) error {
	path := c.statePath(args)
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "read %s", path)
	}
	snap, err := vm.UnmarshalSnapshot(data)
	if err != nil {
		return err
	}
	if err := c.machine.Restore(ctx, snap); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "restored %d nodes from %s\n", len(snap.Nodes), path)
	return nil
}

func (c *Console) trace(ctx context.Context, args []string) error {
	if len(args) != 1 || (args[0] != "on" && args[0] != "off") {
		return errors.New("usage: trace on|off")
	}
	on := args[0] == "on"
	return c.machine.Do(ctx, func(rt *vm.Runtime) error {
		rt.SetTrace(on)
		return nil
	})
}

func (c *Console) stats(context.Context, []string) error {
	st := c.machine.Metrics().Stats()
	fmt.Fprintf(c.out, "ticks %d  loads %d  failures %d  instructions %d  mean tick %s\n",
		st.Ticks, st.Loads, st.Failures, st.Instructions, st.MeanTick)
	return nil
}

func (c *Console) help(context.Context, []string) error {
	names := make([]string, 0, len(commands))
	for name := range commands {
		if name != "exit" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		cmd := commands[name]
		fmt.Fprintf(c.out, "  %-22s %s\n", cmd.usage, cmd.help)
	}
	return nil
}
