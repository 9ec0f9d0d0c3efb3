package main

import (
	"context"
	"os"

	"gopkg.in/urfave/cli.v1"

	"github.com/chazu/emfrp/machine"
	"github.com/chazu/emfrp/manifest"
	"github.com/chazu/emfrp/store"
	"github.com/chazu/emfrp/vm"
)

// config is loaded once by app.Before.
var config *manifest.Manifest

func loadConfig(ctx *cli.Context) (*manifest.Manifest, error) {
	if config != nil {
		return config, nil
	}
	var err error
	if path := ctx.GlobalString("config"); path != "" {
		config, err = manifest.LoadFile(path)
	} else {
		config, err = manifest.FindAndLoad(".")
	}
	if err != nil {
		return nil, err
	}
	if config == nil {
		config = manifest.Default()
	}
	return config, nil
}

// newMachine builds a runtime from the [vm] section and starts a machine
// around it, paced by [machine] interval.
func newMachine(ctx *cli.Context, opts ...machine.Option) *machine.Machine {
	rt := vm.New(vm.Config{
		StackSize: config.VM.StackSize,
		StepLimit: config.VM.StepLimit,
		Trace:     config.VM.Trace || ctx.GlobalBool(traceFlag.Name),
	})
	opts = append([]machine.Option{machine.WithInterval(config.Machine.Interval.Duration)}, opts...)
	return machine.New(rt, opts...)
}

func openStore() (*store.Store, error) {
	return store.Open(config.StorePath())
}

// openStoreIfExists opens the program store only when its database file is
// already present, so read-only commands never create one.
func openStoreIfExists() *store.Store {
	path := config.StorePath()
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	s, err := store.Open(path)
	if err != nil {
		return nil
	}
	return s
}

// readProgram reads a load buffer from a file, falling back to the program
// store when no such file exists.
func readProgram(ctx context.Context, ref string) ([]byte, error) {
	data, err := os.ReadFile(ref)
	if err == nil || !os.IsNotExist(err) {
		return data, err
	}
	s := openStoreIfExists()
	if s == nil {
		return nil, err
	}
	defer s.Close()
	rec, serr := s.Get(ctx, ref)
	if serr != nil {
		return nil, serr
	}
	return rec.Code, nil
}
