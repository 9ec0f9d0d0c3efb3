// Package manifest handles emfrp.toml configuration.
package manifest

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

// FileName is the configuration file looked up by FindAndLoad.
const FileName = "emfrp.toml"

// Manifest represents an emfrp.toml configuration.
type Manifest struct {
	VM      VMConfig      `toml:"vm"`
	Machine MachineConfig `toml:"machine"`
	Log     LogConfig     `toml:"log"`
	Store   StoreConfig   `toml:"store"`
	Server  ServerConfig  `toml:"server"`

	// Dir is the directory containing the emfrp.toml file (set at load time).
	// Empty for the built-in defaults.
	Dir string `toml:"-"`
}

// VMConfig tunes the interpreter.
type VMConfig struct {
	StackSize int  `toml:"stack-size"`
	StepLimit int  `toml:"step-limit"`
	Trace     bool `toml:"trace"`
}

// MachineConfig configures the tick driver.
type MachineConfig struct {
	Ticks     int      `toml:"ticks"`
	Interval  Duration `toml:"interval"`
	StateFile string   `toml:"state-file"`
}

// LogConfig configures commonlog.
type LogConfig struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

// StoreConfig locates the program store database.
type StoreConfig struct {
	Path string `toml:"path"`
}

// ServerConfig configures the machine service.
type ServerConfig struct {
	Addr string `toml:"addr"`
}

// Duration is a time.Duration written as a string ("250ms") in toml.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return errors.Wrapf(err, "invalid duration %q", text)
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Default returns the configuration used when no emfrp.toml exists.
func Default() *Manifest {
	m := &Manifest{}
	m.applyDefaults(nil)
	return m
}

// applyDefaults fills unset fields. Keys md reports as defined keep their
// decoded value even when it is zero, so ticks = 0 and verbosity = 0 can be
// written explicitly.
func (m *Manifest) applyDefaults(md *toml.MetaData) {
	defined := func(key ...string) bool { return md != nil && md.IsDefined(key...) }

	if m.VM.StackSize <= 0 {
		m.VM.StackSize = 128
	}
	if m.Machine.Ticks == 0 && !defined("machine", "ticks") {
		m.Machine.Ticks = 10
	}
	if m.Machine.StateFile == "" {
		m.Machine.StateFile = "machine_state.cbor"
	}
	if m.Log.Verbosity == 0 && !defined("log", "verbosity") {
		m.Log.Verbosity = 1
	}
	if m.Store.Path == "" {
		m.Store.Path = "emfrp.db"
	}
	if m.Server.Addr == "" {
		m.Server.Addr = ":4568"
	}
}

// Load parses an emfrp.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	return LoadFile(filepath.Join(dir, FileName))
}

// LoadFile parses the configuration file at path.
func LoadFile(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read %s", path)
	}

	var m Manifest
	md, err := toml.Decode(string(data), &m)
	if err != nil {
		return nil, errors.Wrapf(err, "parse error in %s", path)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, errors.Errorf("%s: unknown key %q", path, undecoded[0].String())
	}
	if m.VM.StepLimit < 0 {
		return nil, errors.Errorf("%s: vm.step-limit must not be negative", path)
	}

	m.Dir, err = filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, errors.Wrapf(err, "cannot resolve path %s", path)
	}

	m.applyDefaults(&md)
	return &m, nil
}

// FindAndLoad walks up from startDir to find an emfrp.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// Resolve makes a configured path absolute relative to the manifest's
// directory. Absolute paths and manifests without a directory are returned
// unchanged.
func (m *Manifest) Resolve(path string) string {
	if path == "" || filepath.IsAbs(path) || m.Dir == "" {
		return path
	}
	return filepath.Join(m.Dir, path)
}

// StorePath returns the program store database path.
func (m *Manifest) StorePath() string {
	return m.Resolve(m.Store.Path)
}

// StateFilePath returns the machine state file path.
func (m *Manifest) StateFilePath() string {
	return m.Resolve(m.Machine.StateFile)
}
