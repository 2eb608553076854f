// Package manifest handles msgtap.toml configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/msgtap/intercept"
)

// FileName is the name of the configuration file.
const FileName = "msgtap.toml"

// Config represents a msgtap.toml configuration.
type Config struct {
	Intercept Intercept `toml:"intercept"`
	Log       Log       `toml:"log"`
	Journal   Journal   `toml:"journal"`

	// Dir is the directory containing the msgtap.toml file (set at load time).
	Dir string `toml:"-"`
}

// Intercept configures the interception engine.
type Intercept struct {
	// Trampolines defaults to true when the key is absent.
	Trampolines *bool `toml:"trampolines"`
}

// Log configures logging.
type Log struct {
	Verbosity int    `toml:"verbosity"`
	Path      string `toml:"path"`
}

// Journal configures the event journal.
type Journal struct {
	Path string `toml:"path"`
	// Arguments defaults to true when the key is absent.
	Arguments *bool `toml:"arguments"`
}

// Default returns the configuration used when there is no msgtap.toml.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

// Load parses a msgtap.toml file from the given directory.
func Load(dir string) (*Config, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var c Config
	md, err := toml.Decode(string(data), &c)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown key %q in %s", undecoded[0].String(), path)
	}

	c.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	if c.Log.Verbosity < -1 {
		return nil, fmt.Errorf("invalid log verbosity %d in %s", c.Log.Verbosity, path)
	}

	c.applyDefaults()
	return &c, nil
}

// FindAndLoad walks up from startDir to find a msgtap.toml file, then loads
// and returns it. Returns nil if no file is found.
func FindAndLoad(startDir string) (*Config, error) {
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

func (c *Config) applyDefaults() {
	if c.Intercept.Trampolines == nil {
		on := true
		c.Intercept.Trampolines = &on
	}
	if c.Journal.Arguments == nil {
		on := true
		c.Journal.Arguments = &on
	}
}

// EngineOptions returns the interception engine options.
func (c *Config) EngineOptions() intercept.Options {
	opts := intercept.DefaultOptions()
	if c.Intercept.Trampolines != nil {
		opts.Trampolines = *c.Intercept.Trampolines
	}
	return opts
}

// NewEngine creates an interception engine with the configured options.
func (c *Config) NewEngine() *intercept.Engine {
	return intercept.New(c.EngineOptions())
}

// ConfigureLogging sets up commonlog's simple backend. An empty log path
// writes to stderr.
func (c *Config) ConfigureLogging() {
	if c.Log.Path == "" {
		commonlog.Configure(c.Log.Verbosity, nil)
		return
	}
	path := c.resolve(c.Log.Path)
	commonlog.Configure(c.Log.Verbosity, &path)
}

// JournalPath returns the absolute journal path, or "" if journaling is off.
func (c *Config) JournalPath() string {
	if c.Journal.Path == "" {
		return ""
	}
	return c.resolve(c.Journal.Path)
}

// JournalArguments returns true if journaled streams capture arguments.
func (c *Config) JournalArguments() bool {
	return c.Journal.Arguments == nil || *c.Journal.Arguments
}

func (c *Config) resolve(p string) string {
	if filepath.IsAbs(p) || c.Dir == "" {
		return p
	}
	return filepath.Join(c.Dir, p)
}
