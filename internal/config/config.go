// Package config loads the simulation host configuration.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

var ErrInvalid = errors.New("invalid config")

type Config struct {
	World WorldConfig `yaml:"world"`
	Log   LogConfig   `yaml:"log"`
	Net   NetConfig   `yaml:"net"`
	Sim   SimConfig   `yaml:"sim"`
}

type WorldConfig struct {
	Name string `yaml:"name"`
	// Workers bounds the graph executor; 0 means GOMAXPROCS.
	Workers int `yaml:"workers"`
	// Grain is the entity chunk size of a do-tick node.
	Grain int `yaml:"grain"`
	// Overlap selects the query overlap rule: "subset" or "intersect".
	Overlap string `yaml:"overlap"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type NetConfig struct {
	// Listen is empty when the network feed is disabled.
	Listen string `yaml:"listen"`
	Path   string `yaml:"path"`
}

type SimConfig struct {
	TickRate time.Duration `yaml:"tick_rate"`
	// Ticks stops the host after that many frames; 0 runs until interrupted.
	Ticks int `yaml:"ticks"`
}

func Default() Config {
	return Config{
		World: WorldConfig{Name: "world", Grain: 64, Overlap: "subset"},
		Log:   LogConfig{Level: "info"},
		Net:   NetConfig{Path: "/feed"},
		Sim:   SimConfig{TickRate: time.Second / 60},
	}
}

// Load reads the YAML file at path on top of Default.
func Load(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse decodes YAML from r on top of Default and validates the result.
// Unknown keys are rejected.
func Parse(r io.Reader) (Config, error) {
	c := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c Config) Validate() error {
	var errs []error
	if c.World.Name == "" {
		errs = append(errs, errors.New("world.name is required"))
	}
	if c.World.Workers < 0 {
		errs = append(errs, fmt.Errorf("world.workers must be >= 0, got %d", c.World.Workers))
	}
	if c.World.Grain <= 0 {
		errs = append(errs, fmt.Errorf("world.grain must be > 0, got %d", c.World.Grain))
	}
	switch c.World.Overlap {
	case "subset", "intersect":
	default:
		errs = append(errs, fmt.Errorf("world.overlap: unknown rule %q", c.World.Overlap))
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level: unknown level %q", c.Log.Level))
	}
	if c.Net.Listen != "" && (c.Net.Path == "" || c.Net.Path[0] != '/') {
		errs = append(errs, fmt.Errorf("net.path must start with '/', got %q", c.Net.Path))
	}
	if c.Sim.TickRate <= 0 {
		errs = append(errs, fmt.Errorf("sim.tick_rate must be > 0, got %s", c.Sim.TickRate))
	}
	if c.Sim.Ticks < 0 {
		errs = append(errs, fmt.Errorf("sim.ticks must be >= 0, got %d", c.Sim.Ticks))
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
}
