// Package config loads the mfexec runtime configuration: engine options,
// the entity fleet, an explicit distance table, the run store and the
// snapshot object store.
//
// Settings come from a YAML file and are then overridden by MFEXEC_*
// environment variables:
//
//	MFEXEC_STORE_PATH           run store database path
//	MFEXEC_TICK_INTERVAL        engine tick period (Go duration)
//	MFEXEC_MAX_CALL_DEPTH       nested rule call limit
//	MFEXEC_MAX_TASK_INSTANCES   task run quota (0 disables)
//	MFEXEC_AWAIT_AGENT_ACK      wait for agents to confirm steps
//	MFEXEC_MINIO_*              object store, see package objectstore
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/iml130/mf-plugin/internal/assign"
	"github.com/iml130/mf-plugin/internal/engine"
	"github.com/iml130/mf-plugin/internal/env"
	"github.com/iml130/mf-plugin/internal/eval"
	"github.com/iml130/mf-plugin/internal/objectstore"
)

// Config is the complete runtime configuration.
type Config struct {
	Engine      Engine             `yaml:"engine"`
	Fleet       []assign.Entity    `yaml:"fleet"`
	Distances   []Distance         `yaml:"distances"`
	Store       Store              `yaml:"store"`
	ObjectStore objectstore.Config `yaml:"objectstore"`
}

// Engine holds the tunable engine settings.
type Engine struct {
	TickInterval     time.Duration `yaml:"tick_interval"`
	MaxCallDepth     int           `yaml:"max_call_depth"`
	MaxExactPickups  int           `yaml:"max_exact_pickups"`
	MaxTaskInstances int           `yaml:"max_task_instances"`
	AwaitAgentAck    bool          `yaml:"await_agent_ack"`
	// GateWait is the seconds budgeted for a stop whose gate is not yet
	// satisfied when the route is planned.
	GateWait float64 `yaml:"gate_wait"`
	// ServiceTime is the seconds budgeted at every stop.
	ServiceTime float64 `yaml:"service_time"`
}

// Distance is one symmetric entry of the distance table.
type Distance struct {
	From     string  `yaml:"from"`
	To       string  `yaml:"to"`
	Distance float64 `yaml:"distance"`
}

// Store configures the SQLite run store. An empty path disables it.
type Store struct {
	Path string `yaml:"path"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Engine: Engine{
			TickInterval:     engine.DefaultTickInterval,
			MaxCallDepth:     eval.DefaultMaxDepth,
			MaxExactPickups:  assign.DefaultMaxExactPickups,
			MaxTaskInstances: engine.DefaultMaxTaskInstances,
		},
		ObjectStore: objectstore.DefaultConfig(),
	}
}

// Load reads path on top of Default, applies environment overrides and
// validates the result. An empty path yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if cfg, err = Parse(data); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Parse decodes YAML on top of Default. Unknown fields are rejected.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides settings from MFEXEC_* variables.
func (c *Config) ApplyEnv() error {
	var err error
	c.Store.Path = env.String(env.Prefix+"STORE_PATH", c.Store.Path)
	if c.Engine.TickInterval, err = env.Duration(env.Prefix+"TICK_INTERVAL", c.Engine.TickInterval); err != nil {
		return err
	}
	if c.Engine.MaxCallDepth, err = env.Int(env.Prefix+"MAX_CALL_DEPTH", c.Engine.MaxCallDepth); err != nil {
		return err
	}
	if c.Engine.MaxTaskInstances, err = env.Int(env.Prefix+"MAX_TASK_INSTANCES", c.Engine.MaxTaskInstances); err != nil {
		return err
	}
	if c.Engine.AwaitAgentAck, err = env.Bool(env.Prefix+"AWAIT_AGENT_ACK", c.Engine.AwaitAgentAck); err != nil {
		return err
	}
	if c.ObjectStore, err = objectstore.ApplyEnv(c.ObjectStore); err != nil {
		return err
	}
	return nil
}

// Validate checks ranges and fleet consistency. The object store is only
// validated when it is used.
func (c Config) Validate() error {
	if c.Engine.TickInterval <= 0 {
		return errors.New("engine.tick_interval must be positive")
	}
	if c.Engine.MaxCallDepth <= 0 {
		return errors.New("engine.max_call_depth must be positive")
	}
	if c.Engine.MaxExactPickups < 0 || c.Engine.MaxTaskInstances < 0 {
		return errors.New("engine limits must not be negative")
	}
	if c.Engine.GateWait < 0 || c.Engine.ServiceTime < 0 {
		return errors.New("engine.gate_wait and engine.service_time must not be negative")
	}
	seen := make(map[string]bool, len(c.Fleet))
	for i, ent := range c.Fleet {
		if ent.ID == "" {
			return fmt.Errorf("fleet[%d]: id is required", i)
		}
		if seen[ent.ID] {
			return fmt.Errorf("fleet[%d]: duplicate entity %q", i, ent.ID)
		}
		seen[ent.ID] = true
		if ent.Speed < 0 {
			return fmt.Errorf("fleet[%d]: speed must not be negative", i)
		}
	}
	for i, d := range c.Distances {
		if d.From == "" || d.To == "" {
			return fmt.Errorf("distances[%d]: from and to are required", i)
		}
		if d.Distance < 0 {
			return fmt.Errorf("distances[%d]: distance must not be negative", i)
		}
	}
	return nil
}

// NewFleet builds the entity fleet.
func (c Config) NewFleet() *assign.Fleet {
	return assign.NewFleet(c.Fleet...)
}

// Topology returns the explicit distance table, or nil when none is
// configured.
func (c Config) Topology() assign.Topology {
	if len(c.Distances) == 0 {
		return nil
	}
	t := assign.NewTable()
	for _, d := range c.Distances {
		t.Set(d.From, d.To, d.Distance)
	}
	return t
}

// EngineOptions translates the configuration into engine options. The
// fleet is passed separately so callers can keep a handle on it.
func (c Config) EngineOptions(fleet *assign.Fleet) []engine.Option {
	opts := []engine.Option{
		engine.WithFleet(fleet),
		engine.WithTickInterval(c.Engine.TickInterval),
		engine.WithMaxCallDepth(c.Engine.MaxCallDepth),
		engine.WithMaxExactPickups(c.Engine.MaxExactPickups),
		engine.WithMaxTaskInstances(c.Engine.MaxTaskInstances),
		engine.WithAwaitAgentAck(c.Engine.AwaitAgentAck),
		engine.WithGateWaitEstimate(c.Engine.GateWait),
		engine.WithServiceTime(c.Engine.ServiceTime),
	}
	if topo := c.Topology(); topo != nil {
		opts = append(opts, engine.WithTopology(topo))
	}
	return opts
}
