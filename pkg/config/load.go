package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/hashicorp/hcl/v2/hclsimple"
)

// LoadConfig reads a configuration file. The format is chosen by extension:
// .json, .toml or .hcl. Missing fields take their development defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(filepath.Base(path), data)
}

// Parse decodes config data; filename only selects the format.
func Parse(filename string, data []byte) (*Config, error) {
	var cfg Config

	switch ext := strings.ToLower(filepath.Ext(filename)); ext {
	case ".json":
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	case ".toml":
		if _, err := toml.Decode(string(data), &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	case ".hcl":
		parsed, err := parseHCL(filename, data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
		cfg = *parsed
	default:
		return nil, fmt.Errorf("unsupported config format %q (expected .json, .toml or .hcl)", ext)
	}

	cfg.fillDefaults()
	return &cfg, nil
}

// HCL layout:
//
//	name = "react-mfe-host"
//	remote "remoteApp" {
//	  entry = "http://localhost:5001/assets/remoteEntry.js"
//	}
//	shared "react" {
//	  version = "18.3.1"
//	}
type hclFile struct {
	Name    string      `hcl:"name,optional"`
	Remotes []hclRemote `hcl:"remote,block"`
	Shared  []hclShared `hcl:"shared,block"`
	Build   *hclBuild   `hcl:"build,block"`
	Server  *hclServer  `hcl:"server,block"`
	Fetch   *hclFetch   `hcl:"fetch,block"`
}

type hclRemote struct {
	Name  string `hcl:"name,label"`
	Entry string `hcl:"entry"`
}

type hclShared struct {
	Name            string `hcl:"name,label"`
	Version         string `hcl:"version,optional"`
	RequiredVersion string `hcl:"required_version,optional"`
	Singleton       *bool  `hcl:"singleton,optional"`
}

type hclBuild struct {
	Target string `hcl:"target,optional"`
}

type hclServer struct {
	Address         string `hcl:"address,optional"`
	GRPCAddress     string `hcl:"grpc_address,optional"`
	RenderTimeout   string `hcl:"render_timeout,optional"`
	ShutdownTimeout string `hcl:"shutdown_timeout,optional"`
	FailMode        string `hcl:"fail_mode,optional"`
}

type hclFetch struct {
	Timeout    string `hcl:"timeout,optional"`
	MaxRetries int    `hcl:"max_retries,optional"`
	BaseDelay  string `hcl:"base_delay,optional"`
	MaxDelay   string `hcl:"max_delay,optional"`
	MaxBody    string `hcl:"max_body,optional"`
}

func parseHCL(filename string, data []byte) (*Config, error) {
	var file hclFile
	if err := hclsimple.Decode(filename, data, nil, &file); err != nil {
		return nil, err
	}

	cfg := &Config{
		Name:    file.Name,
		Remotes: make(map[string]string, len(file.Remotes)),
	}
	for _, r := range file.Remotes {
		if _, dup := cfg.Remotes[r.Name]; dup {
			return nil, fmt.Errorf("remote %q declared twice", r.Name)
		}
		cfg.Remotes[r.Name] = r.Entry
	}
	for _, s := range file.Shared {
		singleton := true
		if s.Singleton != nil {
			singleton = *s.Singleton
		}
		cfg.Shared = append(cfg.Shared, SharedConfig{
			Name:            s.Name,
			Version:         s.Version,
			RequiredVersion: s.RequiredVersion,
			Singleton:       singleton,
		})
	}
	if file.Build != nil {
		cfg.Build.Target = file.Build.Target
	}

	var err error
	if file.Server != nil {
		cfg.Server.Address = file.Server.Address
		cfg.Server.GRPCAddress = file.Server.GRPCAddress
		cfg.Server.FailMode = FailMode(file.Server.FailMode)
		if cfg.Server.RenderTimeout, err = parseDuration("server.render_timeout", file.Server.RenderTimeout); err != nil {
			return nil, err
		}
		if cfg.Server.ShutdownTimeout, err = parseDuration("server.shutdown_timeout", file.Server.ShutdownTimeout); err != nil {
			return nil, err
		}
	}
	if file.Fetch != nil {
		cfg.Fetch.MaxRetries = file.Fetch.MaxRetries
		cfg.Fetch.MaxBody = file.Fetch.MaxBody
		if cfg.Fetch.Timeout, err = parseDuration("fetch.timeout", file.Fetch.Timeout); err != nil {
			return nil, err
		}
		if cfg.Fetch.BaseDelay, err = parseDuration("fetch.base_delay", file.Fetch.BaseDelay); err != nil {
			return nil, err
		}
		if cfg.Fetch.MaxDelay, err = parseDuration("fetch.max_delay", file.Fetch.MaxDelay); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

func parseDuration(field, raw string) (Duration, error) {
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", field, raw, err)
	}
	return Duration(d), nil
}

// Save writes the configuration as indented JSON.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
