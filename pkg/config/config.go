package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"mfehost/pkg/utils"
)

// FailMode decides what the host renders when a remote export cannot be resolved.
type FailMode string

const (
	// FailOpen renders the page without the failed remote region.
	FailOpen FailMode = "open"
	// FailClosed answers with an error page.
	FailClosed FailMode = "closed"
)

const (
	DefaultName        = "react-mfe-host"
	DefaultRemoteName  = "remoteApp"
	DefaultRemoteEntry = "http://localhost:5001/assets/remoteEntry.js"
	DefaultAddress     = ":5000"
	DefaultBuildTarget = "esnext"
	DefaultMaxBody     = "1MiB"
)

var buildTargets = map[string]bool{
	"esnext": true,
	"es2015": true,
	"es2016": true,
	"es2017": true,
	"es2018": true,
	"es2019": true,
	"es2020": true,
	"es2021": true,
	"es2022": true,
}

// Config is the shell host configuration. Remotes maps a container name to the
// URL of its remote entry document.
type Config struct {
	Name    string            `json:"name" toml:"name"`
	Remotes map[string]string `json:"remotes" toml:"remotes"`
	Shared  []SharedConfig    `json:"shared" toml:"shared"`
	Build   BuildConfig       `json:"build" toml:"build"`
	Server  ServerConfig      `json:"server" toml:"server"`
	Fetch   FetchConfig       `json:"fetch" toml:"fetch"`
}

// SharedConfig declares a library the host shares with its remotes.
type SharedConfig struct {
	Name            string `json:"name" toml:"name"`
	Version         string `json:"version,omitempty" toml:"version"`
	RequiredVersion string `json:"required_version,omitempty" toml:"required_version"`
	Singleton       bool   `json:"singleton" toml:"singleton"`
}

type BuildConfig struct {
	Target string `json:"target" toml:"target"`
}

type ServerConfig struct {
	Address         string   `json:"address" toml:"address"`
	GRPCAddress     string   `json:"grpc_address,omitempty" toml:"grpc_address"`
	RenderTimeout   Duration `json:"render_timeout" toml:"render_timeout"`
	ShutdownTimeout Duration `json:"shutdown_timeout" toml:"shutdown_timeout"`
	FailMode        FailMode `json:"fail_mode" toml:"fail_mode"`
}

type FetchConfig struct {
	Timeout    Duration `json:"timeout" toml:"timeout"`
	MaxRetries int      `json:"max_retries" toml:"max_retries"`
	BaseDelay  Duration `json:"base_delay" toml:"base_delay"`
	MaxDelay   Duration `json:"max_delay" toml:"max_delay"`
	MaxBody    string   `json:"max_body,omitempty" toml:"max_body"`
}

// MaxBodyBytes returns the parsed response size cap.
func (f FetchConfig) MaxBodyBytes() int64 {
	return utils.ParseByteSizeWithDefault(f.MaxBody, utils.MebiByte)
}

// Default returns the development configuration.
func Default() *Config {
	return &Config{
		Name: DefaultName,
		Remotes: map[string]string{
			DefaultRemoteName: DefaultRemoteEntry,
		},
		Shared: []SharedConfig{
			{Name: "react", Version: "18.3.1", Singleton: true},
			{Name: "react-dom", Version: "18.3.1", Singleton: true},
		},
		Build: BuildConfig{Target: DefaultBuildTarget},
		Server: ServerConfig{
			Address:         DefaultAddress,
			RenderTimeout:   Duration(2 * time.Second),
			ShutdownTimeout: Duration(5 * time.Second),
			FailMode:        FailOpen,
		},
		Fetch: FetchConfig{
			Timeout:    Duration(10 * time.Second),
			MaxRetries: 3,
			BaseDelay:  Duration(100 * time.Millisecond),
			MaxDelay:   Duration(2 * time.Second),
			MaxBody:    DefaultMaxBody,
		},
	}
}

// fillDefaults sets zero-valued fields from Default without touching what the
// file provided.
func (c *Config) fillDefaults() {
	d := Default()
	if c.Name == "" {
		c.Name = d.Name
	}
	if c.Remotes == nil {
		c.Remotes = map[string]string{}
	}
	if c.Build.Target == "" {
		c.Build.Target = d.Build.Target
	}
	if c.Server.Address == "" {
		c.Server.Address = d.Server.Address
	}
	if c.Server.RenderTimeout == 0 {
		c.Server.RenderTimeout = d.Server.RenderTimeout
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = d.Server.ShutdownTimeout
	}
	if c.Server.FailMode == "" {
		c.Server.FailMode = d.Server.FailMode
	}
	if c.Fetch.Timeout == 0 {
		c.Fetch.Timeout = d.Fetch.Timeout
	}
	if c.Fetch.MaxRetries == 0 {
		c.Fetch.MaxRetries = d.Fetch.MaxRetries
	}
	if c.Fetch.BaseDelay == 0 {
		c.Fetch.BaseDelay = d.Fetch.BaseDelay
	}
	if c.Fetch.MaxDelay == 0 {
		c.Fetch.MaxDelay = d.Fetch.MaxDelay
	}
	if c.Fetch.MaxBody == "" {
		c.Fetch.MaxBody = d.Fetch.MaxBody
	}
}

// Validate checks the configuration for values the host cannot run with.
func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("name cannot be empty")
	}

	for name, entry := range c.Remotes {
		if name == "" {
			return fmt.Errorf("remote name cannot be empty")
		}
		if strings.Contains(name, "/") {
			return fmt.Errorf("remote name %q must not contain /", name)
		}
		u, err := url.Parse(entry)
		if err != nil {
			return fmt.Errorf("remote %s: invalid entry url: %w", name, err)
		}
		if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("remote %s: entry url must be an absolute http(s) url, got %q", name, entry)
		}
	}

	// The page imports its Button and store from this remote.
	if _, ok := c.Remotes[DefaultRemoteName]; !ok {
		return fmt.Errorf("remote %q is required by the shell page", DefaultRemoteName)
	}

	seen := make(map[string]bool, len(c.Shared))
	for _, s := range c.Shared {
		if s.Name == "" {
			return fmt.Errorf("shared dependency name cannot be empty")
		}
		if seen[s.Name] {
			return fmt.Errorf("shared dependency %q declared twice", s.Name)
		}
		seen[s.Name] = true
	}

	if !buildTargets[c.Build.Target] {
		return fmt.Errorf("unknown build target %q", c.Build.Target)
	}

	switch c.Server.FailMode {
	case FailOpen, FailClosed:
	default:
		return fmt.Errorf("unknown fail mode %q (expected open or closed)", c.Server.FailMode)
	}

	if c.Server.RenderTimeout <= 0 {
		return fmt.Errorf("server.render_timeout must be positive")
	}
	if c.Fetch.Timeout <= 0 {
		return fmt.Errorf("fetch.timeout must be positive")
	}
	if c.Fetch.MaxRetries < 1 {
		return fmt.Errorf("fetch.max_retries must be at least 1")
	}
	if c.Fetch.MaxBody != "" {
		if _, err := utils.ParseByteSize(c.Fetch.MaxBody); err != nil {
			return fmt.Errorf("fetch.max_body: %w", err)
		}
	}

	return nil
}

// ApplyEnv overlays MFEHOST_* environment variables onto the configuration.
func ApplyEnv(c *Config) error {
	c.Server.Address = getEnv("MFEHOST_ADDRESS", c.Server.Address)
	c.Server.GRPCAddress = getEnv("MFEHOST_GRPC_ADDRESS", c.Server.GRPCAddress)
	c.Server.FailMode = FailMode(getEnv("MFEHOST_FAIL_MODE", string(c.Server.FailMode)))

	// Format: remoteApp=http://host:5001/assets/remoteEntry.js,other=...
	if remotes := os.Getenv("MFEHOST_REMOTES"); remotes != "" {
		parsed, err := ParseRemotes(strings.Split(remotes, ","))
		if err != nil {
			return fmt.Errorf("MFEHOST_REMOTES: %w", err)
		}
		if c.Remotes == nil {
			c.Remotes = map[string]string{}
		}
		for name, entry := range parsed {
			c.Remotes[name] = entry
		}
	}
	return nil
}

// ParseRemotes parses name=entryURL pairs.
func ParseRemotes(pairs []string) (map[string]string, error) {
	remotes := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, entry, ok := strings.Cut(pair, "=")
		if !ok || name == "" || entry == "" {
			return nil, fmt.Errorf("invalid remote %q (expected name=url)", pair)
		}
		remotes[name] = entry
	}
	return remotes, nil
}

// SharedNames returns the declared shared dependency names in order.
func (c *Config) SharedNames() []string {
	names := make([]string, 0, len(c.Shared))
	for _, s := range c.Shared {
		names = append(names, s.Name)
	}
	return names
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// Duration is a time.Duration written as "5s" in config files.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	*d = Duration(parsed)
	return nil
}

// UnmarshalJSON accepts either a bare "react" or a full object.
func (s *SharedConfig) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		*s = SharedConfig{Name: name, Singleton: true}
		return nil
	}

	type plain SharedConfig
	raw := plain{Singleton: true}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("shared entry must be a string or an object: %w", err)
	}
	*s = SharedConfig(raw)
	return nil
}

// UnmarshalTOML mirrors UnmarshalJSON for TOML arrays of strings or tables.
func (s *SharedConfig) UnmarshalTOML(data any) error {
	switch v := data.(type) {
	case string:
		*s = SharedConfig{Name: v, Singleton: true}
		return nil
	case map[string]any:
		out := SharedConfig{Singleton: true}
		for key, val := range v {
			switch key {
			case "name":
				out.Name, _ = val.(string)
			case "version":
				out.Version, _ = val.(string)
			case "required_version":
				out.RequiredVersion, _ = val.(string)
			case "singleton":
				b, ok := val.(bool)
				if !ok {
					return fmt.Errorf("shared.singleton must be a bool, got %T", val)
				}
				out.Singleton = b
			default:
				return fmt.Errorf("unknown shared key %q", key)
			}
		}
		*s = out
		return nil
	default:
		return fmt.Errorf("shared entry must be a string or a table, got %T", data)
	}
}
