package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/a8m/envsubst"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-yaml"
)

type Config struct {
	Matrix     Matrix             `yaml:"matrix" validate:"required"`
	Marker     string             `yaml:"marker"`
	ProfileEnv string             `yaml:"profile_env"`
	Commands   Commands           `yaml:"commands" validate:"required"`
	Options    Options            `yaml:"options"`
	Schedule   string             `yaml:"schedule"`
	Watch      []string           `yaml:"watch"`
	Services   map[string]Service `yaml:"services"`
	Notify     []NotifyTarget     `yaml:"notify"`
	Template   string             `yaml:"template"`
}

type Matrix struct {
	OS       []string  `yaml:"os" validate:"min=1"`
	Versions []Version `yaml:"versions" validate:"min=1"`
}

// VersionStrings returns the version axis as plain strings.
func (m Matrix) VersionStrings() []string {
	out := make([]string, len(m.Versions))
	for i, v := range m.Versions {
		out[i] = string(v)
	}
	return out
}

// Version keeps interpreter versions textual. A bare YAML scalar like 3.10
// must survive as "3.10", not collapse through a float to "3.1", so it is
// decoded from the raw bytes.
type Version string

func (v *Version) UnmarshalYAML(b []byte) error {
	s := strings.TrimSpace(string(b))
	s = strings.Trim(s, `"'`)
	if s == "" {
		return fmt.Errorf("version: must not be empty")
	}
	*v = Version(s)
	return nil
}

// Commands are shell command templates rendered per invocation with the
// cell's OS, Version, Tag, and Mode in scope.
type Commands struct {
	Upgrade      string `yaml:"upgrade"`
	Requirements string `yaml:"requirements"`
	Install      string `yaml:"install"`
	Test         string `yaml:"test" validate:"required"`
}

type Options struct {
	MaxParallel    int    `yaml:"max_parallel"`
	PrepareTimeout string `yaml:"prepare_timeout"`
	InvokeTimeout  string `yaml:"invoke_timeout"`
	WorkDir        string `yaml:"work_dir"`
	Report         string `yaml:"report"`
}

type Service struct {
	URL    string            `yaml:"url"`
	Params map[string]string `yaml:"params"`
}

// NotifyTarget handles a plain service name string or an object with overrides.
type NotifyTarget struct {
	Service  string            `yaml:"service"`
	Template string            `yaml:"template"`
	Params   map[string]string `yaml:"params"`
}

func (n *NotifyTarget) UnmarshalYAML(unmarshal func(any) error) error {
	var str string
	if err := unmarshal(&str); err == nil {
		n.Service = str
		return nil
	}

	type notifyAlias NotifyTarget
	var obj notifyAlias
	if err := unmarshal(&obj); err != nil {
		return fmt.Errorf("notify: must be a service name string or an object with service/template/params")
	}
	*n = NotifyTarget(obj)
	return nil
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	data, err = envsubst.Bytes(data)
	if err != nil {
		return nil, fmt.Errorf("expanding env vars: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Marker == "" {
		c.Marker = "RUN_INTEGRATION"
	}
	if c.ProfileEnv == "" {
		c.ProfileEnv = "TOXENV"
	}
	if c.Options.MaxParallel == 0 {
		c.Options.MaxParallel = 4
	}
	if c.Options.WorkDir == "" {
		c.Options.WorkDir = "."
	}
}

// Validate checks the matrix axes, required commands, duration syntax, and
// that every notify target names a configured service. Any failure here is a
// configuration error: nothing has run yet and nothing will.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	for _, d := range []struct{ name, val string }{
		{"options.prepare_timeout", c.Options.PrepareTimeout},
		{"options.invoke_timeout", c.Options.InvokeTimeout},
	} {
		if d.val == "" {
			continue
		}
		if _, err := time.ParseDuration(d.val); err != nil {
			return fmt.Errorf("invalid config: %s: %w", d.name, err)
		}
	}

	for _, n := range c.Notify {
		if _, ok := c.Services[n.Service]; !ok {
			return fmt.Errorf("invalid config: notify target %q has no matching service", n.Service)
		}
	}

	return nil
}

// PrepareTimeoutDuration returns the parsed preparation timeout, zero meaning none.
func (o Options) PrepareTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(o.PrepareTimeout)
	return d
}

// InvokeTimeoutDuration returns the parsed invocation timeout, zero meaning none.
func (o Options) InvokeTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(o.InvokeTimeout)
	return d
}
