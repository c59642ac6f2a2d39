// Package config loads the description of a restpipe client (pipes, auth
// modules and stores) from an optional YAML file overlaid with RESTPIPE_
// environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// DefaultPath is read when Load is given no path. It may be absent.
const DefaultPath = "restpipe.yaml"

// EnvPrefix marks environment overrides. A double underscore separates
// nesting levels: RESTPIPE_SERVER__ADDR sets server.addr.
const EnvPrefix = "RESTPIPE_"

type Config struct {
	// BaseURL is applied to pipes and auth modules that set none.
	BaseURL     string             `koanf:"base_url"`
	LogLevel    string             `koanf:"log_level"`
	Pipes       []PipeConfig       `koanf:"pipes"`
	AuthModules []AuthModuleConfig `koanf:"auth_modules"`
	Stores      []StoreConfig      `koanf:"stores"`
	Server      ServerConfig       `koanf:"server"`
}

type PipeConfig struct {
	Name               string            `koanf:"name"`
	Type               string            `koanf:"type"`
	Endpoint           string            `koanf:"endpoint"`
	BaseURL            string            `koanf:"base_url"`
	RecordID           string            `koanf:"record_id"`
	Params             map[string]string `koanf:"params"` // parameter provider
	Offset             string            `koanf:"offset"`
	Limit              int               `koanf:"limit"`
	MetadataLocation   string            `koanf:"metadata_location"` // webLinking, header, body
	NextIdentifier     string            `koanf:"next_identifier"`
	PreviousIdentifier string            `koanf:"previous_identifier"`
	AuthModule         string            `koanf:"auth_module"` // name of an entry in auth_modules
	Timeout            time.Duration     `koanf:"timeout"`
}

type AuthModuleConfig struct {
	Name            string        `koanf:"name"`
	Type            string        `koanf:"type"`
	BaseURL         string        `koanf:"base_url"`
	LoginEndpoint   string        `koanf:"login_endpoint"`
	LogoutEndpoint  string        `koanf:"logout_endpoint"`
	EnrollEndpoint  string        `koanf:"enroll_endpoint"`
	TokenHeaderName string        `koanf:"token_header_name"`
	Timeout         time.Duration `koanf:"timeout"`
}

type StoreConfig struct {
	Name     string `koanf:"name"`
	Type     string `koanf:"type"` // memory, sqlite
	RecordID string `koanf:"record_id"`
	Path     string `koanf:"path"` // sqlite only
}

// ServerConfig configures the demo resource server run by `restpipe serve`.
type ServerConfig struct {
	Addr        string            `koanf:"addr"`
	PageSize    int               `koanf:"page_size"`
	TokenHeader string            `koanf:"token_header"`
	TokenInBody bool              `koanf:"token_in_body"`
	Protected   []string          `koanf:"protected"`
	Users       map[string]string `koanf:"users"`
	Latency     time.Duration     `koanf:"latency"`
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Load reads path, or DefaultPath when path is empty, then applies
// environment overrides. A missing DefaultPath is not an error.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("loading %s: %w", path, err)
		}
	}

	// Environment variables override file config.
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
	}), nil); err != nil {
		return nil, err
	}

	// Default values
	if !k.Exists("log_level") {
		k.Set("log_level", "info")
	}
	if !k.Exists("server.addr") {
		k.Set("server.addr", ":8080")
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	cfg.BaseURL = substituteEnvVars(cfg.BaseURL)
	for i := range cfg.Pipes {
		cfg.Pipes[i].BaseURL = substituteEnvVars(cfg.Pipes[i].BaseURL)
		for key, v := range cfg.Pipes[i].Params {
			cfg.Pipes[i].Params[key] = substituteEnvVars(v)
		}
	}
	for i := range cfg.AuthModules {
		cfg.AuthModules[i].BaseURL = substituteEnvVars(cfg.AuthModules[i].BaseURL)
	}
	for i := range cfg.Stores {
		cfg.Stores[i].Path = substituteEnvVars(cfg.Stores[i].Path)
	}
	for user, password := range cfg.Server.Users {
		cfg.Server.Users[user] = substituteEnvVars(password)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that names are present and unique per section and that
// every auth_module reference resolves.
func (c *Config) Validate() error {
	var errs []error

	checkNames := func(section string, names []string) map[string]bool {
		seen := make(map[string]bool, len(names))
		for i, name := range names {
			switch {
			case name == "":
				errs = append(errs, fmt.Errorf("%s[%d]: name is required", section, i))
			case seen[name]:
				errs = append(errs, fmt.Errorf("%s[%d]: duplicate name %q", section, i, name))
			}
			seen[name] = true
		}
		return seen
	}

	pipeNames := make([]string, len(c.Pipes))
	for i, p := range c.Pipes {
		pipeNames[i] = p.Name
	}
	authNames := make([]string, len(c.AuthModules))
	for i, a := range c.AuthModules {
		authNames[i] = a.Name
	}
	storeNames := make([]string, len(c.Stores))
	for i, s := range c.Stores {
		storeNames[i] = s.Name
	}

	checkNames("pipes", pipeNames)
	modules := checkNames("auth_modules", authNames)
	checkNames("stores", storeNames)

	for i, p := range c.Pipes {
		if p.AuthModule != "" && !modules[p.AuthModule] {
			errs = append(errs, fmt.Errorf("pipes[%d]: unknown auth_module %q", i, p.AuthModule))
		}
	}

	return errors.Join(errs...)
}

// Pipe returns the pipe entry named name.
func (c *Config) Pipe(name string) (PipeConfig, bool) {
	for _, p := range c.Pipes {
		if p.Name == name {
			return p, true
		}
	}
	return PipeConfig{}, false
}

func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}
