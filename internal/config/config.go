package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config models taskwire.yml.
type Config struct {
	Listen      string `yaml:"listen"`
	Environment string `yaml:"environment"`
	UsersRoot   string `yaml:"users_root"`
	Registration struct {
		Secrets []string `yaml:"secrets"`
	} `yaml:"registration"`
	TLS struct {
		Certificate string `yaml:"certificate"`
		PrivateKey  string `yaml:"private_key"`
	} `yaml:"tls"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; generate with tw config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("config.listen is required")
	}
	if c.UsersRoot == "" {
		return fmt.Errorf("config.users_root is required")
	}
	if len(c.Registration.Secrets) == 0 {
		return fmt.Errorf("config.registration.secrets must contain at least one secret")
	}
	for _, s := range c.Registration.Secrets {
		if s == "" {
			return fmt.Errorf("config.registration.secrets contains an empty secret")
		}
	}
	if (c.TLS.Certificate == "") != (c.TLS.PrivateKey == "") {
		return fmt.Errorf("config.tls requires both certificate and private_key")
	}
	return nil
}

// TLSEnabled reports whether the listener should serve TLS.
func (c *Config) TLSEnabled() bool {
	return c.TLS.Certificate != "" && c.TLS.PrivateKey != ""
}

// ApplyEnv overlays environment-style overrides onto the config. Secrets come
// pipe-separated, matching the original deployment format.
func (c *Config) ApplyEnv(listen, environment, usersRoot, secrets, certificate, privateKey string) {
	if listen != "" {
		c.Listen = listen
	}
	if environment != "" {
		c.Environment = environment
	}
	if usersRoot != "" {
		c.UsersRoot = usersRoot
	}
	if secrets != "" {
		c.Registration.Secrets = ParseSecrets(secrets)
	}
	if certificate != "" {
		c.TLS.Certificate = certificate
	}
	if privateKey != "" {
		c.TLS.PrivateKey = privateKey
	}
}

// ParseSecrets splits a pipe-separated secret list, dropping empty entries.
func ParseSecrets(raw string) []string {
	var out []string
	for _, s := range strings.Split(raw, "|") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "taskwire.yml")
}

// Default returns the default Config struct for a workspace.
func Default(workspace string) *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(GenerateDefault(workspace)), &cfg)
	return &cfg
}

// GenerateDefault returns default config YAML.
func GenerateDefault(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return fmt.Sprintf(defaultTemplate, filepath.Join(workspace, "database", "users"))
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `listen: ":8080"
environment: dev
users_root: %s

registration:
  secrets:
    - change-me

tls:
  certificate: ""
  private_key: ""
`
