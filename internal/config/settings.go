package config

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/foundry-cloud/flow/internal/flowerr"
	"gopkg.in/yaml.v3"
)

const (
	DefaultAPIURL  = "https://api.mlfoundry.com"
	DefaultTimeout = 30
)

// Settings is the CLI's account configuration, read from ~/.flow.yaml and
// overridden by FOUNDRY_* environment variables.
type Settings struct {
	APIURL         string `yaml:"api_url"`
	Email          string `yaml:"email"`
	Password       string `yaml:"password,omitempty"`
	Token          string `yaml:"token,omitempty"`
	ProjectName    string `yaml:"project_name"`
	SSHKeyName     string `yaml:"ssh_key_name"`
	TimeoutSeconds int    `yaml:"timeout_seconds,omitempty"`
	JournalPath    string `yaml:"journal_path,omitempty"`
	Insecure       bool   `yaml:"insecure,omitempty"`
}

var envOverrides = []struct {
	key string
	set func(*Settings, string)
}{
	{"FOUNDRY_EMAIL", func(s *Settings, v string) { s.Email = v }},
	{"FOUNDRY_PASSWORD", func(s *Settings, v string) { s.Password = v }},
	{"FOUNDRY_TOKEN", func(s *Settings, v string) { s.Token = v }},
	{"FOUNDRY_PROJECT_NAME", func(s *Settings, v string) { s.ProjectName = v }},
	{"FOUNDRY_SSH_KEY_NAME", func(s *Settings, v string) { s.SSHKeyName = v }},
	{"API_URL", func(s *Settings, v string) { s.APIURL = v }},
	{"FOUNDRY_API_URL", func(s *Settings, v string) { s.APIURL = v }},
}

func DefaultSettingsPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".flow.yaml"), nil
}

// LoadSettings reads path (the default path when empty). A missing file is not
// an error.
func LoadSettings(path string) (*Settings, error) {
	if path == "" {
		var err error
		if path, err = DefaultSettingsPath(); err != nil {
			return nil, err
		}
	}

	cfg := &Settings{}
	f, err := os.Open(path)
	switch {
	case err == nil:
		defer f.Close()
		if err := yaml.NewDecoder(f).Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, &flowerr.ConfigurationError{Msg: "parse " + path, Err: err}
		}
	case !os.IsNotExist(err):
		return nil, err
	}

	for _, o := range envOverrides {
		if v, ok := os.LookupEnv(o.key); ok && v != "" {
			o.set(cfg, v)
		}
	}

	if cfg.APIURL == "" {
		cfg.APIURL = DefaultAPIURL
	}
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = DefaultTimeout
	}
	if cfg.JournalPath == "" {
		cfg.JournalPath = filepath.Join(filepath.Dir(path), ".flow", "journal.db")
	}
	return cfg, nil
}

// ParseSettings decodes a settings document as written by SaveSettings. No
// environment overrides or defaults are applied.
func ParseSettings(data []byte) (*Settings, error) {
	cfg := &Settings{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, &flowerr.ConfigurationError{Msg: "parse settings", Err: err}
	}
	return cfg, nil
}

// SaveSettings writes cfg to path with owner-only permissions.
func SaveSettings(path string, cfg *Settings) error {
	if path == "" {
		var err error
		if path, err = DefaultSettingsPath(); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := yaml.NewEncoder(f)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return err
	}
	return enc.Close()
}

func (s *Settings) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds) * time.Second
}

// Validate checks the fields every remote command needs.
func (s *Settings) Validate() error {
	var errs []error
	if strings.TrimSpace(s.Token) == "" {
		if strings.TrimSpace(s.Email) == "" {
			errs = append(errs, &flowerr.ConfigurationError{Msg: "email is not set (FOUNDRY_EMAIL or flow configure)"})
		}
		if s.Password == "" {
			errs = append(errs, &flowerr.ConfigurationError{Msg: "password is not set (FOUNDRY_PASSWORD or flow configure)"})
		}
	}
	if strings.TrimSpace(s.ProjectName) == "" {
		errs = append(errs, &flowerr.ConfigurationError{Msg: "project name is not set (FOUNDRY_PROJECT_NAME)"})
	}
	return errors.Join(errs...)
}

// LogValue masks secrets when settings are logged.
func (s Settings) LogValue() slog.Value {
	mask := func(v string) string {
		if v == "" {
			return ""
		}
		return "********"
	}
	return slog.GroupValue(
		slog.String("api_url", s.APIURL),
		slog.String("email", s.Email),
		slog.String("password", mask(s.Password)),
		slog.String("token", mask(s.Token)),
		slog.String("project_name", s.ProjectName),
		slog.String("ssh_key_name", s.SSHKeyName),
	)
}
