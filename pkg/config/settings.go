package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/haproxyctl/pkg/dataplane"
	"github.com/openfroyo/haproxyctl/pkg/telemetry"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Environment variables read by ApplyEnv.
const (
	EnvBaseURL          = "HAPROXYCTL_BASE_URL"
	EnvUsername         = "HAPROXYCTL_USERNAME"
	EnvPassword         = "HAPROXYCTL_PASSWORD"
	EnvAPIVersion       = "HAPROXYCTL_API_VERSION"
	EnvTimeout          = "HAPROXYCTL_TIMEOUT"
	EnvTransactionStyle = "HAPROXYCTL_TRANSACTION_STYLE"
	EnvJournal          = "HAPROXYCTL_JOURNAL"
)

// Settings is the haproxyctl settings file.
//
//	base_url: http://127.0.0.1:5555
//	username: admin
//	password: secret
//	transaction_style: path
//	journal: ~/.haproxyctl/journal.db
//	policy:
//	  enabled: true
//	  paths: [./policies]
type Settings struct {
	BaseURL          string        `yaml:"base_url" validate:"required,url"`
	APIVersion       string        `yaml:"api_version" validate:"omitempty,alphanum"`
	Username         string        `yaml:"username"`
	Password         string        `yaml:"password"`
	Timeout          time.Duration `yaml:"timeout" validate:"gte=0"`
	TransactionStyle string        `yaml:"transaction_style" validate:"omitempty,oneof=path query"`

	// Journal is the SQLite file recording apply runs. Empty disables it.
	Journal string `yaml:"journal"`

	Policy    PolicySettings   `yaml:"policy"`
	Telemetry telemetry.Config `yaml:"telemetry"`
}

// PolicySettings selects the Rego policies evaluated before an apply.
type PolicySettings struct {
	Enabled bool `yaml:"enabled"`

	// Paths are extra .rego files or directories loaded on top of the
	// built-in policies.
	Paths []string `yaml:"paths"`
}

// DefaultSettingsPath returns ~/.haproxyctl/config.yaml.
func DefaultSettingsPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".haproxyctl.yaml"
	}
	return filepath.Join(home, ".haproxyctl", "config.yaml")
}

// DefaultSettings returns settings for a local Data Plane API.
func DefaultSettings() *Settings {
	return &Settings{
		BaseURL:          "http://127.0.0.1:5555",
		APIVersion:       "v2",
		Timeout:          30 * time.Second,
		TransactionStyle: string(dataplane.TransactionInPath),
		Policy:           PolicySettings{Enabled: true},
		Telemetry:        *telemetry.DefaultConfig(),
	}
}

// LoadSettings reads a settings file over the defaults. A missing file is
// not an error when path is empty or the default path.
func LoadSettings(path string) (*Settings, error) {
	s := DefaultSettings()

	explicit := path != ""
	if !explicit {
		path = DefaultSettingsPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && (!explicit || path == DefaultSettingsPath()) {
			return s, nil
		}
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}

	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("failed to parse settings %s: %w", path, err)
	}
	return s, nil
}

// ApplyEnv overrides settings from environment variables. lookup is
// usually os.LookupEnv.
func (s *Settings) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(name); ok && v != "" {
			*dst = v
		}
	}
	str(EnvBaseURL, &s.BaseURL)
	str(EnvUsername, &s.Username)
	str(EnvPassword, &s.Password)
	str(EnvAPIVersion, &s.APIVersion)
	str(EnvTransactionStyle, &s.TransactionStyle)
	str(EnvJournal, &s.Journal)

	if v, ok := lookup(EnvTimeout); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvTimeout, err)
		}
		s.Timeout = d
	}
	return nil
}

// Validate checks the settings and their telemetry section.
func (s *Settings) Validate() error {
	if err := validate.Struct(s); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid settings: %s failed %q", fe.Namespace(), fe.Tag())
		}
		return fmt.Errorf("invalid settings: %w", err)
	}
	if err := s.Telemetry.Validate(); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}
	return nil
}

// ClientConfig returns the Data Plane API client configuration.
func (s *Settings) ClientConfig() dataplane.Config {
	return dataplane.Config{
		BaseURL:          s.BaseURL,
		APIVersion:       s.APIVersion,
		Username:         s.Username,
		Password:         s.Password,
		Timeout:          s.Timeout,
		TransactionStyle: dataplane.TransactionStyle(s.TransactionStyle),
	}
}
