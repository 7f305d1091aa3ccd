package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/openfroyo/haproxyctl/pkg/dataplane"
)

func TestLoadSettings(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.yaml", `
base_url: https://lb.example.com:5555
username: admin
password: secret
timeout: 5s
transaction_style: query
journal: /var/lib/haproxyctl/journal.db
policy:
  enabled: false
telemetry:
  service_name: haproxyctl
  logging: {level: debug, format: json}
  metrics: {enabled: false}
`)
	s, err := LoadSettings(path)
	if err != nil {
		t.Fatalf("LoadSettings() error = %v", err)
	}
	if err := s.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	cfg := s.ClientConfig()
	if cfg.BaseURL != "https://lb.example.com:5555" || cfg.Timeout != 5*time.Second {
		t.Errorf("unexpected client config %+v", cfg)
	}
	if cfg.TransactionStyle != dataplane.TransactionInQuery {
		t.Errorf("TransactionStyle = %s", cfg.TransactionStyle)
	}
	if cfg.APIVersion != "v2" {
		t.Errorf("APIVersion should keep its default, got %q", cfg.APIVersion)
	}
	if s.Policy.Enabled {
		t.Error("policy should be disabled")
	}
	if s.Telemetry.Logging.Level != "debug" {
		t.Errorf("log level = %s", s.Telemetry.Logging.Level)
	}
}

func TestLoadSettingsMissing(t *testing.T) {
	if _, err := LoadSettings(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("an explicit missing file should fail")
	}
}

func TestLoadSettingsMalformed(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.yaml", "timeout: [1, 2]\n")
	if _, err := LoadSettings(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		EnvBaseURL:  "http://10.1.1.1:5555",
		EnvPassword: "hunter2",
		EnvTimeout:  "2s",
		EnvJournal:  "",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	s := DefaultSettings()
	s.Journal = "keep.db"
	if err := s.ApplyEnv(lookup); err != nil {
		t.Fatal(err)
	}
	if s.BaseURL != "http://10.1.1.1:5555" || s.Password != "hunter2" || s.Timeout != 2*time.Second {
		t.Errorf("env not applied: %+v", s)
	}
	if s.Journal != "keep.db" {
		t.Error("empty variables should not override")
	}

	env[EnvTimeout] = "soon"
	if err := s.ApplyEnv(lookup); err == nil {
		t.Error("expected invalid timeout error")
	}
}

func TestSettingsValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Settings)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*Settings) {}},
		{name: "missing url", mutate: func(s *Settings) { s.BaseURL = "" }, wantErr: true},
		{name: "bad url", mutate: func(s *Settings) { s.BaseURL = "not a url" }, wantErr: true},
		{name: "bad style", mutate: func(s *Settings) { s.TransactionStyle = "header" }, wantErr: true},
		{name: "negative timeout", mutate: func(s *Settings) { s.Timeout = -time.Second }, wantErr: true},
		{name: "bad telemetry", mutate: func(s *Settings) { s.Telemetry.Logging.Level = "loud" }, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := DefaultSettings()
			tt.mutate(s)
			if err := s.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
