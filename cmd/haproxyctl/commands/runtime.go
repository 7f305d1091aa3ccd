package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/haproxyctl/pkg/config"
	"github.com/openfroyo/haproxyctl/pkg/dataplane"
	"github.com/openfroyo/haproxyctl/pkg/engine"
	"github.com/openfroyo/haproxyctl/pkg/stores"
	"github.com/openfroyo/haproxyctl/pkg/telemetry"
)

// runtime holds everything a command needs to talk to the Data Plane API.
type runtime struct {
	settings   *config.Settings
	telemetry  *telemetry.Telemetry
	logger     zerolog.Logger
	client     *dataplane.Client
	reconciler *engine.Reconciler
}

// loadSettings resolves settings: defaults, then the settings file, then
// the environment, then command line flags.
func loadSettings() (*config.Settings, error) {
	s, err := config.LoadSettings(configPath)
	if err != nil {
		return nil, err
	}
	if err := s.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	if baseURL != "" {
		s.BaseURL = baseURL
	}
	if username != "" {
		s.Username = username
	}
	if password != "" {
		s.Password = password
	}
	if apiVersion != "" {
		s.APIVersion = apiVersion
	}
	if verbose {
		s.Telemetry.Logging.Level = "debug"
	}
	if s.Telemetry.ServiceVersion == "" || s.Telemetry.ServiceVersion == "dev" {
		s.Telemetry.ServiceVersion = buildVersion
	}
	s.Journal = expandHome(s.Journal)

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func newRuntime() (*runtime, error) {
	s, err := loadSettings()
	if err != nil {
		return nil, err
	}

	tel, err := telemetry.New(&s.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	logger := tel.Logger
	clientCfg := s.ClientConfig()
	clientCfg.Logger = &logger
	clientCfg.Metrics = tel.Metrics
	clientCfg.UserAgent = "haproxyctl/" + buildVersion

	client, err := dataplane.New(clientCfg)
	if err != nil {
		_ = tel.Shutdown(context.Background())
		return nil, err
	}

	reconciler := engine.NewReconciler(client,
		engine.WithLogger(telemetry.Component(logger, "engine")),
		engine.WithMetrics(tel.Metrics),
	)

	return &runtime{
		settings:   s,
		telemetry:  tel,
		logger:     logger,
		client:     client,
		reconciler: reconciler,
	}, nil
}

// Close flushes telemetry.
func (rt *runtime) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rt.telemetry.Shutdown(ctx); err != nil {
		rt.logger.Warn().Err(err).Msg("Telemetry shutdown failed")
	}
}

// openJournal opens the configured journal. It returns nil when the
// journal is disabled.
func (rt *runtime) openJournal(ctx context.Context) (*stores.SQLiteStore, error) {
	return openJournal(ctx, rt.settings.Journal)
}

func openJournal(ctx context.Context, path string) (*stores.SQLiteStore, error) {
	if path == "" {
		return nil, nil
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("failed to create journal directory: %w", err)
		}
	}
	store, err := stores.Open(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal %s: %w", path, err)
	}
	return store, nil
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printResult prints a single reconciliation result.
func printResult(w io.Writer, res *engine.Result) error {
	if jsonOutput {
		return printJSON(w, res)
	}

	fmt.Fprintf(w, "%s: %s (changed=%t)\n", res.Key, res.Message, res.Changed)
	for _, c := range res.Changes {
		fmt.Fprintf(w, "  ~ %s\n", c.Path)
	}
	if res.TransactionID != "" {
		fmt.Fprintf(w, "transaction %s: %s\n", res.TransactionID, res.TransactionState)
	}
	if res.Resource != nil && verbose {
		data, err := json.MarshalIndent(res.Resource, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(w, string(data))
	}
	return nil
}

// printBatch prints the results of a batch reconciliation.
func printBatch(w io.Writer, res *engine.BatchResult) error {
	if jsonOutput {
		return printJSON(w, res)
	}

	for _, r := range res.Results {
		marker := " "
		switch r.Operation {
		case engine.OperationCreate:
			marker = "+"
		case engine.OperationUpdate:
			marker = "~"
		case engine.OperationDelete:
			marker = "-"
		}
		fmt.Fprintf(w, "%s %s: %s\n", marker, r.Key, r.Message)
		for _, c := range r.Changes {
			fmt.Fprintf(w, "    ~ %s\n", c.Path)
		}
	}
	if res.TransactionID != "" {
		fmt.Fprintf(w, "transaction %s: %s\n", res.TransactionID, res.TransactionState)
	}
	fmt.Fprintf(w, "changed=%t\n", res.Changed)
	return nil
}
