package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/haproxyctl/pkg/config"
	"github.com/openfroyo/haproxyctl/pkg/engine"
)

// errDrift is returned with --exit-code when live configuration differs
// from the manifests.
var errDrift = errors.New("drift detected")

func newDriftCommand() *cobra.Command {
	var (
		files      []string
		reportFile string
		exitCode   bool
	)

	cmd := &cobra.Command{
		Use:   "drift",
		Short: "Detect configuration drift",
		Long: `Detect configuration drift by comparing the live configuration with
the manifests.

This command:
  - Loads the manifests
  - Reads every resource from the Data Plane API
  - Lists the resources apply would create, update or delete
  - Optionally writes a JSON drift report

Nothing is written and no transaction is opened. Use apply to reconcile.`,
		Example: `  # Detect drift
  haproxyctl drift -f site.yaml

  # Fail in CI when drift is found
  haproxyctl drift -f ./manifests --exit-code

  # Write a drift report
  haproxyctl drift -f site.yaml --report drift-report.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()

			log.Info().
				Strs("files", files).
				Str("report", reportFile).
				Msg("Detecting drift")

			report, err := detectDrift(cmd.Context(), config.NewLoader(), rt.reconciler, files)
			if err != nil {
				return err
			}
			report.BaseURL = rt.settings.BaseURL

			if reportFile != "" {
				if err := writeDriftReport(reportFile, report); err != nil {
					return err
				}
			}
			if err := printDrift(cmd.OutOrStdout(), report); err != nil {
				return err
			}
			if exitCode && len(report.Drifted) > 0 {
				return errDrift
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&files, "file", "f", nil, "manifest files or directories")
	cmd.Flags().StringVar(&reportFile, "report", "", "drift report output file")
	cmd.Flags().BoolVar(&exitCode, "exit-code", false, "exit with an error when drift is found")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

// DriftItem is one resource whose live configuration differs.
type DriftItem struct {
	Key       string               `json:"key"`
	Operation engine.OperationType `json:"operation"`
	Message   string               `json:"message"`
	Fields    []string             `json:"fields,omitempty"`
}

// DriftReport is the outcome of a drift check.
type DriftReport struct {
	CheckedAt time.Time   `json:"checked_at"`
	BaseURL   string      `json:"base_url,omitempty"`
	Sources   []string    `json:"sources"`
	Resources int         `json:"resources"`
	Drifted   []DriftItem `json:"drifted"`
}

func detectDrift(ctx context.Context, loader *config.Loader, batch batchReconciler, files []string) (*DriftReport, error) {
	m, err := loader.Load(ctx, files...)
	if err != nil {
		return nil, err
	}
	req, err := m.BatchRequest(true)
	if err != nil {
		return nil, err
	}
	res, err := batch.ReconcileBatch(ctx, req)
	if err != nil {
		return nil, err
	}

	report := &DriftReport{
		CheckedAt: time.Now().UTC(),
		Sources:   m.SourceFiles,
		Resources: len(req.Items),
		Drifted:   []DriftItem{},
	}
	for _, r := range res.Results {
		if r == nil || !r.Changed {
			continue
		}
		item := DriftItem{Key: r.Key.String(), Operation: r.Operation, Message: r.Message}
		for _, c := range r.Changes {
			item.Fields = append(item.Fields, c.Path)
		}
		report.Drifted = append(report.Drifted, item)
	}
	return report, nil
}

func writeDriftReport(path string, report *DriftReport) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create report: %w", err)
	}
	if err := printJSON(f, report); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write report: %w", err)
	}
	return f.Close()
}

func printDrift(w io.Writer, report *DriftReport) error {
	if jsonOutput {
		return printJSON(w, report)
	}
	if len(report.Drifted) == 0 {
		fmt.Fprintf(w, "no drift in %d resources\n", report.Resources)
		return nil
	}
	for _, d := range report.Drifted {
		fmt.Fprintf(w, "%s %s: %s\n", d.Operation, d.Key, d.Message)
		for _, f := range d.Fields {
			fmt.Fprintf(w, "    ~ %s\n", f)
		}
	}
	fmt.Fprintf(w, "%d of %d resources drifted\n", len(report.Drifted), report.Resources)
	return nil
}
