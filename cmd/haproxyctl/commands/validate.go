package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/haproxyctl/pkg/config"
	"github.com/openfroyo/haproxyctl/pkg/engine"
	"github.com/openfroyo/haproxyctl/pkg/policy"
)

func newValidateCommand() *cobra.Command {
	var (
		strict      bool
		policyPaths []string
		environment string
		graph       bool
	)

	cmd := &cobra.Command{
		Use:   "validate [path...]",
		Short: "Validate manifests without contacting the Data Plane API",
		Long: `Validate manifests against the resource schemas and the Rego policies.

This command checks:
  - YAML, JSON, CUE and Starlark syntax
  - Resource schemas and field values
  - Duplicate resource identities
  - Policy compliance (built-in and --policy files)

With --graph the batch dependency graph is printed in DOT format instead,
numbered in the order apply would reconcile it.`,
		Example: `  # Validate manifests in the current directory
  haproxyctl validate

  # Fail on policy warnings too
  haproxyctl validate --strict ./manifests

  # Add site policies
  haproxyctl validate --policy ./policies site.yaml

  # Render the execution order
  haproxyctl validate --graph site.yaml | dot -Tsvg > order.svg`,
		RunE: func(cmd *cobra.Command, args []string) error {
			paths := args
			if len(paths) == 0 {
				paths = []string{"."}
			}

			log.Debug().
				Strs("paths", paths).
				Bool("strict", strict).
				Msg("Validating manifests")

			ctx := cmd.Context()
			m, err := config.NewLoader().Load(ctx, paths...)
			if err != nil {
				return err
			}
			req, err := m.BatchRequest(true)
			if err != nil {
				return err
			}

			if graph {
				dot, err := engine.BatchDOT(req.Items)
				if err != nil {
					return err
				}
				_, err = fmt.Fprint(cmd.OutOrStdout(), dot)
				return err
			}

			pe, err := policy.NewEngine(log.Logger)
			if err != nil {
				return err
			}
			if len(policyPaths) > 0 {
				if err := pe.LoadPolicies(ctx, policyPaths); err != nil {
					return err
				}
			}
			result, err := pe.EvaluateBatch(ctx, req, environment)
			if err != nil {
				return err
			}

			if jsonOutput {
				if err := printJSON(cmd.OutOrStdout(), result); err != nil {
					return err
				}
			} else {
				out := cmd.OutOrStdout()
				for _, v := range result.Violations {
					fmt.Fprintf(out, "error: %s\n", v)
				}
				for _, w := range result.Warnings {
					fmt.Fprintf(out, "warning: %s\n", w)
				}
				fmt.Fprintf(out, "%d resources, %d violations, %d warnings\n",
					len(req.Items), len(result.Violations), len(result.Warnings))
			}

			if !result.Allowed {
				return result.Err()
			}
			if strict && len(result.Warnings) > 0 {
				return fmt.Errorf("%d policy warnings in strict mode", len(result.Warnings))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&strict, "strict", false, "treat policy warnings as errors")
	cmd.Flags().StringSliceVar(&policyPaths, "policy", nil, "extra .rego files or directories")
	cmd.Flags().StringVar(&environment, "environment", "development", "environment passed to policies")
	cmd.Flags().BoolVar(&graph, "graph", false, "print the batch dependency graph in DOT format")

	return cmd
}
