package commands

import (
	"github.com/spf13/cobra"

	"github.com/openfroyo/haproxyctl/pkg/model"
)

func newFrontendCommand() *cobra.Command {
	rf := &reconcileFlags{}
	ff := newFieldFlags(
		fieldFlag{name: "mode", path: "mode", usage: "proxy mode: http or tcp"},
		fieldFlag{name: "default-backend", path: "default_backend", usage: "backend receiving unmatched traffic"},
		fieldFlag{name: "maxconn", path: "maxconn", usage: "maximum concurrent connections", isInt: true},
		fieldFlag{name: "client-timeout", path: "client_timeout", usage: "client timeout in milliseconds", isInt: true},
		fieldFlag{name: "description", path: "description", usage: "free text description"},
	)

	cmd := &cobra.Command{
		Use:   "frontend NAME",
		Short: "Converge a frontend",
		Example: `  # Route a frontend to a backend
  haproxyctl frontend public --mode http --default-backend web

  # Remove it
  haproxyctl frontend public --state absent`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			spec, err := buildSpec(cmd, rf, ff, args[0])
			if err != nil {
				return err
			}
			desired, err := desiredResource(model.KindFrontend, rf.state, spec)
			if err != nil {
				return err
			}
			return runReconcile(cmd, model.FrontendKey(args[0]), desired, rf)
		},
	}

	rf.register(cmd.Flags())
	ff.register(cmd.Flags())

	return cmd
}
