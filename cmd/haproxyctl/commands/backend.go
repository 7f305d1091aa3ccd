package commands

import (
	"github.com/spf13/cobra"

	"github.com/openfroyo/haproxyctl/pkg/model"
)

func newBackendCommand() *cobra.Command {
	rf := &reconcileFlags{}
	ff := newFieldFlags(
		fieldFlag{name: "mode", path: "mode", usage: "proxy mode: http or tcp"},
		fieldFlag{name: "balance", path: "balance.algorithm", usage: "load balancing algorithm, e.g. roundrobin"},
		fieldFlag{name: "adv-check", path: "adv_check", usage: "advanced health check, e.g. httpchk"},
		fieldFlag{name: "httpchk-method", path: "httpchk_params.method", usage: "httpchk request method"},
		fieldFlag{name: "httpchk-uri", path: "httpchk_params.uri", usage: "httpchk request URI"},
		fieldFlag{name: "cookie", path: "cookie.name", usage: "persistence cookie name"},
		fieldFlag{name: "connect-timeout", path: "connect_timeout", usage: "connect timeout in milliseconds", isInt: true},
		fieldFlag{name: "server-timeout", path: "server_timeout", usage: "server timeout in milliseconds", isInt: true},
		fieldFlag{name: "description", path: "description", usage: "free text description"},
	)

	cmd := &cobra.Command{
		Use:   "backend NAME",
		Short: "Converge a backend",
		Long: `Converge a backend to the given fields.

Only the fields you set are compared with the remote backend; everything
else the remote has is kept. The change is written inside a transaction
that is committed at the end unless --no-commit or --transaction-id is set.`,
		Example: `  # Create or update a backend
  haproxyctl backend web --mode http --balance roundrobin

  # Show what would change
  haproxyctl backend web --balance leastconn --dry-run

  # Remove it
  haproxyctl backend web --state absent`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			spec, err := buildSpec(cmd, rf, ff, args[0])
			if err != nil {
				return err
			}
			desired, err := desiredResource(model.KindBackend, rf.state, spec)
			if err != nil {
				return err
			}
			return runReconcile(cmd, model.BackendKey(args[0]), desired, rf)
		},
	}

	rf.register(cmd.Flags())
	ff.register(cmd.Flags())

	return cmd
}
