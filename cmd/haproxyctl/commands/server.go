package commands

import (
	"github.com/spf13/cobra"

	"github.com/openfroyo/haproxyctl/pkg/engine"
	"github.com/openfroyo/haproxyctl/pkg/model"
)

func newServerCommand() *cobra.Command {
	var (
		backend  string
		frontend string
	)
	rf := &reconcileFlags{}
	ff := newFieldFlags(
		fieldFlag{name: "address", path: "address", usage: "server IP address or hostname"},
		fieldFlag{name: "port", path: "port", usage: "server port", isInt: true},
		fieldFlag{name: "weight", path: "weight", usage: "load balancing weight (0-256)", isInt: true},
		fieldFlag{name: "check", path: "check", usage: "health checking: enabled or disabled"},
		fieldFlag{name: "maintenance", path: "maintenance", usage: "maintenance mode: enabled or disabled"},
		fieldFlag{name: "ssl", path: "ssl", usage: "TLS to the server: enabled or disabled"},
		fieldFlag{name: "verify", path: "verify", usage: "certificate verification: none or required"},
		fieldFlag{name: "maxconn", path: "maxconn", usage: "maximum concurrent connections", isInt: true},
	)

	cmd := &cobra.Command{
		Use:   "server NAME",
		Short: "Converge a server of a backend or frontend",
		Long: `Converge a server. Servers are scoped to their parent, so exactly one of
--backend or --frontend is required.`,
		Example: `  # Add a server to a backend
  haproxyctl server web1 --backend web --address 10.0.0.1 --port 8080 --check enabled

  # Drain it
  haproxyctl server web1 --backend web --maintenance enabled

  # Remove it
  haproxyctl server web1 --backend web --state absent`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parent, err := serverParent(backend, frontend)
			if err != nil {
				return err
			}
			spec, err := buildSpec(cmd, rf, ff, args[0])
			if err != nil {
				return err
			}
			desired, err := desiredResource(model.KindServer, rf.state, spec)
			if err != nil {
				return err
			}
			return runReconcile(cmd, model.ServerKey(parent.Kind, parent.Name, args[0]), desired, rf)
		},
	}

	cmd.Flags().StringVar(&backend, "backend", "", "parent backend")
	cmd.Flags().StringVar(&frontend, "frontend", "", "parent frontend")
	rf.register(cmd.Flags())
	ff.register(cmd.Flags())

	return cmd
}

func serverParent(backend, frontend string) (model.ParentRef, error) {
	switch {
	case backend != "" && frontend != "":
		return model.ParentRef{}, engine.NewValidationError("--backend and --frontend are mutually exclusive", nil)
	case backend != "":
		return model.ParentRef{Kind: model.KindBackend, Name: backend}, nil
	case frontend != "":
		return model.ParentRef{Kind: model.KindFrontend, Name: frontend}, nil
	default:
		return model.ParentRef{}, engine.NewValidationError("server requires --backend or --frontend", nil)
	}
}
