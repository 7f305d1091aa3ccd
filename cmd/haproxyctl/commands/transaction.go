package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openfroyo/haproxyctl/pkg/engine"
)

func newTransactionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "transaction",
		Aliases: []string{"tx"},
		Short:   "Manage Data Plane API transactions",
		Long: `Open, commit, discard and inspect configuration transactions.

A transaction opened here can be passed to backend, server, frontend and
apply with --transaction-id; the engine writes into it and leaves it open,
so several commands can be committed together.`,
		Example: `  # Batch two changes into one reload
  TX=$(haproxyctl transaction open)
  haproxyctl backend web --balance leastconn --transaction-id "$TX"
  haproxyctl server web1 --backend web --weight 50 --transaction-id "$TX"
  haproxyctl transaction commit "$TX"`,
	}

	cmd.AddCommand(newTransactionOpenCommand())
	cmd.AddCommand(newTransactionCommitCommand())
	cmd.AddCommand(newTransactionDiscardCommand())
	cmd.AddCommand(newTransactionShowCommand())
	cmd.AddCommand(newTransactionListCommand())

	return cmd
}

func newTransactionOpenCommand() *cobra.Command {
	var version int64

	cmd := &cobra.Command{
		Use:   "open",
		Short: "Open a transaction and print its id",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()

			txm := rt.reconciler.Transactions()
			var tx *engine.Transaction
			if version > 0 {
				tx, err = txm.Open(cmd.Context(), version)
			} else {
				tx, err = txm.OpenCurrent(cmd.Context())
			}
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), engine.TransactionInfo{ID: tx.ID, Version: tx.Version, Status: string(tx.State())})
			}
			fmt.Fprintln(cmd.OutOrStdout(), tx.ID)
			return nil
		},
	}

	cmd.Flags().Int64Var(&version, "version", 0, "configuration version to anchor to (default: current)")

	return cmd
}

func newTransactionCommitCommand() *cobra.Command {
	var forceReload bool

	cmd := &cobra.Command{
		Use:   "commit ID",
		Short: "Commit an open transaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()

			txm := rt.reconciler.Transactions()
			tx, err := txm.Adopt(args[0])
			if err != nil {
				return err
			}
			info, err := txm.Commit(cmd.Context(), tx, forceReload)
			if err != nil {
				return err
			}
			return printTransaction(cmd, info)
		},
	}

	cmd.Flags().BoolVar(&forceReload, "force-reload", true, "reload HAProxy right after the commit")

	return cmd
}

func newTransactionDiscardCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "discard ID",
		Short: "Discard an open transaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()

			txm := rt.reconciler.Transactions()
			tx, err := txm.Adopt(args[0])
			if err != nil {
				return err
			}
			if err := txm.Discard(cmd.Context(), tx); err != nil {
				return err
			}
			if !jsonOutput {
				fmt.Fprintf(cmd.OutOrStdout(), "transaction %s discarded\n", args[0])
				return nil
			}
			return printJSON(cmd.OutOrStdout(), engine.TransactionInfo{ID: args[0], Status: string(engine.TxDiscarded)})
		},
	}
}

func newTransactionShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show the remote state of a transaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()

			info, err := rt.reconciler.Transactions().Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printTransaction(cmd, info)
		},
	}
}

func newTransactionListCommand() *cobra.Command {
	var status string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List remote transactions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()

			txs, err := rt.client.ListTransactions(cmd.Context(), status)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), txs)
			}
			for i := range txs {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\tversion=%d\tstatus=%s\n", txs[i].ID, txs[i].Version, txs[i].Status)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "only list transactions with this status, e.g. in_progress")

	return cmd
}

func printTransaction(cmd *cobra.Command, info *engine.TransactionInfo) error {
	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), info)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s\tversion=%d\tstatus=%s\n", info.ID, info.Version, info.Status)
	return nil
}
