package commands

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfroyo/haproxyctl/pkg/config"
	"github.com/openfroyo/haproxyctl/pkg/stores"
)

func newHistoryCommand() *cobra.Command {
	var (
		limit    int
		offset   int
		resource string
		prune    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "history [RUN_ID]",
		Short: "Show the apply journal",
		Long: `List past apply runs, newest first. With a run id, show the changes and
transactions of that run. With --resource, show the recent changes of one
resource across runs, e.g. --resource backend/web.`,
		Example: `  # Last 10 runs
  haproxyctl history --limit 10

  # What one run did
  haproxyctl history 3f6c2a9e-...

  # When did this server last change
  haproxyctl history --resource backend/web/server/web1

  # Forget runs older than 30 days
  haproxyctl history --prune 720h`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSettings()
			if err != nil {
				return err
			}
			if s.Journal == "" {
				return fmt.Errorf("journal is disabled; set journal in the settings file or %s", config.EnvJournal)
			}

			ctx := cmd.Context()
			journal, err := openJournal(ctx, s.Journal)
			if err != nil {
				return err
			}
			defer journal.Close()

			out := cmd.OutOrStdout()
			switch {
			case prune > 0:
				n, err := journal.PruneRuns(ctx, time.Now().Add(-prune))
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "pruned %d runs\n", n)
				return nil

			case resource != "":
				changes, err := journal.ResourceHistory(ctx, resource, limit)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(out, changes)
				}
				return printChanges(out, changes)

			case len(args) == 1:
				run, err := journal.GetRun(ctx, args[0])
				if err != nil {
					return err
				}
				changes, err := journal.ListChanges(ctx, run.ID)
				if err != nil {
					return err
				}
				txs, err := journal.ListTransactions(ctx, run.ID)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(out, map[string]any{"run": run, "changes": changes, "transactions": txs})
				}
				if err := printRuns(out, []*stores.Run{run}); err != nil {
					return err
				}
				fmt.Fprintln(out)
				if err := printChanges(out, changes); err != nil {
					return err
				}
				for _, tx := range txs {
					fmt.Fprintf(out, "transaction %s version=%d status=%s\n", tx.ID, tx.Version, tx.Status)
				}
				return nil

			default:
				runs, err := journal.ListRuns(ctx, limit, offset)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(out, runs)
				}
				return printRuns(out, runs)
			}
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of entries")
	cmd.Flags().IntVar(&offset, "offset", 0, "skip this many runs")
	cmd.Flags().StringVar(&resource, "resource", "", "show the history of one resource key")
	cmd.Flags().DurationVar(&prune, "prune", 0, "delete finished runs older than this")

	return cmd
}

func printRuns(w io.Writer, runs []*stores.Run) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tSTARTED\tSTATUS\tCHANGED\tRESOURCES\tDRY RUN\tERROR")
	for _, r := range runs {
		errMsg := ""
		if r.Error != nil {
			errMsg = *r.Error
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%d\t%t\t%s\n",
			r.ID, r.StartedAt.Local().Format(time.DateTime), r.Status, r.Changed, r.Resources, r.DryRun, errMsg)
	}
	return tw.Flush()
}

func printChanges(w io.Writer, changes []*stores.Change) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tRECORDED\tRESOURCE\tOPERATION\tFIELDS")
	for _, c := range changes {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%v\n",
			c.RunID, c.RecordedAt.Local().Format(time.DateTime), c.ResourceKey, c.Operation, c.Fields)
	}
	return tw.Flush()
}
