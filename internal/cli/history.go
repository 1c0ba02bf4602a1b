package cli

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/saltfish/freqsweep/internal/db/repository"
	"github.com/saltfish/freqsweep/internal/report"
)

var errHistoryDisabled = errors.New("batch history is disabled (set database.driver to sqlite or postgres)")

func (st *state) openStore(ctx context.Context) (*repository.Store, error) {
	store, err := repository.Open(ctx, &st.cfg.Database, st.logger)
	if err != nil {
		return nil, err
	}
	if store == nil {
		return nil, errHistoryDisabled
	}
	return store, nil
}

func newHistoryCmd(st *state) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded batches",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := st.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			batches, err := store.Batches.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(batches) == 0 {
				fmt.Fprintln(st.out, "No batches recorded.")
				return nil
			}

			tw := tabwriter.NewWriter(st.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "BATCH\tSTARTED\tELAPSED\tUNITS\tVALIDATED\tFAILED\tCANCELLED")
			for _, b := range batches {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%d\n",
					b.ID, b.StartedAt.Local().Format(time.DateTime), b.Elapsed.Round(time.Second),
					b.Total, b.Validated, b.Failed, b.Cancelled)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", repository.DefaultListLimit, "maximum number of batches")

	cmd.AddCommand(newHistoryShowCmd(st))
	cmd.AddCommand(newHistoryUnitCmd(st))
	return cmd
}

func newHistoryShowCmd(st *state) *cobra.Command {
	var (
		format string
		topN   int
	)

	cmd := &cobra.Command{
		Use:   "show <batch-id>",
		Short: "Render the summary of a recorded batch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid batch id %q: %w", args[0], err)
			}
			f, err := report.ParseFormat(format)
			if err != nil {
				return err
			}
			if topN <= 0 {
				topN = st.cfg.Runner.TopN
			}

			store, err := st.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			result, err := store.Batches.Get(cmd.Context(), id)
			if err != nil {
				return err
			}
			return report.WriteSummary(st.out, result, topN, f, st.logger)
		},
	}
	cmd.Flags().StringVar(&format, "format", "table", "summary format: table, markdown, json")
	cmd.Flags().IntVar(&topN, "top", 0, "number of ranked units")
	return cmd
}

func newHistoryUnitCmd(st *state) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "unit <unit-id>",
		Short: "Show how one unit fared across batches, e.g. GodStra_4h",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := st.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			records, err := store.Batches.UnitHistory(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Fprintf(st.out, "No outcomes recorded for %s.\n", args[0])
				return nil
			}

			tw := tabwriter.NewWriter(st.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "RECORDED\tBATCH\tSTATE\tPROFIT")
			for _, r := range records {
				profit := r.Profit
				if profit == "" {
					profit = "-"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
					r.RecordedAt.Local().Format(time.DateTime), r.BatchID, r.State, profit)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", repository.DefaultListLimit, "maximum number of records")
	return cmd
}
