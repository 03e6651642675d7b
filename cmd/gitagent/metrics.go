package main

import (
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newMetricsCmd(opts *globalOpts) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Show agent decisions and aggregates",
	}
	cmd.AddCommand(newMetricsLsCmd(opts), newMetricsStatsCmd(opts))
	return cmd
}

func newMetricsLsCmd(opts *globalOpts) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "ls <hash>",
		Short: "List recent decisions, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			metrics, err := c.Metrics(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}
			return opts.emit(cmd.OutOrStdout(), metrics, func(w io.Writer) {
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "TIME\tDECISION\tPRICE\tTRADE")
				for _, m := range metrics {
					trade := "-"
					if m.TradeExecuted {
						trade = "yes"
						if m.TradeTxHash != nil {
							trade = *m.TradeTxHash
						}
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", m.Timestamp.Local().Format(time.DateTime), m.Decision, floatString(m.Price), trade)
				}
				tw.Flush()
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum rows (server default 100)")
	return cmd
}

func newMetricsStatsCmd(opts *globalOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "stats <hash>",
		Short: "Show decision counts and price range",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			st, err := c.Stats(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return opts.emit(cmd.OutOrStdout(), st, func(w io.Writer) {
				fmt.Fprintf(w, "Decisions:       %d\n", st.TotalDecisions)
				fmt.Fprintf(w, "BUY:             %d\n", st.BuyCount)
				fmt.Fprintf(w, "HOLD:            %d\n", st.HoldCount)
				fmt.Fprintf(w, "Trades executed: %d\n", st.TradesExecuted)
				fmt.Fprintf(w, "Price avg/min/max: %s / %s / %s\n", floatString(st.AvgPrice), floatString(st.MinPrice), floatString(st.MaxPrice))
			})
		},
	}
}

func floatString(f *float64) string {
	if f == nil {
		return "-"
	}
	return strconv.FormatFloat(*f, 'f', -1, 64)
}
