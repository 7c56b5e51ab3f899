package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func (c *cli) runsCommand() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List the most recent audited runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runRuns(cmd, limit)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of runs")
	return cmd
}

type runRow struct {
	RunID      string `json:"run_id"`
	Reference  string `json:"reference"`
	Success    bool   `json:"success"`
	FromCache  bool   `json:"from_cache"`
	RiskLevel  string `json:"risk_level,omitempty"`
	HITLStatus string `json:"hitl_status,omitempty"`
	Tokens     int    `json:"tokens"`
	DurationMS int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

func (c *cli) runRuns(cmd *cobra.Command, limit int) error {
	store, err := c.openStore(cmd.Context(), false)
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.ListRuns(cmd.Context(), limit)
	if err != nil {
		return err
	}
	rows := make([]runRow, 0, len(runs))
	for _, r := range runs {
		tokens := 0
		for _, u := range r.TokensConsumed {
			tokens += u.Input + u.Output
		}
		rows = append(rows, runRow{
			RunID:      r.RunID,
			Reference:  r.Inputs.Reference(),
			Success:    r.Success,
			FromCache:  r.FromCache,
			RiskLevel:  r.RiskLevel,
			HITLStatus: r.HITLStatus,
			Tokens:     tokens,
			DurationMS: r.DurationMS,
			Error:      r.Error,
		})
	}
	if c.jsonOutput {
		return printJSON(cmd.OutOrStdout(), rows)
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN ID\tREFERENCE\tSTATUS\tRISK\tREVIEW\tTOKENS\tDURATION")
	for _, r := range rows {
		status := "ok"
		switch {
		case !r.Success:
			status = "failed"
		case r.FromCache:
			status = "cached"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%dms\n", r.RunID, r.Reference, status, r.RiskLevel, r.HITLStatus, r.Tokens, r.DurationMS)
	}
	return tw.Flush()
}
