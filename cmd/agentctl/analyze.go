package main

import (
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"theological-agent/pkg/models"
)

func (c *cli) analyzeCommand() *cobra.Command {
	var req models.AnalyzeRequest
	cmd := &cobra.Command{
		Use:     "analyze",
		Short:   "Run an analysis and print the result",
		Example: `  agentctl analyze --book Sl --chapter 23 --verses 1,2,3 --modules panorama,teologia`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runAnalyze(cmd, req)
		},
	}
	cmd.Flags().StringVar(&req.Book, "book", "", "Book abbreviation (e.g. Sl)")
	cmd.Flags().IntVar(&req.Chapter, "chapter", 0, "Chapter number")
	cmd.Flags().IntSliceVar(&req.Verses, "verses", nil, "Comma separated verse numbers")
	cmd.Flags().StringSliceVar(&req.SelectedModules, "modules", models.ValidModules, "Modules to run")
	_ = cmd.MarkFlagRequired("book")
	_ = cmd.MarkFlagRequired("chapter")
	_ = cmd.MarkFlagRequired("verses")
	return cmd
}

func (c *cli) runAnalyze(cmd *cobra.Command, req models.AnalyzeRequest) error {
	a, err := c.newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	resp, err := a.Service.Analyze(cmd.Context(), req)
	if err != nil {
		return err
	}
	if c.jsonOutput {
		return printJSON(cmd.OutOrStdout(), resp)
	}
	printResponse(cmd.OutOrStdout(), resp)
	return nil
}

func printResponse(w io.Writer, resp *models.AnalyzeResponse) {
	fmt.Fprintf(w, "Run ID:     %s\n", resp.RunID)
	if resp.FromCache {
		fmt.Fprintln(w, "Source:     cache")
	}
	if resp.RiskLevel != "" {
		fmt.Fprintf(w, "Risk level: %s\n", resp.RiskLevel)
	}
	if resp.Pending() {
		fmt.Fprintln(w, "Status:     awaiting human review")
		for _, a := range resp.Alerts {
			fmt.Fprintf(w, "  - %s\n", a)
		}
		return
	}
	if resp.HITLStatus != "" {
		fmt.Fprintf(w, "Review:     %s\n", resp.HITLStatus)
	}
	if len(resp.ModelVersions) > 0 {
		fmt.Fprintln(w, "Models:")
		nodes := make([]string, 0, len(resp.ModelVersions))
		for node := range resp.ModelVersions {
			nodes = append(nodes, node)
		}
		sort.Strings(nodes)
		for _, node := range nodes {
			fmt.Fprintf(w, "  %-22s %s\n", node, resp.ModelVersions[node])
		}
	}
	fmt.Fprintf(w, "\n%s\n", resp.FinalAnalysis)
}
