package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"theological-agent/internal/hitl"
	"theological-agent/internal/repository"
	"theological-agent/pkg/models"
)

func (c *cli) reviewsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reviews",
		Short: "List, inspect and approve analyses paused for human review",
	}

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List pending reviews, most recent first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runReviewsList(cmd, limit)
		},
	}
	list.Flags().IntVar(&limit, "limit", 50, "Maximum number of reviews")

	show := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show every persisted field of a review",
		Args:  cobra.ExactArgs(1),
		RunE:  c.runReviewsShow,
	}

	var edited, editedFile, reviewer string
	approve := &cobra.Command{
		Use:   "approve <run-id>",
		Short: "Approve a review and run the synthesis",
		Long: `Approve a pending review. With --edited-content or --edited-file the
given text replaces the validator output before synthesis and the review is
recorded as edited.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var content *string
			switch {
			case editedFile != "":
				data, err := os.ReadFile(editedFile)
				if err != nil {
					return err
				}
				text := string(data)
				content = &text
			case cmd.Flags().Changed("edited-content"):
				content = &edited
			}
			return c.runReviewsApprove(cmd, args[0], content, reviewer)
		},
	}
	approve.Flags().StringVar(&edited, "edited-content", "", "Replacement validation content")
	approve.Flags().StringVar(&editedFile, "edited-file", "", "Read the replacement validation content from a file")
	approve.Flags().StringVar(&reviewer, "reviewer", os.Getenv("USER"), "Reviewer identity recorded on the review")
	approve.MarkFlagsMutuallyExclusive("edited-content", "edited-file")

	cmd.AddCommand(list, show, approve)
	return cmd
}

func (c *cli) runReviewsList(cmd *cobra.Command, limit int) error {
	store, err := c.openStore(cmd.Context(), false)
	if err != nil {
		return err
	}
	defer store.Close()

	reviews, err := store.ListReviews(cmd.Context(), repository.ReviewPending, limit)
	if err != nil {
		return err
	}
	pending := models.PendingFromReviews(reviews)
	if c.jsonOutput {
		return printJSON(cmd.OutOrStdout(), pending)
	}
	if pending.Count == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No pending reviews.")
		return nil
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN ID\tREFERENCE\tRISK\tCREATED\tALERTS")
	for _, r := range pending.Pending {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.RunID, r.Reference, r.RiskLevel,
			r.CreatedAt.Format("2006-01-02 15:04"), strings.Join(r.Alerts, "; "))
	}
	return tw.Flush()
}

func (c *cli) runReviewsShow(cmd *cobra.Command, args []string) error {
	store, err := c.openStore(cmd.Context(), false)
	if err != nil {
		return err
	}
	defer store.Close()

	review, err := store.GetReview(cmd.Context(), args[0])
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("%w: %s", hitl.ErrReviewNotFound, args[0])
	}
	if err != nil {
		return err
	}
	detail := models.DetailFromReview(review)
	if c.jsonOutput {
		return printJSON(cmd.OutOrStdout(), detail)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Run ID:     %s\n", detail.RunID)
	fmt.Fprintf(w, "Reference:  %s\n", review.Inputs.Reference())
	fmt.Fprintf(w, "Modules:    %s\n", strings.Join(detail.SelectedModules, ", "))
	fmt.Fprintf(w, "Risk level: %s\n", detail.RiskLevel)
	fmt.Fprintf(w, "Status:     %s\n", detail.Status)
	if detail.ReviewerEmail != "" {
		fmt.Fprintf(w, "Reviewer:   %s\n", detail.ReviewerEmail)
	}
	for _, a := range detail.Alerts {
		fmt.Fprintf(w, "  - %s\n", a)
	}
	sections := []struct{ title, body string }{
		{"Panorama", detail.PanoramaContent},
		{"Lexical", detail.LexicalContent},
		{"Historical", detail.HistoricalContent},
		{"Intertextual", detail.IntertextualContent},
		{"Validation", detail.ValidationContent},
	}
	for _, s := range sections {
		if s.body != "" {
			fmt.Fprintf(w, "\n## %s\n%s\n", s.title, s.body)
		}
	}
	if detail.EditedContent != nil {
		fmt.Fprintf(w, "\n## Edited validation\n%s\n", *detail.EditedContent)
	}
	return nil
}

func (c *cli) runReviewsApprove(cmd *cobra.Command, runID string, edited *string, reviewer string) error {
	a, err := c.newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	resp, err := a.Service.Approve(cmd.Context(), runID, edited, reviewer)
	if err != nil {
		return err
	}
	if c.jsonOutput {
		return printJSON(cmd.OutOrStdout(), resp)
	}
	printResponse(cmd.OutOrStdout(), resp)
	return nil
}
