package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/castellan/paperweight/internal/provider"
)

func analyzeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyze <document-id>",
		Short: "Run an ad-hoc AI analysis of one document",
		Long: `Fetch one document from the archive, run it through the configured AI
backend, and print the proposed metadata as JSON. Nothing is written back
to the archive or the ledger.

Examples:
  # Analyze document 42 with the standard prompt
  paperweight analyze 42

  # Analyze with a custom prompt
  paperweight analyze 42 --prompt "Summarize this contract's obligations"`,
		Args: cobra.ExactArgs(1),
		RunE: runAnalyze,
	}

	cmd.Flags().String("prompt", "", "custom prompt to use instead of the standard one")

	return cmd
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	var documentID int
	if _, err := fmt.Sscanf(args[0], "%d", &documentID); err != nil || documentID <= 0 {
		return fmt.Errorf("invalid document id: %s", args[0])
	}
	prompt, _ := cmd.Flags().GetString("prompt")

	archiveClient, err := createArchiveClient()
	if err != nil {
		return err
	}
	analyzer, err := createAnalyzer()
	if err != nil {
		return err
	}

	content, err := archiveClient.GetContent(ctx, documentID)
	if err != nil {
		return fmt.Errorf("failed to fetch document %d: %w", documentID, err)
	}

	var resp provider.AnalyzeResponse
	if prompt != "" {
		resp = analyzer.AnalyzeAdHoc(ctx, content, prompt)
	} else {
		tags, tagErr := archiveClient.GetTags(ctx)
		if tagErr != nil {
			return fmt.Errorf("failed to fetch tags: %w", tagErr)
		}
		correspondents, corrErr := archiveClient.GetCorrespondents(ctx)
		if corrErr != nil {
			return fmt.Errorf("failed to fetch correspondents: %w", corrErr)
		}

		tagNames := make([]string, len(tags))
		for i, t := range tags {
			tagNames[i] = t.Name
		}
		correspondentNames := make([]string, len(correspondents))
		for i, c := range correspondents {
			correspondentNames[i] = c.Name
		}

		resp = analyzer.Analyze(ctx, provider.AnalyzeRequest{
			Content:                content,
			ExistingTags:           tagNames,
			ExistingCorrespondents: correspondentNames,
			DocumentID:             documentID,
		})
	}

	if resp.Failed() {
		fmt.Fprintf(os.Stderr, "Analysis degraded: %s\n", resp.Err)
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(resp.Result); err != nil {
		return fmt.Errorf("failed to print result: %w", err)
	}
	if resp.Usage.Measured() {
		fmt.Fprintf(os.Stderr, "Tokens: %d prompt, %d completion\n", resp.Usage.Prompt, resp.Usage.Completion)
	}
	return nil
}
