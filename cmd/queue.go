package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect and maintain the enrichment queue",
}

var queueStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show queue counts by status",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		counts, err := env.Tracker.QueueStatus(cmd.Context())
		if err != nil {
			return err
		}

		fmt.Printf("total:      %d\n", counts.Total)
		fmt.Printf("pending:    %d\n", counts.Pending)
		fmt.Printf("processing: %d\n", counts.Processing)
		fmt.Printf("done:       %d\n", counts.Done)
		fmt.Printf("error:      %d\n", counts.Error)
		return nil
	},
}

var clearIncludeProcessing bool

var queueClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove pending and finished queue items",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		removed, err := env.Maintenance.ClearQueue(cmd.Context(), clearIncludeProcessing)
		if err != nil {
			return err
		}

		fmt.Printf("removed %d queue items\n", removed)
		return nil
	},
}

var batchStatusCmd = &cobra.Command{
	Use:   "batch [id]",
	Short: "Show the status of a batch",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		report, err := env.Tracker.BatchStatus(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		fmt.Printf("batch:    %s (%s)\n", report.BatchID, report.Name)
		fmt.Printf("status:   %s\n", report.Status)
		fmt.Printf("progress: %d/%d (%.1f%%)\n", report.ProcessedDomains, report.TotalDomains, report.ProgressPercent)
		if report.SimilarCompaniesFound != nil {
			fmt.Printf("similar companies found: %d\n", *report.SimilarCompaniesFound)
		}
		if report.ErrorMessage != "" {
			fmt.Printf("errors:   %s\n", report.ErrorMessage)
		}
		return nil
	},
}

func init() {
	queueClearCmd.Flags().BoolVar(&clearIncludeProcessing, "include-processing", false, "also remove items claimed by in-flight batches")
	queueCmd.AddCommand(queueStatusCmd, queueClearCmd)
	rootCmd.AddCommand(queueCmd, batchStatusCmd)
}
