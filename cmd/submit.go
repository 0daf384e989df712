package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sells-group/enrichment-api/internal/model"
)

var (
	submitBatchSize  int
	submitWeight     float64
	submitCountry    string
	submitWebhookURL string
	submitWait       bool
)

var submitCmd = &cobra.Command{
	Use:   "submit [domain]...",
	Short: "Submit a batch for enrichment",
	Long:  "With domain arguments, creates a batch directly from them. Without arguments, claims pending queue items into a batch.",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		params := model.BatchParams{
			SimilarityWeight: submitWeight,
			CountryCode:      submitCountry,
			WebhookURL:       submitWebhookURL,
		}

		if len(args) > 0 {
			s, err := env.Coordinator.SubmitDirect(cmd.Context(), args, submitBatchSize, params)
			if err != nil {
				return err
			}
			fmt.Printf("batch %s: %d domains processing, %d queued pending, ~%ds\n",
				s.Batch.ID, s.DomainsToProcess, s.QueuedPending, s.EstimatedSeconds)
		} else {
			s, err := env.Coordinator.SubmitFromQueue(cmd.Context(), submitBatchSize, params)
			if err != nil {
				return err
			}
			if s.Batch == nil {
				fmt.Println("queue is empty, nothing to process")
				return nil
			}
			fmt.Printf("batch %s: %d domains processing, ~%ds\n",
				s.Batch.ID, s.DomainsToProcess, s.EstimatedSeconds)
		}

		if submitWait {
			// env.Close drains the dispatcher, so waiting is just
			// shutting down before returning.
			env.Dispatcher.Shutdown()
		}
		return nil
	},
}

func init() {
	submitCmd.Flags().IntVar(&submitBatchSize, "batch-size", 0, "max domains per batch (default from config)")
	submitCmd.Flags().Float64Var(&submitWeight, "similarity-weight", 0, "provider similarity weight")
	submitCmd.Flags().StringVar(&submitCountry, "country", "", "provider country code filter")
	submitCmd.Flags().StringVar(&submitWebhookURL, "webhook", "", "completion webhook URL")
	submitCmd.Flags().BoolVar(&submitWait, "wait", true, "wait for the batch to finish before exiting")
	rootCmd.AddCommand(submitCmd)
}
