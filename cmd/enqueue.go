package main

import (
	"bufio"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var enqueueFile string

var enqueueCmd = &cobra.Command{
	Use:   "enqueue [domain]...",
	Short: "Add domains to the enrichment queue",
	Long:  "Normalizes and enqueues domains for enrichment. Domains already queued or already enriched are skipped.",
	RunE: func(cmd *cobra.Command, args []string) error {
		domains := args
		if enqueueFile != "" {
			fromFile, err := readDomainFile(enqueueFile)
			if err != nil {
				return err
			}
			domains = append(domains, fromFile...)
		}
		if len(domains) == 0 {
			return eris.New("no domains given (pass arguments or --file)")
		}

		env, err := initEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Enqueuer.Enqueue(cmd.Context(), domains)
		if err != nil {
			return err
		}

		fmt.Printf("queued: %d\n", res.Queued)
		fmt.Printf("skipped (already queued): %d\n", res.SkippedAlreadyQueued)
		fmt.Printf("skipped (already enriched): %d\n", res.SkippedAlreadyEnriched)
		return nil
	},
}

// readDomainFile reads one domain per line, skipping blanks and #
// comments.
func readDomainFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "open domain file %s", path)
	}
	defer f.Close()

	var domains []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || line[0] == '#' {
			continue
		}
		domains = append(domains, line)
	}
	return domains, eris.Wrap(scanner.Err(), "scan domain file")
}

func init() {
	enqueueCmd.Flags().StringVar(&enqueueFile, "file", "", "file with one domain per line")
	rootCmd.AddCommand(enqueueCmd)
}
