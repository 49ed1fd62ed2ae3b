package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/eventloom-io/eventloom/internal/dlq"
	"github.com/eventloom-io/eventloom/internal/messaging"
)

var dlqCmd = &cobra.Command{
	Use:   "dlq",
	Short: "Dead-letter queue management",
	Long:  "Inspect, reinject, and purge dead-lettered event batches",
}

var dlqListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List dead-lettered messages",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		queue, cleanup, err := openDLQ()
		if err != nil {
			return err
		}
		defer cleanup()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		records, err := queue.List(ctx, limit)
		if err != nil {
			return fmt.Errorf("list dead letters: %w", err)
		}

		outputFormat, _ := cmd.Flags().GetString("output")
		if outputFormat == "json" {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(records)
		}

		if len(records) == 0 {
			fmt.Println("Dead-letter queue is empty")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TIME\tREASON\tATTEMPTS\tORIGIN\tLAST ERROR\tPAYLOAD")
		for _, rec := range records {
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\n",
				rec.Time.Format("2006-01-02 15:04:05"),
				rec.Envelope.DLQReason,
				rec.Envelope.AttemptCount,
				rec.Envelope.OriginSubject,
				truncate(rec.Envelope.LastError, 48),
				truncate(string(rec.Payload), 48),
			)
		}
		w.Flush()
		fmt.Printf("\n%d message(s)\n", len(records))
		return nil
	},
}

var dlqReinjectCmd = &cobra.Command{
	Use:   "reinject",
	Short: "Republish dead letters to their origin subject",
	Long:  "Republish dead-lettered messages with a fresh retry state so workers pick them up again",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		purgeAfter, _ := cmd.Flags().GetBool("purge")

		queue, cleanup, err := openDLQ()
		if err != nil {
			return err
		}
		defer cleanup()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		n, err := queue.Reinject(ctx, limit)
		if err != nil {
			return fmt.Errorf("reinject: %w", err)
		}
		fmt.Printf("Reinjected %d message(s)\n", n)

		if purgeAfter && n > 0 {
			if err := queue.Purge(ctx); err != nil {
				return fmt.Errorf("purge after reinject: %w", err)
			}
			fmt.Println("Dead-letter queue purged")
		}
		return nil
	},
}

var dlqPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete all dead-lettered messages",
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")
		if !force {
			fmt.Print("This permanently deletes all dead letters. Continue? [y/N]: ")
			var answer string
			fmt.Scanln(&answer)
			if answer != "y" && answer != "Y" {
				fmt.Println("Aborted")
				return nil
			}
		}

		queue, cleanup, err := openDLQ()
		if err != nil {
			return err
		}
		defer cleanup()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if err := queue.Purge(ctx); err != nil {
			return fmt.Errorf("purge: %w", err)
		}
		fmt.Println("Dead-letter queue purged")
		return nil
	},
}

var dlqStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show dead-letter queue statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		queue, cleanup, err := openDLQ()
		if err != nil {
			return err
		}
		defer cleanup()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		stats, err := queue.Stats(ctx)
		if err != nil {
			return fmt.Errorf("stats: %w", err)
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	},
}

func openDLQ() (*dlq.Queue, func(), error) {
	nc, err := messaging.Connect(messaging.Config{
		URL:           cfg.NATS.URL,
		Name:          cfg.NATS.Name + "-loomctl",
		MaxReconnects: 3,
		ReconnectWait: cfg.NATS.ReconnectWait,
		Timeout:       cfg.NATS.Timeout,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return dlq.New(nc), nc.Close, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

func init() {
	dlqListCmd.Flags().Int("limit", 100, "maximum messages to list")
	dlqReinjectCmd.Flags().Int("limit", 100, "maximum messages to reinject")
	dlqReinjectCmd.Flags().Bool("purge", false, "purge the queue after reinjecting")
	dlqPurgeCmd.Flags().Bool("force", false, "skip confirmation prompt")

	dlqCmd.AddCommand(dlqListCmd)
	dlqCmd.AddCommand(dlqReinjectCmd)
	dlqCmd.AddCommand(dlqPurgeCmd)
	dlqCmd.AddCommand(dlqStatsCmd)
	rootCmd.AddCommand(dlqCmd)
}
