package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"lifelog/internal/ledger"
)

var (
	threadsLimit       int
	threadsShowDeleted bool
)

var threadsCmd = &cobra.Command{
	Use:   "threads",
	Short: "Manage conversation threads",
}

var threadsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent threads",
	RunE: func(cmd *cobra.Command, args []string) error {
		led, err := ledger.Open(cfg.Ledger.Path, logger)
		if err != nil {
			return err
		}
		defer led.Close()

		entries, err := led.List(cmd.Context(), threadsLimit, threadsShowDeleted)
		if err != nil {
			return err
		}
		printThreads(entries)
		return nil
	},
}

var threadsSearchCmd = &cobra.Command{
	Use:   "search [text]",
	Short: "Search thread titles",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		led, err := ledger.Open(cfg.Ledger.Path, logger)
		if err != nil {
			return err
		}
		defer led.Close()

		entries, err := led.Search(cmd.Context(), args[0], threadsLimit)
		if err != nil {
			return err
		}
		printThreads(entries)
		return nil
	},
}

var threadsDeleteCmd = &cobra.Command{
	Use:   "delete [thread-id]",
	Short: "Soft-delete a thread (its usage history is kept)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		led, err := ledger.Open(cfg.Ledger.Path, logger)
		if err != nil {
			return err
		}
		defer led.Close()

		if err := led.SoftDelete(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Println("deleted", args[0])
		return nil
	},
}

var threadsRestoreCmd = &cobra.Command{
	Use:   "restore [thread-id]",
	Short: "Restore a soft-deleted thread",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		led, err := ledger.Open(cfg.Ledger.Path, logger)
		if err != nil {
			return err
		}
		defer led.Close()

		if err := led.Restore(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Println("restored", args[0])
		return nil
	},
}

func init() {
	threadsCmd.PersistentFlags().IntVar(&threadsLimit, "limit", 20, "maximum threads to show")
	threadsListCmd.Flags().BoolVar(&threadsShowDeleted, "all", false, "include soft-deleted threads")

	threadsCmd.AddCommand(threadsListCmd)
	threadsCmd.AddCommand(threadsSearchCmd)
	threadsCmd.AddCommand(threadsDeleteCmd)
	threadsCmd.AddCommand(threadsRestoreCmd)
}

func printThreads(entries []ledger.Entry) {
	if len(entries) == 0 {
		fmt.Println("no threads")
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "THREAD\tTITLE\tMSGS\tUPDATED\tSTATE")
	for _, e := range entries {
		state := ""
		if e.IsDeleted {
			state = "deleted"
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
			e.ThreadID, e.Title, e.MessageCount,
			e.LastUpdated.Format("2006-01-02 15:04"), state)
	}
	w.Flush()
}
