package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"lifelog/internal/ledger"
)

var usageDays int

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show model token usage aggregated by model",
	RunE: func(cmd *cobra.Command, args []string) error {
		led, err := ledger.Open(cfg.Ledger.Path, logger)
		if err != nil {
			return err
		}
		defer led.Close()

		to := time.Now()
		from := to.AddDate(0, 0, -usageDays)
		totals, err := led.UsageByModel(cmd.Context(), from, to)
		if err != nil {
			return err
		}
		if len(totals) == 0 {
			fmt.Printf("no usage recorded in the last %d days\n", usageDays)
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "PROVIDER\tMODEL\tCALLS\tINPUT\tOUTPUT")
		for _, t := range totals {
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\n",
				t.ModelProvider, t.ModelName, t.Calls, t.InputTokens, t.OutputTokens)
		}
		return w.Flush()
	},
}

func init() {
	usageCmd.Flags().IntVar(&usageDays, "days", 30, "reporting window in days")
}
