package cli

import (
	"encoding/json"
	"fmt"

	"storagedesk/internal/apperr"
	"storagedesk/internal/billing"
	"storagedesk/internal/models"

	"github.com/spf13/cobra"
)

func AutopayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "autopay",
		Short: "Autopay batch operations",
	}
	cmd.AddCommand(autopayRunCmd(), autopayPreviewCmd())
	return cmd
}

func autopayRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Charge every lease due on a date (default today, UTC)",
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, _ := cmd.Flags().GetString("date")
			date := models.Today()
			if raw != "" {
				d, err := models.ParseDate(raw)
				if err != nil {
					return apperr.ValidationError.New("--date must be YYYY-MM-DD")
				}
				date = d
			}
			a, closeApp, err := openApp()
			if err != nil {
				return err
			}
			defer closeApp()

			summary, err := a.Runner.Run(cmd.Context(), date)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(summary); err != nil {
				return err
			}
			if n := summary.Failed(); n > 0 {
				return apperr.GatewayError.New("%d of %d charges failed", n, summary.Count)
			}
			return nil
		},
	}
	cmd.Flags().String("date", "", "run date YYYY-MM-DD")
	return cmd
}

func autopayPreviewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Show the prorated first charge and next due date for a lease start",
		RunE: func(cmd *cobra.Command, args []string) error {
			rawStart, _ := cmd.Flags().GetString("start")
			rent, _ := cmd.Flags().GetInt64("rent")
			start, err := models.ParseDate(rawStart)
			if err != nil {
				return apperr.ValidationError.New("--start must be YYYY-MM-DD")
			}
			if rent < 0 {
				return apperr.ValidationError.New("--rent must not be negative")
			}
			q := billing.Preview(start.Time, rent)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "amount_cents:       %d\n", q.AmountCents)
			fmt.Fprintf(out, "monthly_cents:      %d\n", q.MonthlyCents)
			fmt.Fprintf(out, "next_due_date:      %s\n", models.NewDate(q.NextDueDate))
			fmt.Fprintf(out, "billing_anchor_day: %d\n", q.BillingAnchorDay)
			return nil
		},
	}
	cmd.Flags().String("start", "", "lease start date YYYY-MM-DD")
	cmd.Flags().Int64("rent", 0, "monthly rent in cents")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("rent")
	return cmd
}
