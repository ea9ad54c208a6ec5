package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"policy-billing-engine/internal/adapters/analytics"
	"policy-billing-engine/internal/config"
	"policy-billing-engine/internal/core/domain"
)

func main() {
	var (
		chCfg config.ClickHouseConfig
		since time.Duration
		limit int
	)

	rootCmd := &cobra.Command{
		Use:          "ch-query-tool",
		Short:        "Query fraud alerts stored in ClickHouse",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&chCfg.Addr, "addr", "localhost:9000", "ClickHouse native address")
	rootCmd.PersistentFlags().StringVar(&chCfg.Database, "database", "default", "ClickHouse database")
	rootCmd.PersistentFlags().StringVar(&chCfg.User, "user", "default", "ClickHouse user")
	rootCmd.PersistentFlags().StringVar(&chCfg.Password, "password", "", "ClickHouse password")
	rootCmd.PersistentFlags().DurationVar(&since, "since", 24*time.Hour, "Look back this far")
	rootCmd.PersistentFlags().IntVar(&limit, "limit", 20, "Maximum rows")

	var severity, customer string
	alertsCmd := &cobra.Command{
		Use:   "alerts",
		Short: "List recent fraud alerts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := analytics.Open(cmd.Context(), chCfg)
			if err != nil {
				return err
			}
			defer store.Close()

			alerts, err := store.RecentAlerts(cmd.Context(), analytics.AlertQuery{
				Severity:   domain.Severity(severity),
				CustomerID: customer,
				Since:      time.Now().Add(-since),
				Limit:      limit,
			})
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "CREATED AT\tCUSTOMER\tTRANSACTION\tSEVERITY\tRULE")
			for _, a := range alerts {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", a.CreatedAt.Format(time.RFC3339), a.CustomerID, a.TransactionRef, a.Severity, a.RuleTriggered)
			}
			return w.Flush()
		},
	}
	alertsCmd.Flags().StringVar(&severity, "severity", "", "Only this severity (low, medium, high)")
	alertsCmd.Flags().StringVar(&customer, "customer", "", "Only this customer")

	topCustomersCmd := &cobra.Command{
		Use:   "top-customers",
		Short: "Customers ranked by alert count",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := analytics.Open(cmd.Context(), chCfg)
			if err != nil {
				return err
			}
			defer store.Close()

			rows, err := store.TopCustomers(cmd.Context(), time.Now().Add(-since), limit)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "CUSTOMER\tALERTS\tHIGH\tLAST ALERT")
			for _, r := range rows {
				fmt.Fprintf(w, "%s\t%d\t%d\t%s\n", r.CustomerID, r.Alerts, r.High, r.LastAlert.Format(time.RFC3339))
			}
			return w.Flush()
		},
	}

	rootCmd.AddCommand(alertsCmd, topCustomersCmd)
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
