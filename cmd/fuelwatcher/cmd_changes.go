package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/andygrunwald/fuel-price-watcher/internal/database"
)

func changesCmd() *cobra.Command {
	var (
		limit   int
		station int
	)

	cmd := &cobra.Command{
		Use:   "changes",
		Short: "List recent price changes from the change outbox",
		Long:  "Lists the most recent price changes stored in the database outbox by the run command, newest first.",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := setupLogger()

			if cfg.DatabaseDSN == "" {
				return fmt.Errorf("--database-dsn is required")
			}
			loc, err := cfg.Location()
			if err != nil {
				return err
			}

			db, err := database.New(cfg.DatabaseDSN, logger)
			if err != nil {
				return fmt.Errorf("connecting to database: %w", err)
			}
			defer db.Close()

			changes, err := db.ListRecentChanges(context.Background(), station, limit)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "NOTIFIED\tCODE\tSTATION\tFUEL\tOLD\tNEW\tVARIANCE")
			for _, c := range changes {
				fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\t%s\t%s\n",
					c.NotifiedAt.In(loc).Format("2006-01-02 15:04"),
					c.StationCode,
					c.StationName,
					c.FuelType,
					c.PriceOld.String(),
					c.PriceNew.String(),
					c.Variance.String(),
				)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of changes to list")
	cmd.Flags().IntVar(&station, "station", 0, "Only list changes of this station code")

	return cmd
}
