package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/andygrunwald/fuel-price-watcher/internal/models"
	"github.com/andygrunwald/fuel-price-watcher/internal/notify"
)

func pollCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "poll",
		Short: "Run a one-time poll",
		Long:  "Fetches the full FuelCheck snapshot once and prints the reconciled prices of the whitelisted stations. Useful for testing credentials and whitelists.",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := setupLogger()

			if err := cfg.Validate(); err != nil {
				return err
			}
			loc, err := cfg.Location()
			if err != nil {
				return err
			}

			w, err := newWatcher(logger, notify.Nop{})
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(context.Background(), 2*cfg.FuelCheck.RequestTimeout)
			defer cancel()

			res, err := w.Poll(ctx, models.SnapshotFull)
			if err != nil {
				return err
			}

			logger.Info().
				Int("stations", res.StationsSeen).
				Int("prices", res.PricesSeen).
				Int("applied", res.PricesApplied).
				Int("skipped", res.PricesSkipped).
				Msg("poll completed")

			stations := sortedStations(w.CurrentState())
			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(stations)
			}
			return printStations(os.Stdout, stations, loc)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the stations as JSON")

	return cmd
}

func sortedStations(state map[int]models.Station) []models.Station {
	stations := make([]models.Station, 0, len(state))
	for _, st := range state {
		stations = append(stations, st)
	}
	sort.Slice(stations, func(i, j int) bool { return stations[i].Code < stations[j].Code })
	return stations
}

func printStations(out io.Writer, stations []models.Station, loc *time.Location) error {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CODE\tSTATION\tFUEL\tPRICE\tUPDATED")
	for _, st := range stations {
		fuelTypes := make([]string, 0, len(st.FuelEntries))
		for ft := range st.FuelEntries {
			fuelTypes = append(fuelTypes, ft)
		}
		sort.Strings(fuelTypes)

		if len(fuelTypes) == 0 {
			fmt.Fprintf(tw, "%d\t%s\t-\t-\t-\n", st.Code, st.Metadata.Name)
			continue
		}
		for _, ft := range fuelTypes {
			e := st.FuelEntries[ft]
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n",
				st.Code,
				st.Metadata.Name,
				ft,
				e.PriceNew.String(),
				e.LastUpdated.In(loc).Format("2006-01-02 15:04"),
			)
		}
	}
	return tw.Flush()
}
