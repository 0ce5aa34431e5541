package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wadjakorntonsri/go-scanlink/pkg/core/domain"
)

// DashboardCmd prints the aggregated scan dashboard for an owner.
var DashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Show scan analytics for an owner.",
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, _ := cmd.Flags().GetString("owner")
		asJSON, _ := cmd.Flags().GetBool("json")

		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer closeApp(a)

		snap := a.Dashboard.Refresh(cmd.Context(), owner)

		if asJSON {
			encoder := json.NewEncoder(cmd.OutOrStdout())
			encoder.SetIndent("", "  ")
			return encoder.Encode(snap)
		}
		printSnapshot(cmd.OutOrStdout(), snap)
		return nil
	},
}

func init() {
	DashboardCmd.Flags().String("owner", "", "owner account (email)")
	DashboardCmd.Flags().Bool("json", false, "print the raw snapshot")
	_ = DashboardCmd.MarkFlagRequired("owner")

	RootCmd.AddCommand(DashboardCmd)
}

func printSnapshot(w io.Writer, snap domain.AggregatedSnapshot) {
	if snap.Notice != "" {
		fmt.Fprintf(w, "! %s\n", snap.Notice)
	}
	if snap.UsingDemoData {
		fmt.Fprintln(w, "(sample data)")
	}

	s := snap.Summary
	fmt.Fprintf(w, "Total scans:  %d\n", s.TotalScans)
	fmt.Fprintf(w, "Links:        %d active of %d\n", s.ActiveLinks, s.TotalLinks)
	fmt.Fprintf(w, "Avg per day:  %d\n", s.AvgPerDay)

	fmt.Fprintln(w, "\nTop links:")
	for _, l := range snap.Links {
		status := "active"
		if !l.Active {
			status = "inactive"
		}
		fmt.Fprintf(w, "  %-24s %-10s %6d  %s\n", l.Name, l.ShortCode, l.ScanCount, status)
	}

	printCategory(w, "Devices", snap.Devices)
	printCategory(w, "Browsers", snap.Browsers)
	printCategory(w, "Operating systems", snap.OSes)
	printCategory(w, "Locations", snap.Locations)

	days := make([]string, 0, len(snap.Series))
	for _, d := range snap.Series {
		days = append(days, fmt.Sprint(d.Count))
	}
	fmt.Fprintf(w, "\nLast %d days: %s\n", len(snap.Series), strings.Join(days, " "))
}

func printCategory(w io.Writer, title string, counts []domain.CategoryCount) {
	if len(counts) == 0 {
		return
	}
	fmt.Fprintf(w, "\n%s:\n", title)
	for _, c := range counts {
		fmt.Fprintf(w, "  %-24s %6d\n", c.Label, c.Count)
	}
}
