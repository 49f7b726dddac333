package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	stats := &cobra.Command{
		Use:   "stats",
		Short: "Show registry and store occupancy",
		Run:   runStats,
	}
	rootCmd.AddCommand(stats)

	events := &cobra.Command{
		Use:   "events",
		Short: "List journaled coordination events, newest first",
		Run:   runEvents,
	}
	events.Flags().String("type", "", "Event type filter, e.g. lock-acquired")
	events.Flags().IntP("limit", "l", 20, "Max events to return")
	rootCmd.AddCommand(events)
}

func runStats(cmd *cobra.Command, args []string) {
	res, err := newClient().Stats(cmd.Context())
	if err != nil {
		exitErr("stats", err)
	}

	if jsonFlag {
		printJSON(res)
		return
	}
	fmt.Printf("services: %d registered, %d healthy, %d unhealthy\n",
		res.Services.Total, res.Services.Healthy, res.Services.Unhealthy)
	for serviceType, count := range res.Services.ByType {
		fmt.Printf("  %-10s %d\n", serviceType, count)
	}
	fmt.Printf("store: %d memory units, %d live locks\n", res.Store.Units, res.Store.Locks)
}

func runEvents(cmd *cobra.Command, args []string) {
	eventType, _ := cmd.Flags().GetString("type")
	limit, _ := cmd.Flags().GetInt("limit")

	records, err := newClient().Events(cmd.Context(), eventType, limit)
	if err != nil {
		exitErr("events", err)
	}

	if jsonFlag {
		printJSON(records)
		return
	}
	if len(records) == 0 {
		fmt.Println("no events recorded")
		return
	}
	for _, rec := range records {
		fmt.Printf("#%-6d %-22s %s\n", rec.ID, rec.EventType, rec.Timestamp)
	}
}
