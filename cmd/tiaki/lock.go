package main

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/dreamware/tiaki/internal/api"
)

var lockCmd = &cobra.Command{
	Use:   "lock",
	Short: "Acquire and release memory unit locks",
}

func init() {
	acquire := &cobra.Command{
		Use:   "acquire",
		Short: "Request an exclusive write lock on a memory unit",
		Run:   runLockAcquire,
	}
	acquire.Flags().StringP("memory", "m", "", "Memory unit ID (required)")
	acquire.Flags().StringP("persona", "p", "", "Persona scope (required)")
	acquire.Flags().String("project", "", "Project hash for project scope")
	acquire.Flags().String("as", "", "Caller identity recorded on the lock (required)")
	acquire.Flags().Int64("expect", 0, "Fail unless the current version matches")
	acquire.MarkFlagRequired("memory")
	acquire.MarkFlagRequired("persona")
	acquire.MarkFlagRequired("as")
	lockCmd.AddCommand(acquire)

	release := &cobra.Command{
		Use:   "release",
		Short: "Release a held lock",
		Run:   runLockRelease,
	}
	release.Flags().StringP("lock", "l", "", "Lock ID returned by acquire (required)")
	release.MarkFlagRequired("lock")
	lockCmd.AddCommand(release)

	rootCmd.AddCommand(lockCmd)
}

func runLockAcquire(cmd *cobra.Command, args []string) {
	memoryID, _ := cmd.Flags().GetString("memory")
	persona, _ := cmd.Flags().GetString("persona")
	project, _ := cmd.Flags().GetString("project")
	lockedBy, _ := cmd.Flags().GetString("as")

	req := api.AcquireLockRequest{
		MemoryID: memoryID,
		Persona:  persona,
		Project:  project,
		LockedBy: lockedBy,
	}
	if cmd.Flags().Changed("expect") {
		expected, _ := cmd.Flags().GetInt64("expect")
		req.ExpectedVersion = &expected
	}

	res, err := newClient().AcquireLock(cmd.Context(), req)
	if err != nil {
		exitErr("acquire", err)
	}

	if jsonFlag {
		printJSON(res)
		return
	}
	fmt.Printf("lock %s granted\n", res.LockID)
	fmt.Printf("  version: %d\n", res.CurrentVersion)
	fmt.Printf("  expires: %s (%s)\n", res.ExpiresAt.Format(time.RFC3339), humanize.Time(res.ExpiresAt))
}

func runLockRelease(cmd *cobra.Command, args []string) {
	lockID, _ := cmd.Flags().GetString("lock")

	released, err := newClient().ReleaseLock(cmd.Context(), lockID)
	if err != nil {
		exitErr("release", err)
	}

	if jsonFlag {
		printJSON(api.ReleaseLockResponse{Released: released})
		return
	}
	if released {
		fmt.Println("released")
	} else {
		fmt.Println("no live lock with that ID")
	}
}
