package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/dreamware/tiaki/internal/api"
)

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Write and inspect versioned memory units",
}

// addRefFlags attaches the unit reference flags shared by every memory
// subcommand.
func addRefFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("memory", "m", "", "Memory unit ID (required)")
	cmd.Flags().StringP("persona", "p", "", "Persona scope (required)")
	cmd.Flags().String("project", "", "Project hash for project scope")
	cmd.MarkFlagRequired("memory")
	cmd.MarkFlagRequired("persona")
}

func refFromFlags(cmd *cobra.Command) (memoryID, persona, project string) {
	memoryID, _ = cmd.Flags().GetString("memory")
	persona, _ = cmd.Flags().GetString("persona")
	project, _ = cmd.Flags().GetString("project")
	return memoryID, persona, project
}

func init() {
	update := &cobra.Command{
		Use:   "update [content]",
		Short: "Write a new version under a held lock",
		Long:  "Write a new version under a held lock. Content can be a positional arg or piped via stdin.",
		Run:   runMemoryUpdate,
	}
	addRefFlags(update)
	update.Flags().StringP("lock", "l", "", "Lock ID returned by acquire (required)")
	update.Flags().String("as", "", "Author recorded on the version (required)")
	update.MarkFlagRequired("lock")
	update.MarkFlagRequired("as")
	memoryCmd.AddCommand(update)

	current := &cobra.Command{
		Use:   "current",
		Short: "Show the current version number",
		Run:   runMemoryCurrent,
	}
	addRefFlags(current)
	memoryCmd.AddCommand(current)

	history := &cobra.Command{
		Use:   "history",
		Short: "List versions, newest first",
		Run:   runMemoryHistory,
	}
	addRefFlags(history)
	history.Flags().IntP("limit", "l", 10, "Max versions to return, 0 for all")
	memoryCmd.AddCommand(history)

	version := &cobra.Command{
		Use:   "version",
		Short: "Show one version in full",
		Run:   runMemoryVersion,
	}
	addRefFlags(version)
	version.Flags().Int64P("version", "v", 0, "Version number (required)")
	version.MarkFlagRequired("version")
	memoryCmd.AddCommand(version)

	conflicts := &cobra.Command{
		Use:   "conflicts",
		Short: "List versions written past a base version",
		Run:   runMemoryConflicts,
	}
	addRefFlags(conflicts)
	conflicts.Flags().Int64P("base", "b", 0, "Base version already seen")
	memoryCmd.AddCommand(conflicts)

	rootCmd.AddCommand(memoryCmd)
}

func runMemoryUpdate(cmd *cobra.Command, args []string) {
	memoryID, persona, project := refFromFlags(cmd)
	lockID, _ := cmd.Flags().GetString("lock")
	author, _ := cmd.Flags().GetString("as")

	// Content: positional arg first, then check stdin.
	var content string
	if len(args) > 0 {
		content = strings.Join(args, " ")
	} else {
		stat, _ := os.Stdin.Stat()
		if (stat.Mode() & os.ModeCharDevice) == 0 {
			b, err := io.ReadAll(os.Stdin)
			if err != nil {
				exitErr("read stdin", err)
			}
			content = string(b)
		}
	}
	if strings.TrimSpace(content) == "" {
		exitErr("update", fmt.Errorf("content is required (positional arg or stdin)"))
	}

	res, err := newClient().UpdateMemory(cmd.Context(), api.UpdateMemoryRequest{
		MemoryID: memoryID,
		Persona:  persona,
		Project:  project,
		LockID:   lockID,
		Content:  content,
		Author:   author,
	})
	if err != nil {
		exitErr("update", err)
	}

	if jsonFlag {
		printJSON(res)
		return
	}
	fmt.Printf("version %d written\n", res.NewVersion)
	fmt.Printf("  checksum: %s\n", res.Checksum)
}

func runMemoryCurrent(cmd *cobra.Command, args []string) {
	memoryID, persona, project := refFromFlags(cmd)

	res, err := newClient().CurrentVersion(cmd.Context(), memoryID, persona, project)
	if err != nil {
		exitErr("current", err)
	}

	if jsonFlag {
		printJSON(res)
		return
	}
	if res.Version == 0 {
		fmt.Printf("%s has no versions yet\n", res.MemoryID)
		return
	}
	fmt.Printf("%s is at version %d\n", res.MemoryID, res.Version)
}

func runMemoryHistory(cmd *cobra.Command, args []string) {
	memoryID, persona, project := refFromFlags(cmd)
	limit, _ := cmd.Flags().GetInt("limit")

	res, err := newClient().History(cmd.Context(), memoryID, persona, project, limit)
	if err != nil {
		exitErr("history", err)
	}

	if jsonFlag {
		printJSON(res)
		return
	}
	if len(res.Versions) == 0 {
		fmt.Printf("%s has no versions yet\n", res.MemoryID)
		return
	}
	for _, v := range res.Versions {
		fmt.Printf("v%-4d %s  %-16s %s\n",
			v.Version, v.Timestamp.Format(time.RFC3339), v.Author, humanize.Time(v.Timestamp))
	}
}

func runMemoryVersion(cmd *cobra.Command, args []string) {
	memoryID, persona, project := refFromFlags(cmd)
	version, _ := cmd.Flags().GetInt64("version")

	v, err := newClient().VersionAt(cmd.Context(), memoryID, persona, project, version)
	if err != nil {
		exitErr("version", err)
	}

	if jsonFlag {
		printJSON(v)
		return
	}
	fmt.Printf("v%d by %s, %s (%s)\n", v.Version, v.Author, v.Timestamp.Format(time.RFC3339), humanize.Time(v.Timestamp))
	fmt.Printf("checksum %s\n\n", v.Checksum)
	fmt.Println(v.Content)
}

func runMemoryConflicts(cmd *cobra.Command, args []string) {
	memoryID, persona, project := refFromFlags(cmd)
	base, _ := cmd.Flags().GetInt64("base")

	res, err := newClient().Conflicts(cmd.Context(), memoryID, persona, project, base)
	if err != nil {
		exitErr("conflicts", err)
	}

	if jsonFlag {
		printJSON(res)
		return
	}
	if len(res.Conflicts) == 0 {
		fmt.Printf("no versions past v%d\n", res.BaseVersion)
		return
	}
	for _, c := range res.Conflicts {
		fmt.Printf("v%-4d %s  %s\n", c.Version, c.Timestamp.Format(time.RFC3339), c.Description)
	}
}
