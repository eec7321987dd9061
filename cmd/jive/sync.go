package main

import (
	"github.com/spf13/cobra"

	"github.com/jivedev/jive/internal/rpc"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Synchronize work-item files with the store",
}

var (
	syncStrategy   string
	syncValidate   bool
	syncSessionTag string
)

var syncFromFileCmd = &cobra.Command{
	Use:   "from-file <path>",
	Short: "Import a work-item file into the store",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		return runTool(rpc.ToolSyncFileToDatabase, rpc.SyncFileArgs{
			FilePath:     args[0],
			ValidateOnly: syncValidate,
			Strategy:     syncStrategy,
			SessionTag:   syncSessionTag,
		})
	},
}

var (
	syncOutPath string
	syncFormat  string
)

var syncToFileCmd = &cobra.Command{
	Use:   "to-file <id|title>",
	Short: "Export a work item to a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		return runTool(rpc.ToolSyncDatabaseToFile, rpc.SyncItemArgs{
			WorkItemID: args[0],
			FilePath:   syncOutPath,
			Format:     syncFormat,
		})
	},
}

var syncStatusAll bool

var syncStatusCmd = &cobra.Command{
	Use:   "status [path-or-id]",
	Short: "Show file/store reconciliation state",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		a := rpc.SyncStatusArgs{CheckAll: syncStatusAll}
		if len(args) == 1 {
			a.Identifier = args[0]
		}
		return runTool(rpc.ToolGetSyncStatus, a)
	},
}

func init() {
	syncFromFileCmd.Flags().StringVar(&syncStrategy, "strategy", "", "Conflict strategy: file_wins, database_wins, auto_merge, manual_resolution")
	syncFromFileCmd.Flags().BoolVar(&syncValidate, "validate-only", false, "Validate without writing")
	syncFromFileCmd.Flags().StringVar(&syncSessionTag, "session", "", "Journal writes under this session tag for rollback")

	syncToFileCmd.Flags().StringVar(&syncOutPath, "out", "", "Output path (default: <tasks_root>/<type>/<id>_<slug>.<ext>)")
	syncToFileCmd.Flags().StringVar(&syncFormat, "format", "", "File format: json or yaml")

	syncStatusCmd.Flags().BoolVar(&syncStatusAll, "all", false, "Show every sync record")

	syncCmd.AddCommand(syncFromFileCmd, syncToFileCmd, syncStatusCmd)
	rootCmd.AddCommand(syncCmd)
}
