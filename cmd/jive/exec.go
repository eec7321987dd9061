package main

import (
	"github.com/spf13/cobra"

	"github.com/jivedev/jive/internal/rpc"
)

var runArgs rpc.ExecuteWorkItemArgs

var runCmd = &cobra.Command{
	Use:   "run <id|title>",
	Short: "Start an execution session for a work item",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		runArgs.WorkItemID = args[0]
		return runTool(rpc.ToolExecuteWorkItem, runArgs)
	},
}

var statusArgs rpc.ExecutionStatusArgs

var statusCmd = &cobra.Command{
	Use:   "status <execution-id>",
	Short: "Inspect or advance an execution session",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		statusArgs.ExecutionID = args[0]
		return runTool(rpc.ToolGetExecutionStatus, statusArgs)
	},
}

var cancelArgs rpc.CancelExecutionArgs

var cancelCmd = &cobra.Command{
	Use:   "cancel <execution-id>",
	Short: "Cancel an execution session",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		cancelArgs.ExecutionID = args[0]
		return runTool(rpc.ToolCancelExecution, cancelArgs)
	},
}

func init() {
	rf := runCmd.Flags()
	rf.StringVar(&runArgs.Mode, "mode", "", "Execution mode: sequential, parallel, dependency_based")
	rf.StringVar(&runArgs.Ordering, "ordering", "", "Plan ordering: dependency_order, priority_high_first, complexity_simple_first")
	rf.IntVar(&runArgs.TimeoutMinutes, "timeout", 0, "Session timeout in minutes (default 60)")
	rf.BoolVar(&runArgs.Delegate, "delegate", false, "Run leaf tasks in the background executor")
	rf.BoolVar(&runArgs.FailFast, "fail-fast", false, "Stop at the first failure")

	sf := statusCmd.Flags()
	sf.StringVar(&statusArgs.Kind, "kind", "", "Update kind: progress, milestone, blocker, completion")
	sf.StringVar(&statusArgs.Message, "message", "", "Update message")
	sf.BoolVar(&statusArgs.TaskCompleted, "task-completed", false, "Mark the current task done and advance")

	cf := cancelCmd.Flags()
	cf.StringVar(&cancelArgs.Reason, "reason", "", "Cancellation reason")
	cf.BoolVar(&cancelArgs.Force, "force", false, "Do not wait for the background executor")
	cf.BoolVar(&cancelArgs.RollbackChanges, "rollback", false, "Revert writes journaled under this session")

	rootCmd.AddCommand(runCmd, statusCmd, cancelCmd)
}
