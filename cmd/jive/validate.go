package main

import (
	"github.com/spf13/cobra"

	"github.com/jivedev/jive/internal/rpc"
)

var validateArgs rpc.ValidateDependenciesArgs

var validateCmd = &cobra.Command{
	Use:   "validate [id...]",
	Short: "Validate the dependency graph",
	Long: "Checks the dependency graph for cycles, missing references and\n" +
		"orphaned parents. With no arguments the whole store is checked.",
	RunE: func(_ *cobra.Command, args []string) error {
		validateArgs.WorkItemIDs = args
		return runTool(rpc.ToolValidateDependencies, validateArgs)
	},
}

func init() {
	f := validateCmd.Flags()
	f.BoolVar(&validateArgs.CheckCircular, "circular", false, "Check for cycles (default when no checks are selected)")
	f.BoolVar(&validateArgs.CheckMissing, "missing", false, "Check for missing references (default when no checks are selected)")
	f.BoolVar(&validateArgs.SuggestFixes, "suggest-fixes", false, "Suggest edge removals that break cycles")
	rootCmd.AddCommand(validateCmd)
}
