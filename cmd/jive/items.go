package main

import (
	"github.com/spf13/cobra"

	"github.com/jivedev/jive/internal/rpc"
)

var createArgs rpc.CreateWorkItemArgs

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a work item",
	Example: `  jive create --type initiative --title "Ship v2" --description "Umbrella for the v2 launch"
  jive create --type task --title "Add index" --description "Covering index for list queries" --parent story-12`,
	RunE: func(_ *cobra.Command, _ []string) error {
		return runTool(rpc.ToolCreateWorkItem, createArgs)
	},
}

var listArgs rpc.ListWorkItemsArgs

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List work items",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if cmd.Flags().Changed("parent") {
			parent, _ := cmd.Flags().GetString("parent")
			listArgs.ParentID = &parent
		}
		return runTool(rpc.ToolListWorkItems, listArgs)
	},
}

var (
	showTree     bool
	showChildren bool
)

var showCmd = &cobra.Command{
	Use:   "show <id|title>",
	Short: "Show a work item, optionally with its subtree",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		if showTree || showChildren {
			return runTool(rpc.ToolGetWorkItemChildren, rpc.ChildrenArgs{
				WorkItemID: args[0],
				Recursive:  showChildren,
				AsTree:     showTree,
			})
		}
		return runTool(rpc.ToolGetWorkItem, rpc.GetWorkItemArgs{WorkItemID: args[0]})
	},
}

var searchArgs rpc.SearchWorkItemsArgs

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search work items (vector, keyword or hybrid)",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		searchArgs.Query = args[0]
		return runTool(rpc.ToolSearchWorkItems, searchArgs)
	},
}

func init() {
	f := createCmd.Flags()
	f.StringVar(&createArgs.ID, "id", "", "Explicit ID (default: generated)")
	f.StringVar(&createArgs.Type, "type", "", "Item type: initiative, epic, feature, story, task")
	f.StringVar(&createArgs.Title, "title", "", "Title (max 200 chars)")
	f.StringVar(&createArgs.Description, "description", "", "Description")
	f.StringVar(&createArgs.Status, "status", "", "Initial status (default: backlog)")
	f.StringVar(&createArgs.Priority, "priority", "", "Priority: critical, high, medium, low")
	f.StringVar(&createArgs.Complexity, "complexity", "", "Complexity: simple, moderate, complex")
	f.StringVar(&createArgs.ParentID, "parent", "", "Parent work item ID")
	f.StringVar(&createArgs.Assignee, "assignee", "", "Assignee")
	f.StringSliceVar(&createArgs.Tags, "tag", nil, "Tags (repeatable)")
	f.StringSliceVar(&createArgs.Dependencies, "depends-on", nil, "Prerequisite item IDs (repeatable)")
	_ = createCmd.MarkFlagRequired("type")
	_ = createCmd.MarkFlagRequired("title")
	_ = createCmd.MarkFlagRequired("description")

	lf := listCmd.Flags()
	lf.StringSliceVar(&listArgs.Status, "status", nil, "Filter by status (repeatable)")
	lf.StringSliceVar(&listArgs.Type, "type", nil, "Filter by type (repeatable)")
	lf.StringSliceVar(&listArgs.Priority, "priority", nil, "Filter by priority (repeatable)")
	lf.String("parent", "", "Filter by parent ID (empty string for top-level items)")
	lf.StringSliceVar(&listArgs.Tags, "tag", nil, "Require tags (repeatable, ANDed)")
	lf.StringVar(&listArgs.SortBy, "sort", "", "Sort column (default: created_at)")
	lf.StringVar(&listArgs.SortOrder, "order", "", "Sort order: asc or desc")
	lf.IntVar(&listArgs.Limit, "limit", 0, "Max results")
	lf.IntVar(&listArgs.Offset, "offset", 0, "Results to skip")

	showCmd.Flags().BoolVar(&showTree, "tree", false, "Render the item's subtree")
	showCmd.Flags().BoolVar(&showChildren, "children", false, "List all descendants")

	sf := searchCmd.Flags()
	sf.StringVar(&searchArgs.Kind, "kind", "", "Search kind: vector, keyword, hybrid (default)")
	sf.IntVar(&searchArgs.Limit, "limit", 0, "Max results (default 10)")
	sf.StringSliceVar(&searchArgs.Status, "status", nil, "Filter by status (repeatable)")
	sf.StringSliceVar(&searchArgs.Type, "type", nil, "Filter by type (repeatable)")

	rootCmd.AddCommand(createCmd, listCmd, showCmd, searchCmd)
}
