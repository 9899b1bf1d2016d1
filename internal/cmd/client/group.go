package client

import (
	"net/url"

	"github.com/spf13/cobra"
)

// NewGroupCommand constructs the `group` command group and subcommands.
func NewGroupCommand(baseURL BaseURLFunc) *cobra.Command {
	groupCmd := &cobra.Command{Use: "group", Short: "Consumer group operations"}
	groupCmd.AddCommand(
		newGroupListCommand(baseURL),
		newGroupDescribeCommand(baseURL),
		newGroupOffsetsCommand(baseURL),
		newGroupCommitCommand(baseURL),
		newGroupDeleteCommand(baseURL),
	)
	return groupCmd
}

func newGroupListCommand(baseURL BaseURLFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List live groups",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var out map[string]any
			if err := getJSON(baseURL, "/v1/groups", &out); err != nil {
				return err
			}
			return printJSON(out)
		},
	}
}

func newGroupDescribeCommand(baseURL BaseURLFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "describe",
		Short: "Describe a group's members and assignments",
		RunE: func(cmd *cobra.Command, _ []string) error {
			name, _ := cmd.Flags().GetString("name")
			var out map[string]any
			if err := getJSON(baseURL, "/v1/groups/describe?group="+url.QueryEscape(name), &out); err != nil {
				return err
			}
			return printJSON(out)
		},
	}
	cmd.Flags().String("name", "", "Group name")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newGroupOffsetsCommand(baseURL BaseURLFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "offsets",
		Short: "Show a group's committed offsets",
		RunE: func(cmd *cobra.Command, _ []string) error {
			name, _ := cmd.Flags().GetString("name")
			var out map[string]any
			if err := getJSON(baseURL, "/v1/groups/offsets?group="+url.QueryEscape(name), &out); err != nil {
				return err
			}
			return printJSON(out)
		},
	}
	cmd.Flags().String("name", "", "Group name")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

// newGroupCommitCommand lets operators rewind or advance a group's cursor;
// commits are last-write-wins.
func newGroupCommitCommand(baseURL BaseURLFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "commit",
		Short: "Commit an offset for a group",
		RunE: func(cmd *cobra.Command, _ []string) error {
			name, _ := cmd.Flags().GetString("name")
			topic, _ := cmd.Flags().GetString("topic")
			part, _ := cmd.Flags().GetUint32("partition")
			offset, _ := cmd.Flags().GetInt64("offset")
			return postJSON(baseURL, "/v1/groups/commit", map[string]any{
				"group":     name,
				"topic":     topic,
				"partition": part,
				"offset":    offset,
			}, nil)
		},
	}
	cmd.Flags().String("name", "", "Group name")
	cmd.Flags().String("topic", "", "Topic name")
	cmd.Flags().Uint32("partition", 0, "Partition index")
	cmd.Flags().Int64("offset", 0, "Offset to commit")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("topic")
	return cmd
}

func newGroupDeleteCommand(baseURL BaseURLFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete a group and its committed offsets",
		RunE: func(cmd *cobra.Command, _ []string) error {
			name, _ := cmd.Flags().GetString("name")
			return postJSON(baseURL, "/v1/groups/delete", map[string]any{"group": name}, nil)
		},
	}
	cmd.Flags().String("name", "", "Group name")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}
