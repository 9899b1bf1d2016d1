// Package client contains Cobra CLI commands for Kiln.
package client

import (
	"net/url"

	"github.com/spf13/cobra"
)

// NewTopicCommand constructs the `topic` command group and subcommands.
func NewTopicCommand(baseURL BaseURLFunc) *cobra.Command {
	topicCmd := &cobra.Command{Use: "topic", Short: "Topic operations"}
	topicCmd.AddCommand(
		newTopicCreateCommand(baseURL),
		newTopicListCommand(baseURL),
		newTopicStatsCommand(baseURL),
		newTopicDeleteCommand(baseURL),
	)
	return topicCmd
}

func newTopicCreateCommand(baseURL BaseURLFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a topic",
		RunE: func(cmd *cobra.Command, _ []string) error {
			name, _ := cmd.Flags().GetString("name")
			partitions, _ := cmd.Flags().GetInt("partitions")
			ageMs, _ := cmd.Flags().GetInt64("retention-age-ms")
			maxBytes, _ := cmd.Flags().GetInt64("retention-max-bytes")
			body := map[string]any{"name": name, "partitions": partitions}
			if ageMs > 0 {
				body["retentionAgeMs"] = ageMs
			}
			if maxBytes > 0 {
				body["retentionMaxBytes"] = maxBytes
			}
			var meta map[string]any
			if err := postJSON(baseURL, "/v1/topics/create", body, &meta); err != nil {
				return err
			}
			return printJSON(meta)
		},
	}
	cmd.Flags().String("name", "", "Topic name")
	cmd.Flags().Int("partitions", 0, "Partition count (0 uses the server default)")
	cmd.Flags().Int64("retention-age-ms", 0, "Retention age override in milliseconds (0 inherits the broker default)")
	cmd.Flags().Int64("retention-max-bytes", 0, "Retention size override in bytes (0 inherits the broker default)")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newTopicListCommand(baseURL BaseURLFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List topics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var out map[string]any
			if err := getJSON(baseURL, "/v1/topics", &out); err != nil {
				return err
			}
			return printJSON(out)
		},
	}
}

func newTopicStatsCommand(baseURL BaseURLFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show per-partition offsets and sizes",
		RunE: func(cmd *cobra.Command, _ []string) error {
			name, _ := cmd.Flags().GetString("name")
			var out map[string]any
			if err := getJSON(baseURL, "/v1/topics/stats?topic="+url.QueryEscape(name), &out); err != nil {
				return err
			}
			return printJSON(out)
		},
	}
	cmd.Flags().String("name", "", "Topic name")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newTopicDeleteCommand(baseURL BaseURLFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete a topic and its data",
		RunE: func(cmd *cobra.Command, _ []string) error {
			name, _ := cmd.Flags().GetString("name")
			return postJSON(baseURL, "/v1/topics/delete", map[string]any{"name": name}, nil)
		},
	}
	cmd.Flags().String("name", "", "Topic name")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}
