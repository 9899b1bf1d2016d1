package client

import (
	"github.com/spf13/cobra"
)

// NewRoot constructs a root Cobra command for the Kiln client.
// It registers the topic, publish/fetch, and group command groups.
func NewRoot(baseURL BaseURLFunc) *cobra.Command {
	root := &cobra.Command{
		Use:   "kiln",
		Short: "Kiln client commands",
	}
	root.AddCommand(NewTopicCommand(baseURL))
	root.AddCommand(NewPublishCommand(baseURL))
	root.AddCommand(NewFetchCommand(baseURL))
	root.AddCommand(NewGroupCommand(baseURL))
	return root
}
