package client

import (
	"github.com/spf13/cobra"
)

// NewPublishCommand constructs the `publish` command.
func NewPublishCommand(baseURL BaseURLFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish an event to a topic",
		RunE: func(cmd *cobra.Command, _ []string) error {
			topic, _ := cmd.Flags().GetString("topic")
			key, _ := cmd.Flags().GetString("key")
			value, _ := cmd.Flags().GetString("value")
			producerID, _ := cmd.Flags().GetString("producer-id")
			sequence, _ := cmd.Flags().GetUint64("sequence")
			acks, _ := cmd.Flags().GetString("acks")

			body := map[string]any{
				"topic": topic,
				"value": []byte(value),
				"acks":  acks,
			}
			if key != "" {
				body["key"] = []byte(key)
			}
			if producerID != "" {
				body["producerId"] = producerID
				body["sequence"] = sequence
			}
			var out map[string]any
			if err := postJSON(baseURL, "/v1/publish", body, &out); err != nil {
				return err
			}
			return printJSON(out)
		},
	}
	cmd.Flags().String("topic", "", "Topic name")
	cmd.Flags().String("key", "", "Routing key (empty routes round-robin)")
	cmd.Flags().String("value", "", "Event payload")
	cmd.Flags().String("producer-id", "", "Producer session ID for idempotent publish")
	cmd.Flags().Uint64("sequence", 0, "Producer sequence (with --producer-id)")
	cmd.Flags().String("acks", "leader", "Acks: none|leader|all")
	_ = cmd.MarkFlagRequired("topic")
	return cmd
}

// NewFetchCommand constructs the `fetch` command.
func NewFetchCommand(baseURL BaseURLFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Fetch events from a partition",
		RunE: func(cmd *cobra.Command, _ []string) error {
			topic, _ := cmd.Flags().GetString("topic")
			part, _ := cmd.Flags().GetUint32("partition")
			offset, _ := cmd.Flags().GetInt64("offset")
			maxBytes, _ := cmd.Flags().GetInt("max-bytes")
			maxWaitMs, _ := cmd.Flags().GetInt64("max-wait-ms")
			filter, _ := cmd.Flags().GetString("filter")

			var out struct {
				Events []struct {
					Partition   uint32 `json:"partition"`
					Offset      int64  `json:"offset"`
					TimestampMs int64  `json:"timestampMs"`
					Key         []byte `json:"key"`
					Value       []byte `json:"value"`
				} `json:"events"`
				NextOffset     int64 `json:"nextOffset"`
				HighWatermark  int64 `json:"highWatermark"`
				LogStartOffset int64 `json:"logStartOffset"`
			}
			err := postJSON(baseURL, "/v1/fetch", map[string]any{
				"topic":     topic,
				"partition": part,
				"offset":    offset,
				"maxBytes":  maxBytes,
				"maxWaitMs": maxWaitMs,
				"filter":    filter,
			}, &out)
			if err != nil {
				return err
			}
			events := make([]map[string]any, 0, len(out.Events))
			for _, e := range out.Events {
				m := decodedPayload(e.Value)
				m["partition"] = e.Partition
				m["offset"] = e.Offset
				m["timestamp_ms"] = e.TimestampMs
				if len(e.Key) > 0 {
					m["key"] = string(e.Key)
				}
				events = append(events, m)
			}
			return printJSON(map[string]any{
				"events":         events,
				"nextOffset":     out.NextOffset,
				"highWatermark":  out.HighWatermark,
				"logStartOffset": out.LogStartOffset,
			})
		},
	}
	cmd.Flags().String("topic", "", "Topic name")
	cmd.Flags().Uint32("partition", 0, "Partition index")
	cmd.Flags().Int64("offset", 0, "Start offset")
	cmd.Flags().Int("max-bytes", 0, "Response payload budget (0 uses the server default)")
	cmd.Flags().Int64("max-wait-ms", 0, "Long-poll wait when at the high watermark")
	cmd.Flags().String("filter", "", "CEL filter expression")
	_ = cmd.MarkFlagRequired("topic")
	return cmd
}
