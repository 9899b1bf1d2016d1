package group

import "sort"

// TopicPartition names one partition of one topic.
type TopicPartition struct {
	Topic     string `json:"topic"`
	Partition uint32 `json:"partition"`
}

// assign distributes partitions round-robin over members. Partitions are
// ordered by (topic, index) and members by ID; member IDs are time-ordered,
// so ID order is join order and any uneven remainder lands on the earliest
// joiners.
func assign(memberIDs []string, parts []TopicPartition) map[string][]TopicPartition {
	out := make(map[string][]TopicPartition, len(memberIDs))
	if len(memberIDs) == 0 {
		return out
	}
	ids := append([]string(nil), memberIDs...)
	sort.Strings(ids)
	for _, id := range ids {
		out[id] = nil
	}
	sorted := append([]TopicPartition(nil), parts...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Topic != sorted[j].Topic {
			return sorted[i].Topic < sorted[j].Topic
		}
		return sorted[i].Partition < sorted[j].Partition
	})
	for i, tp := range sorted {
		id := ids[i%len(ids)]
		out[id] = append(out[id], tp)
	}
	return out
}
