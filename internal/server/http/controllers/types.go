package controllers

import "github.com/kilnmq/kiln/internal/group"

// Request and response bodies for the JSON API. []byte fields ride as
// base64, matching encoding/json's default.

type topicCreateReq struct {
	Name       string `json:"name"`
	Partitions int    `json:"partitions"`
	// Optional per-topic retention overrides; zero inherits broker defaults.
	RetentionAgeMs    int64 `json:"retentionAgeMs,omitempty"`
	RetentionMaxBytes int64 `json:"retentionMaxBytes,omitempty"`
}

type topicDeleteReq struct {
	Name string `json:"name"`
}

type publishReq struct {
	Topic      string            `json:"topic"`
	Key        []byte            `json:"key,omitempty"`
	Value      []byte            `json:"value"`
	Headers    map[string][]byte `json:"headers,omitempty"`
	Partition  *uint32           `json:"partition,omitempty"`
	ProducerID string            `json:"producerId,omitempty"`
	Sequence   uint64            `json:"sequence,omitempty"`
	Acks       string            `json:"acks,omitempty"`
}

type publishResp struct {
	Partition uint32 `json:"partition"`
	Offset    int64  `json:"offset"`
	Duplicate bool   `json:"duplicate,omitempty"`
}

type fetchReq struct {
	Topic     string `json:"topic"`
	Partition uint32 `json:"partition"`
	Offset    int64  `json:"offset"`
	MaxBytes  int    `json:"maxBytes,omitempty"`
	MaxWaitMs int64  `json:"maxWaitMs,omitempty"`
	Filter    string `json:"filter,omitempty"`
}

type fetchEvent struct {
	Partition   uint32            `json:"partition"`
	Offset      int64             `json:"offset"`
	TimestampMs int64             `json:"timestampMs"`
	Key         []byte            `json:"key,omitempty"`
	Value       []byte            `json:"value"`
	Headers     map[string][]byte `json:"headers,omitempty"`
}

type fetchResp struct {
	Events         []fetchEvent `json:"events"`
	NextOffset     int64        `json:"nextOffset"`
	HighWatermark  int64        `json:"highWatermark"`
	LogStartOffset int64        `json:"logStartOffset"`
}

type joinReq struct {
	Group    string   `json:"group"`
	MemberID string   `json:"memberId,omitempty"`
	Topics   []string `json:"topics"`
}

type joinResp struct {
	MemberID            string      `json:"memberId"`
	Generation          int64       `json:"generation"`
	State               group.State `json:"state"`
	HeartbeatIntervalMs int64       `json:"heartbeatIntervalMs"`
	SessionTimeoutMs    int64       `json:"sessionTimeoutMs"`
}

type syncReq struct {
	Group      string `json:"group"`
	MemberID   string `json:"memberId"`
	Generation int64  `json:"generation"`
}

type syncResp struct {
	Generation int64                  `json:"generation"`
	State      group.State            `json:"state"`
	Assigned   []group.TopicPartition `json:"assigned"`
}

type heartbeatReq struct {
	Group      string `json:"group"`
	MemberID   string `json:"memberId"`
	Generation int64  `json:"generation"`
}

type leaveReq struct {
	Group    string `json:"group"`
	MemberID string `json:"memberId"`
}

type commitReq struct {
	Group     string `json:"group"`
	MemberID  string `json:"memberId,omitempty"`
	Topic     string `json:"topic"`
	Partition uint32 `json:"partition"`
	Offset    int64  `json:"offset"`
	// Generation, when present, is validated against the group's current
	// generation.
	Generation *int64 `json:"generation,omitempty"`
}

type groupDeleteReq struct {
	Group string `json:"group"`
}
