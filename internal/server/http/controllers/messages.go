package controllers

import (
	"net/http"
	"time"

	"github.com/kilnmq/kiln/internal/broker"
	"github.com/kilnmq/kiln/internal/runtime"
)

// MessagesController carries the publish and fetch paths.
type MessagesController struct {
	rt *runtime.Runtime
}

func NewMessagesController(rt *runtime.Runtime) *MessagesController {
	return &MessagesController{rt: rt}
}

func (c *MessagesController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/publish", c.handlePublish)
	mux.HandleFunc("/v1/fetch", c.handleFetch)
}

func (c *MessagesController) handlePublish(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var req publishReq
	if !decodeBody(w, r, &req) {
		return
	}
	acks, err := broker.ParseAcks(req.Acks)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := c.rt.Broker().Publish(r.Context(), broker.PublishRequest{
		Topic:      req.Topic,
		Key:        req.Key,
		Value:      req.Value,
		Headers:    req.Headers,
		Partition:  req.Partition,
		ProducerID: req.ProducerID,
		Sequence:   req.Sequence,
		Acks:       acks,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	status := http.StatusOK
	if acks == broker.AcksNone {
		status = http.StatusAccepted
	}
	writeJSONStatus(w, status, publishResp{
		Partition: res.Partition,
		Offset:    res.Offset,
		Duplicate: res.Duplicate,
	})
}

// handleFetch reads one partition page, long-polling when maxWaitMs is set
// and the offset is already at the high watermark.
func (c *MessagesController) handleFetch(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var req fetchReq
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := c.rt.Broker().Fetch(r.Context(), broker.FetchRequest{
		Topic:     req.Topic,
		Partition: req.Partition,
		Offset:    req.Offset,
		MaxBytes:  req.MaxBytes,
		MaxWait:   time.Duration(req.MaxWaitMs) * time.Millisecond,
		Filter:    req.Filter,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	out := fetchResp{
		Events:         make([]fetchEvent, 0, len(res.Events)),
		NextOffset:     res.NextOffset,
		HighWatermark:  res.HighWatermark,
		LogStartOffset: res.LogStartOffset,
	}
	for _, e := range res.Events {
		out.Events = append(out.Events, fetchEvent{
			Partition:   e.Partition,
			Offset:      e.Offset,
			TimestampMs: e.TimestampMs,
			Key:         e.Key,
			Value:       e.Value,
			Headers:     e.Headers,
		})
	}
	writeJSON(w, out)
}
