package controllers

import (
	"net/http"

	"github.com/kilnmq/kiln/internal/runtime"
	"github.com/kilnmq/kiln/internal/topic"
)

// TopicsController manages topic lifecycle and stats.
type TopicsController struct {
	rt *runtime.Runtime
}

func NewTopicsController(rt *runtime.Runtime) *TopicsController {
	return &TopicsController{rt: rt}
}

func (c *TopicsController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/topics", c.handleList)
	mux.HandleFunc("/v1/topics/create", c.handleCreate)
	mux.HandleFunc("/v1/topics/delete", c.handleDelete)
	mux.HandleFunc("/v1/topics/stats", c.handleStats)
}

// handleCreate creates a topic. Partition count defaults from config when
// omitted.
func (c *TopicsController) handleCreate(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var req topicCreateReq
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Partitions <= 0 {
		req.Partitions = c.rt.Config().DefaultPartitions
	}
	retention := topic.Retention{AgeMs: req.RetentionAgeMs, MaxBytes: req.RetentionMaxBytes}
	meta, err := c.rt.Registry().Create(req.Name, req.Partitions, retention)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, meta)
}

func (c *TopicsController) handleList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{"topics": c.rt.Registry().List()})
}

func (c *TopicsController) handleDelete(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var req topicDeleteReq
	if !decodeBody(w, r, &req) {
		return
	}
	if err := c.rt.Registry().Delete(req.Name); err != nil {
		writeDomainError(w, err)
		return
	}
	writeNoContent(w)
}

// handleStats reports per-partition offsets and sizes for ?topic=name.
func (c *TopicsController) handleStats(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("topic")
	stats, err := c.rt.Registry().Stats(name)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, map[string]any{"partitions": stats})
}
