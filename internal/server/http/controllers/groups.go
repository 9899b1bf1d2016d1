package controllers

import (
	"net/http"

	"github.com/kilnmq/kiln/internal/group"
	"github.com/kilnmq/kiln/internal/runtime"
)

// GroupsController exposes consumer group coordination.
type GroupsController struct {
	rt *runtime.Runtime
}

func NewGroupsController(rt *runtime.Runtime) *GroupsController {
	return &GroupsController{rt: rt}
}

func (c *GroupsController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/groups", c.handleList)
	mux.HandleFunc("/v1/groups/describe", c.handleDescribe)
	mux.HandleFunc("/v1/groups/join", c.handleJoin)
	mux.HandleFunc("/v1/groups/sync", c.handleSync)
	mux.HandleFunc("/v1/groups/heartbeat", c.handleHeartbeat)
	mux.HandleFunc("/v1/groups/leave", c.handleLeave)
	mux.HandleFunc("/v1/groups/commit", c.handleCommit)
	mux.HandleFunc("/v1/groups/offsets", c.handleOffsets)
	mux.HandleFunc("/v1/groups/delete", c.handleDelete)
}

func (c *GroupsController) handleJoin(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var req joinReq
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := c.rt.Coordinator().Join(r.Context(), req.Group, req.MemberID, req.Topics)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, joinResp{
		MemberID:            res.MemberID,
		Generation:          res.Generation,
		State:               res.State,
		HeartbeatIntervalMs: res.HeartbeatIntervalMs,
		SessionTimeoutMs:    res.SessionTimeoutMs,
	})
}

func (c *GroupsController) handleSync(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var req syncReq
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := c.rt.Coordinator().Sync(r.Context(), req.Group, req.MemberID, req.Generation)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	assigned := res.Assigned
	if assigned == nil {
		assigned = []group.TopicPartition{}
	}
	writeJSON(w, syncResp{Generation: res.Generation, State: res.State, Assigned: assigned})
}

func (c *GroupsController) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var req heartbeatReq
	if !decodeBody(w, r, &req) {
		return
	}
	if err := c.rt.Coordinator().Heartbeat(r.Context(), req.Group, req.MemberID, req.Generation); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

func (c *GroupsController) handleLeave(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var req leaveReq
	if !decodeBody(w, r, &req) {
		return
	}
	if err := c.rt.Coordinator().Leave(r.Context(), req.Group, req.MemberID); err != nil {
		writeDomainError(w, err)
		return
	}
	writeNoContent(w)
}

func (c *GroupsController) handleCommit(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var req commitReq
	if !decodeBody(w, r, &req) {
		return
	}
	generation := int64(-1)
	if req.Generation != nil {
		generation = *req.Generation
	}
	tp := group.TopicPartition{Topic: req.Topic, Partition: req.Partition}
	if err := c.rt.Coordinator().Commit(r.Context(), req.Group, req.MemberID, generation, tp, req.Offset); err != nil {
		writeDomainError(w, err)
		return
	}
	writeNoContent(w)
}

func (c *GroupsController) handleOffsets(w http.ResponseWriter, r *http.Request) {
	groupName := r.URL.Query().Get("group")
	offs, err := c.rt.Coordinator().Offsets(r.Context(), groupName)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if offs == nil {
		offs = []group.Committed{}
	}
	writeJSON(w, map[string]any{"offsets": offs})
}

func (c *GroupsController) handleList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{"groups": c.rt.Coordinator().List()})
}

func (c *GroupsController) handleDescribe(w http.ResponseWriter, r *http.Request) {
	d, err := c.rt.Coordinator().Get(r.URL.Query().Get("group"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, d)
}

func (c *GroupsController) handleDelete(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var req groupDeleteReq
	if !decodeBody(w, r, &req) {
		return
	}
	if err := c.rt.Coordinator().Delete(r.Context(), req.Group); err != nil {
		writeDomainError(w, err)
		return
	}
	writeNoContent(w)
}
