package httpserver

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	cfgpkg "github.com/kilnmq/kiln/internal/config"
	"github.com/kilnmq/kiln/internal/runtime"
	"github.com/kilnmq/kiln/pkg/log"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	cfg := cfgpkg.Default()
	cfg.DataDir = t.TempDir()
	cfg.Fsync = "never"
	rt, err := runtime.Open(runtime.Options{Config: cfg, Logger: log.NewLogger(log.WithOutput(log.NewWriterOutput(io.Discard)))})
	if err != nil {
		t.Fatalf("open runtime: %v", err)
	}
	t.Cleanup(func() { rt.Close() })
	ts := httptest.NewServer(New(rt).Handler())
	t.Cleanup(ts.Close)
	return ts
}

func postJSON(t *testing.T, ts *httptest.Server, path string, body any, out any) int {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(ts.URL+path, "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
	}
	return resp.StatusCode
}

func getJSON(t *testing.T, ts *httptest.Server, path string, out any) int {
	t.Helper()
	resp, err := http.Get(ts.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
	}
	return resp.StatusCode
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	var body map[string]string
	if code := getJSON(t, ts, "/v1/healthz", &body); code != http.StatusOK {
		t.Fatalf("health: %d", code)
	}
	if body["status"] != "ok" {
		t.Fatalf("health body: %v", body)
	}
}

func TestTopicLifecycle(t *testing.T) {
	ts := newTestServer(t)

	if code := postJSON(t, ts, "/v1/topics/create", map[string]any{"name": "orders", "partitions": 3}, nil); code != http.StatusCreated {
		t.Fatalf("create: %d", code)
	}
	if code := postJSON(t, ts, "/v1/topics/create", map[string]any{"name": "orders", "partitions": 3}, nil); code != http.StatusConflict {
		t.Fatalf("duplicate create: %d", code)
	}
	if code := postJSON(t, ts, "/v1/topics/create", map[string]any{"name": "bad name!"}, nil); code != http.StatusBadRequest {
		t.Fatalf("invalid name: %d", code)
	}

	var list struct {
		Topics []struct {
			Name       string `json:"name"`
			Partitions int    `json:"partitions"`
		} `json:"topics"`
	}
	if code := getJSON(t, ts, "/v1/topics", &list); code != http.StatusOK {
		t.Fatalf("list: %d", code)
	}
	if len(list.Topics) != 1 || list.Topics[0].Partitions != 3 {
		t.Fatalf("list body: %+v", list)
	}

	var stats struct {
		Partitions []struct {
			HighWatermark int64 `json:"highWatermark"`
		} `json:"partitions"`
	}
	if code := getJSON(t, ts, "/v1/topics/stats?topic=orders", &stats); code != http.StatusOK {
		t.Fatalf("stats: %d", code)
	}
	if len(stats.Partitions) != 3 {
		t.Fatalf("stats body: %+v", stats)
	}
	if code := getJSON(t, ts, "/v1/topics/stats?topic=ghost", nil); code != http.StatusNotFound {
		t.Fatalf("stats unknown: %d", code)
	}

	if code := postJSON(t, ts, "/v1/topics/delete", map[string]any{"name": "orders"}, nil); code != http.StatusNoContent {
		t.Fatalf("delete: %d", code)
	}
}

func TestPublishFetchRoundTrip(t *testing.T) {
	ts := newTestServer(t)
	if code := postJSON(t, ts, "/v1/topics/create", map[string]any{"name": "events", "partitions": 1}, nil); code != http.StatusCreated {
		t.Fatalf("create: %d", code)
	}

	var pub struct {
		Partition uint32 `json:"partition"`
		Offset    int64  `json:"offset"`
	}
	code := postJSON(t, ts, "/v1/publish", map[string]any{
		"topic": "events",
		"key":   []byte("k1"),
		"value": []byte("hello"),
	}, &pub)
	if code != http.StatusOK || pub.Offset != 0 {
		t.Fatalf("publish: %d, %+v", code, pub)
	}

	var fr struct {
		Events []struct {
			Offset int64  `json:"offset"`
			Value  []byte `json:"value"`
		} `json:"events"`
		NextOffset    int64 `json:"nextOffset"`
		HighWatermark int64 `json:"highWatermark"`
	}
	code = postJSON(t, ts, "/v1/fetch", map[string]any{"topic": "events", "partition": 0, "offset": 0}, &fr)
	if code != http.StatusOK {
		t.Fatalf("fetch: %d", code)
	}
	if len(fr.Events) != 1 || string(fr.Events[0].Value) != "hello" || fr.NextOffset != 1 {
		t.Fatalf("fetch body: %+v", fr)
	}

	// Beyond the high watermark is a range error.
	if code := postJSON(t, ts, "/v1/fetch", map[string]any{"topic": "events", "offset": 99}, nil); code != http.StatusRequestedRangeNotSatisfiable {
		t.Fatalf("fetch out of range: %d", code)
	}
	if code := postJSON(t, ts, "/v1/fetch", map[string]any{"topic": "ghost"}, nil); code != http.StatusNotFound {
		t.Fatalf("fetch unknown topic: %d", code)
	}
}

func TestIdempotentPublishOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	postJSON(t, ts, "/v1/topics/create", map[string]any{"name": "orders", "partitions": 1}, nil)

	req := map[string]any{"topic": "orders", "value": []byte("v"), "producerId": "p1", "sequence": 1}
	var first, again struct {
		Offset    int64 `json:"offset"`
		Duplicate bool  `json:"duplicate"`
	}
	if code := postJSON(t, ts, "/v1/publish", req, &first); code != http.StatusOK {
		t.Fatalf("publish: %d", code)
	}
	if code := postJSON(t, ts, "/v1/publish", req, &again); code != http.StatusOK {
		t.Fatalf("retry: %d", code)
	}
	if !again.Duplicate || again.Offset != first.Offset {
		t.Fatalf("retry not deduped: %+v vs %+v", again, first)
	}
	req["sequence"] = 5
	if code := postJSON(t, ts, "/v1/publish", req, nil); code != http.StatusConflict {
		t.Fatalf("sequence gap: %d", code)
	}
}

func TestGroupProtocolOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	postJSON(t, ts, "/v1/topics/create", map[string]any{"name": "orders", "partitions": 3}, nil)

	var join struct {
		MemberID   string `json:"memberId"`
		Generation int64  `json:"generation"`
		State      string `json:"state"`
	}
	code := postJSON(t, ts, "/v1/groups/join", map[string]any{"group": "g", "topics": []string{"orders"}}, &join)
	if code != http.StatusOK || join.MemberID == "" || join.State != "Syncing" {
		t.Fatalf("join: %d, %+v", code, join)
	}

	var sync struct {
		State    string `json:"state"`
		Assigned []struct {
			Topic     string `json:"topic"`
			Partition uint32 `json:"partition"`
		} `json:"assigned"`
	}
	code = postJSON(t, ts, "/v1/groups/sync", map[string]any{"group": "g", "memberId": join.MemberID, "generation": join.Generation}, &sync)
	if code != http.StatusOK || sync.State != "Stable" || len(sync.Assigned) != 3 {
		t.Fatalf("sync: %d, %+v", code, sync)
	}

	if code := postJSON(t, ts, "/v1/groups/heartbeat", map[string]any{"group": "g", "memberId": join.MemberID, "generation": join.Generation}, nil); code != http.StatusOK {
		t.Fatalf("heartbeat: %d", code)
	}
	if code := postJSON(t, ts, "/v1/groups/heartbeat", map[string]any{"group": "g", "memberId": join.MemberID, "generation": join.Generation + 7}, nil); code != http.StatusConflict {
		t.Fatalf("stale heartbeat: %d", code)
	}

	if code := postJSON(t, ts, "/v1/groups/commit", map[string]any{"group": "g", "topic": "orders", "partition": 1, "offset": 42}, nil); code != http.StatusNoContent {
		t.Fatalf("commit: %d", code)
	}
	var offs struct {
		Offsets []struct {
			Topic  string `json:"topic"`
			Offset int64  `json:"offset"`
		} `json:"offsets"`
	}
	if code := getJSON(t, ts, "/v1/groups/offsets?group=g", &offs); code != http.StatusOK {
		t.Fatalf("offsets: %d", code)
	}
	if len(offs.Offsets) != 1 || offs.Offsets[0].Offset != 42 {
		t.Fatalf("offsets body: %+v", offs)
	}

	if code := postJSON(t, ts, "/v1/groups/leave", map[string]any{"group": "g", "memberId": join.MemberID}, nil); code != http.StatusNoContent {
		t.Fatalf("leave: %d", code)
	}
	if code := postJSON(t, ts, "/v1/groups/delete", map[string]any{"group": "g"}, nil); code != http.StatusNoContent {
		t.Fatalf("delete: %d", code)
	}
	if code := getJSON(t, ts, "/v1/groups/describe?group=g", nil); code != http.StatusNotFound {
		t.Fatalf("describe after delete: %d", code)
	}
}
