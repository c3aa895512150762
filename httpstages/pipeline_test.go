package httpstages

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/dcshock/scrapepipe/pipeline"
)

func statusCheck(v any) error {
	m, ok := v.(map[string]any)
	if !ok {
		return fmt.Errorf("expected map")
	}
	if s, _ := m["status"].(string); s != "ok" {
		return fmt.Errorf("unexpected status: %v", m["status"])
	}
	return nil
}

// TestPipeline_GET_ParseJSON_Expect runs a full pipeline: GET -> ParseJSON -> Expect (pass).
func TestPipeline_GET_ParseJSON_Expect(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","version":1}`))
	}))
	defer ts.Close()

	out, err := runStages(t, nil, Get(ts.URL), ParseJSON(), Expect(statusCheck))
	if err != nil {
		t.Fatal(err)
	}
	m := out[0].(map[string]any)
	if m["status"] != "ok" || m["version"].(float64) != 1 {
		t.Errorf("unexpected result: %v", out)
	}
}

// TestPipeline_GET_ParseJSON_Expect_Fail verifies the pipeline errors when Expect fails.
func TestPipeline_GET_ParseJSON_Expect_Fail(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"error"}`))
	}))
	defer ts.Close()

	if _, err := runStages(t, nil, Get(ts.URL), ParseJSON(), Expect(statusCheck)); err == nil {
		t.Fatal("expected pipeline to fail when Expect returns error")
	}
}

// TestPipeline_ReplayedDownloads runs a record pipeline twice in replay mode;
// the second run is served entirely from the cache.
func TestPipeline_ReplayedDownloads(t *testing.T) {
	var hits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		fmt.Fprintf(w, `{"status":"ok","path":%q}`, r.URL.Path)
	}))
	defer ts.Close()

	p := &pipeline.Pipeline{
		Name:   "replayed",
		Replay: true,
		Stages: func(*pipeline.Run) ([]pipeline.Stage, error) {
			return []pipeline.Stage{
				pipeline.Values(pipeline.NewRecord("url", ts.URL+"/x"), pipeline.NewRecord("url", ts.URL+"/y")),
				Download().On("url", "body"),
				ParseJSON().On("body", "json"),
			}, nil
		},
	}
	dir := t.TempDir()
	for i := 0; i < 2; i++ {
		stats, err := p.Run(context.Background(), &pipeline.RunOptions{CacheDir: dir, Each: func(v any) error {
			return statusCheck(pipeline.FieldOr[any](v.(*pipeline.Record), "json", nil))
		}})
		if err != nil {
			t.Fatal(err)
		}
		if stats.Items != 2 {
			t.Errorf("run %d: items %d", i, stats.Items)
		}
	}
	if hits.Load() != 2 {
		t.Errorf("server hits: got %d, want 2", hits.Load())
	}
}
