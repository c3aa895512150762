package config

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dcshock/scrapepipe/pipeline"
	"github.com/google/go-cmp/cmp"
)

func collect(t *testing.T, p *pipeline.Pipeline, opts *pipeline.RunOptions) ([]any, error) {
	t.Helper()
	var out []any
	for v, err := range p.Values(context.Background(), opts) {
		if err != nil {
			return out, err
		}
		out = append(out, v)
	}
	return out, nil
}

func TestRegistry_RegisterGet(t *testing.T) {
	reg := NewRegistry()
	reg.RegisterStage("id", pipeline.Identity)
	if f, ok := reg.Get("id"); !ok || f == nil {
		t.Fatal("Get(id) should return a factory")
	}
	if _, ok := reg.Get("missing"); ok {
		t.Error("Get(missing) should return false")
	}
	_, err := reg.Build(nil, StageRef{Name: "missing"})
	var unknown ErrUnknownStage
	if !errors.As(err, &unknown) || unknown.Name != "missing" {
		t.Errorf("Build(missing): %v", err)
	}
}

func TestDefaultRegistry_Names(t *testing.T) {
	names := DefaultRegistry().Names()
	for _, want := range []string{"download", "download_file", "download_throttled", "parse_json", "parse_html",
		"parse_xml", "parse_feed", "feed_items", "parse_csv", "unzip", "zip_entries", "parse_icalendar", "flatten", "limit", "drop_nil"} {
		found := false
		for _, n := range names {
			found = found || n == want
		}
		if !found {
			t.Errorf("DefaultRegistry missing %q", want)
		}
	}
}

func TestBuildPipeline_Values(t *testing.T) {
	reg := NewRegistry()
	reg.RegisterStage("id", pipeline.Identity)
	reg.RegisterStage("double", func() pipeline.Stage {
		return pipeline.Map("double", func(ctx context.Context, n int) (int, error) { return n * 2, nil })
	})

	cfg := &PipelineConfig{
		Name:   "math",
		Source: SourceConfig{Values: []any{1, 2, 3}},
		Stages: []StageRef{{Name: "id"}, {Name: "double"}},
	}
	p, err := BuildPipeline(reg, cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	if p.Name != "math" {
		t.Fatalf("pipeline: %+v", p)
	}
	out, err := collect(t, p, nil)
	if err != nil {
		t.Fatal(err)
	}
	if fmt.Sprint(out) != "[2 4 6]" {
		t.Errorf("expected [2 4 6], got %v", out)
	}
}

func TestBuildPipeline_StageThrottleOverFileDefault(t *testing.T) {
	var got []ThrottleConfig
	reg := NewRegistry()
	reg.Register("capture", func(run *pipeline.Run, ref StageRef) (pipeline.Stage, error) {
		got = append(got, *ref.Throttle)
		return pipeline.Identity(), nil
	})
	cfg := &PipelineConfig{
		Name:   "throttled",
		Source: SourceConfig{Values: []any{1}},
		Stages: []StageRef{
			{Name: "capture"},
			{Name: "capture", Throttle: &ThrottleConfig{MaxAttempts: 3}},
		},
	}
	file := ThrottleConfig{Seed: Duration(5 * time.Second), Increment: Duration(time.Second), MaxAttempts: 7}
	p, err := BuildPipeline(reg, cfg, &BuildOptions{Throttle: file})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := collect(t, p, nil); err != nil {
		t.Fatal(err)
	}
	want := []ThrottleConfig{file, {Seed: file.Seed, Increment: file.Increment, MaxAttempts: 3}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("throttle (-want +got):\n%s", diff)
	}
	if b := got[1].Backoff(); b.Seed != 5*time.Second || b.MaxAttempts != 3 {
		t.Errorf("backoff: %+v", b)
	}
}

func TestBuildPipeline_UnknownStage(t *testing.T) {
	reg := NewRegistry()
	reg.RegisterStage("a", pipeline.Identity)
	cfg := &PipelineConfig{Name: "x", Source: SourceConfig{Values: []any{1}}, Stages: []StageRef{{Name: "a"}, {Name: "not-registered"}}}
	_, err := BuildPipeline(reg, cfg, nil)
	if !errors.As(err, new(ErrUnknownStage)) {
		t.Fatalf("expected ErrUnknownStage, got %v", err)
	}
}

func TestBuildPipeline_SourceRequired(t *testing.T) {
	_, err := BuildPipeline(NewRegistry(), &PipelineConfig{Name: "x"}, nil)
	if err == nil || !strings.Contains(err.Error(), "source") {
		t.Fatalf("expected source error, got %v", err)
	}
	_, err = BuildPipeline(NewRegistry(), &PipelineConfig{Name: "x", Source: SourceConfig{Name: "nowhere"}}, nil)
	if !errors.As(err, new(ErrUnknownStage)) {
		t.Fatalf("expected ErrUnknownStage for source, got %v", err)
	}
}

func TestBuildPipeline_WithSource(t *testing.T) {
	reg := NewRegistry()
	reg.RegisterStage("id", pipeline.Identity)
	sources := NewSourceRegistry()
	sources.Register("ten", func(run *pipeline.Run, src SourceConfig) (pipeline.Stage, error) {
		if run == nil {
			return pipeline.Stage{}, errors.New("source built without a run")
		}
		return pipeline.Values(10), nil
	})

	cfg := &PipelineConfig{
		Name:   "with-source",
		Source: SourceConfig{Name: "ten"},
		Stages: []StageRef{{Name: "id"}},
	}
	p, err := BuildPipeline(reg, cfg, &BuildOptions{Sources: sources})
	if err != nil {
		t.Fatal(err)
	}
	out, err := collect(t, p, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 || out[0] != 10 {
		t.Errorf("expected [10], got %v", out)
	}
}

func TestBuildPipeline_FactoryErrorFailsRun(t *testing.T) {
	cfg := &PipelineConfig{Name: "x", Source: SourceConfig{Values: []any{1}}, Stages: []StageRef{{Name: "limit"}}}
	p, err := BuildPipeline(DefaultRegistry(), cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	_, err = collect(t, p, nil)
	if err == nil || !strings.Contains(err.Error(), `stage 1 ("limit")`) {
		t.Errorf("got %v", err)
	}
}

func TestBuildAllPipelines_LimitFreshPerRun(t *testing.T) {
	f, err := Parse([]byte(`
pipelines:
  firsttwo:
    source: {values: [a, b, c]}
    stages:
      - name: limit
        args: {n: 2}
  copy:
    source: {values: [x]}
`))
	if err != nil {
		t.Fatal(err)
	}
	pipelines, err := BuildAllPipelines(DefaultRegistry(), f, nil)
	if err != nil {
		t.Fatal(err)
	}
	if p := pipelines["copy"]; p == nil || p.Name != "copy" {
		t.Errorf("copy pipeline: %+v", p)
	}
	for i := 0; i < 2; i++ {
		stats, err := pipelines["firsttwo"].Run(context.Background(), nil)
		if err != nil {
			t.Fatal(err)
		}
		if stats.Items != 2 || stats.State != pipeline.StateStoppedEarly {
			t.Errorf("run %d: %+v", i, stats)
		}
	}
}

func TestBuildAllPipelines_DownloadRecords(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if ua := r.Header.Get("User-Agent"); ua != "config-test" {
			http.Error(w, "bad agent "+ua, http.StatusForbidden)
			return
		}
		fmt.Fprintf(w, `[{"id":1,"path":%q},{"id":2,"path":%q}]`, r.URL.Path, r.URL.Path)
	}))
	defer srv.Close()

	t.Setenv("EVENTS_URL", srv.URL+"/events")
	f, err := Parse([]byte(`
fetch: {user_agent: config-test}
pipelines:
  events:
    replay: true
    source: {values: ["${EVENTS_URL}"]}
    stages:
      - download
      - parse_json
      - to_records
`))
	if err != nil {
		t.Fatal(err)
	}
	f.CacheDir = t.TempDir()
	pipelines, err := BuildAllPipelines(DefaultRegistry(), f, nil)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		out, err := collect(t, pipelines["events"], f.RunOptions())
		if err != nil {
			t.Fatal(err)
		}
		if len(out) != 2 {
			t.Fatalf("run %d: got %v", i, out)
		}
		if path := pipeline.FieldOr(out[1].(*pipeline.Record), "path", ""); path != "/events" {
			t.Errorf("path: %q", path)
		}
	}
	if hits.Load() != 1 {
		t.Errorf("replayed pipeline should fetch once, got %d", hits.Load())
	}
}
