package filestages

import (
	"context"
	"testing"

	"github.com/dcshock/scrapepipe/pipeline"
)

func runStages(t *testing.T, opts *pipeline.RunOptions, s ...pipeline.Stage) ([]any, error) {
	t.Helper()
	p := &pipeline.Pipeline{
		Name:   "filestages-test",
		Stages: func(*pipeline.Run) ([]pipeline.Stage, error) { return s, nil },
	}
	var out []any
	for v, err := range p.Values(context.Background(), opts) {
		if err != nil {
			return out, err
		}
		out = append(out, v)
	}
	return out, nil
}

func recordMaps(t *testing.T, vs []any) []map[string]any {
	t.Helper()
	out := make([]map[string]any, len(vs))
	for i, v := range vs {
		rec, ok := v.(*pipeline.Record)
		if !ok {
			t.Fatalf("value %d: expected *pipeline.Record, got %T", i, v)
		}
		out[i] = rec.Map()
	}
	return out
}
