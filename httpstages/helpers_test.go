package httpstages

import (
	"context"
	"testing"

	"github.com/dcshock/scrapepipe/pipeline"
)

// runStage feeds inputs through stage inside a pipeline run and collects
// the outputs.
func runStage(t *testing.T, stage pipeline.Stage, inputs ...any) ([]any, error) {
	t.Helper()
	return runStages(t, nil, pipeline.Values(inputs...), stage)
}

func runStages(t *testing.T, opts *pipeline.RunOptions, s ...pipeline.Stage) ([]any, error) {
	t.Helper()
	p := &pipeline.Pipeline{
		Name:   "httpstages-test",
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
