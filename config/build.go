package config

import (
	"fmt"
	"sort"

	"github.com/dcshock/scrapepipe/pipeline"
)

// BuildOptions configures how a pipeline is built from config.
type BuildOptions struct {
	// Sources resolves named sources. Inline values and socrata blocks need
	// no registry.
	Sources *SourceRegistry

	// Throttle is the default for stages without their own throttle block.
	Throttle ThrottleConfig
}

// BuildPipeline builds a pipeline.Pipeline from config and registry. Stage
// and source names are checked here; factories run at the start of every
// run, so stateful stages such as limit start fresh each time.
func BuildPipeline(reg *Registry, cfg *PipelineConfig, opts *BuildOptions) (*pipeline.Pipeline, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}
	if opts == nil {
		opts = &BuildOptions{}
	}
	if err := checkSource(cfg.Source, opts.Sources); err != nil {
		return nil, fmt.Errorf("source: %w", err)
	}
	refs := make([]StageRef, len(cfg.Stages))
	for i, ref := range cfg.Stages {
		if ref.Name == "" {
			return nil, fmt.Errorf("stage %d: name required", i)
		}
		if _, ok := reg.Get(ref.Name); !ok {
			return nil, fmt.Errorf("stage %d: %w", i, ErrUnknownStage{Name: ref.Name})
		}
		t := opts.Throttle
		if ref.Throttle != nil {
			t = ref.Throttle.Over(opts.Throttle)
		}
		ref.Throttle = &t
		refs[i] = ref
	}

	src := cfg.Source
	sources := opts.Sources
	return &pipeline.Pipeline{
		Name:   cfg.Name,
		Replay: cfg.Replay,
		Stages: func(run *pipeline.Run) ([]pipeline.Stage, error) {
			first, err := sources.Build(run, src)
			if err != nil {
				return nil, fmt.Errorf("source: %w", err)
			}
			stages := make([]pipeline.Stage, 0, len(refs)+1)
			stages = append(stages, first)
			for i, ref := range refs {
				s, err := reg.Build(run, ref)
				if err != nil {
					return nil, fmt.Errorf("stage %d (%q): %w", i+1, ref.Name, err)
				}
				stages = append(stages, s)
			}
			return stages, nil
		},
	}, nil
}

func checkSource(src SourceConfig, sources *SourceRegistry) error {
	switch {
	case src.Values != nil, src.Socrata != nil:
		return nil
	case src.Name != "":
		if _, ok := sources.Get(src.Name); !ok {
			return ErrUnknownStage{Name: src.Name}
		}
		return nil
	}
	return fmt.Errorf("required")
}

// BuildAllPipelines builds a pipeline.Pipeline for each entry in f. Keys are pipeline names.
// The file's throttle section is the default for every download_throttled stage.
func BuildAllPipelines(reg *Registry, f *File, sources *SourceRegistry) (map[string]*pipeline.Pipeline, error) {
	if f == nil {
		return nil, fmt.Errorf("File is nil")
	}
	opts := &BuildOptions{Sources: sources, Throttle: f.Throttle}
	out := make(map[string]*pipeline.Pipeline, len(f.Pipelines))
	for name, cfg := range f.Pipelines {
		if cfg.Name == "" {
			cfg.Name = name
		}
		p, err := BuildPipeline(reg, &cfg, opts)
		if err != nil {
			return nil, fmt.Errorf("pipeline %q: %w", name, err)
		}
		out[name] = p
	}
	return out, nil
}

// PipelineNames returns the names of the pipelines defined in f, sorted.
func (f *File) PipelineNames() []string {
	names := make([]string, 0, len(f.Pipelines))
	for n := range f.Pipelines {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// RunOptions returns run options carrying the file's cache directory and
// fetch settings.
func (f *File) RunOptions() *pipeline.RunOptions {
	return &pipeline.RunOptions{
		CacheDir:     f.CacheDir,
		FetchOptions: f.Fetch.Options(),
	}
}
