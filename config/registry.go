package config

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dcshock/scrapepipe/filestages"
	"github.com/dcshock/scrapepipe/httpstages"
	"github.com/dcshock/scrapepipe/paginate"
	"github.com/dcshock/scrapepipe/pipeline"
)

// Factory builds a stage for one run from its configuration entry.
type Factory func(run *pipeline.Run, ref StageRef) (pipeline.Stage, error)

// SourceFactory builds the first stage of a run.
type SourceFactory func(run *pipeline.Run, src SourceConfig) (pipeline.Stage, error)

// ErrUnknownStage is returned when a stage or source name is not registered.
type ErrUnknownStage struct {
	Name string
}

func (e ErrUnknownStage) Error() string { return fmt.Sprintf("unknown stage %q", e.Name) }

// Registry maps stage names to factories. Safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	stages map[string]Factory
}

// NewRegistry returns an empty stage registry.
func NewRegistry() *Registry {
	return &Registry{stages: make(map[string]Factory)}
}

// Register adds a factory under the given name. Overwrites any existing registration.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stages == nil {
		r.stages = make(map[string]Factory)
	}
	r.stages[name] = f
}

// RegisterStage registers a stage that takes no arguments.
func (r *Registry) RegisterStage(name string, newStage func() pipeline.Stage) {
	r.Register(name, func(*pipeline.Run, StageRef) (pipeline.Stage, error) { return newStage(), nil })
}

// Get returns the factory for name, or nil and false if not found.
func (r *Registry) Get(name string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.stages[name]
	return f, ok
}

// Build resolves ref and applies its field binding and timeout.
func (r *Registry) Build(run *pipeline.Run, ref StageRef) (pipeline.Stage, error) {
	f, ok := r.Get(ref.Name)
	if !ok {
		return pipeline.Stage{}, ErrUnknownStage{Name: ref.Name}
	}
	s, err := f(run, ref)
	if err != nil {
		return pipeline.Stage{}, err
	}
	if ref.Input != "" || ref.Output != "" {
		s = s.On(ref.Input, ref.Output)
	}
	if ref.Timeout > 0 {
		s = pipeline.WithTimeout(s, ref.Timeout.Duration())
	}
	return s, nil
}

// Names returns all registered stage names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.stages))
	for n := range r.stages {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// DefaultRegistry returns a registry holding every built-in stage.
func DefaultRegistry() *Registry {
	r := NewRegistry()

	r.RegisterStage("identity", pipeline.Identity)
	r.RegisterStage("drop_nil", pipeline.DropNil)
	r.RegisterStage("flatten", pipeline.Flatten)
	r.Register("limit", func(_ *pipeline.Run, ref StageRef) (pipeline.Stage, error) {
		n, err := ref.IntArg("n", 0)
		if err != nil {
			return pipeline.Stage{}, err
		}
		if n <= 0 {
			return pipeline.Stage{}, fmt.Errorf("limit: arg \"n\" must be positive")
		}
		return pipeline.Limit(n), nil
	})

	r.RegisterStage("download", httpstages.Download)
	r.RegisterStage("download_file", httpstages.DownloadFile)
	r.Register("download_throttled", func(_ *pipeline.Run, ref StageRef) (pipeline.Stage, error) {
		var t ThrottleConfig
		if ref.Throttle != nil {
			t = *ref.Throttle
		}
		return httpstages.DownloadThrottled(t.Backoff()), nil
	})
	r.RegisterStage("parse_json", httpstages.ParseJSON)
	r.RegisterStage("to_records", httpstages.ToRecords)
	r.RegisterStage("parse_html", httpstages.ParseHTML)
	r.RegisterStage("parse_xml", httpstages.ParseXML)
	r.RegisterStage("parse_feed", httpstages.ParseFeed)
	r.RegisterStage("feed_items", httpstages.FeedItems)
	r.Register("select_text", func(_ *pipeline.Run, ref StageRef) (pipeline.Stage, error) {
		sel, err := ref.StringArg("selector", "")
		if err != nil || sel == "" {
			return pipeline.Stage{}, fmt.Errorf("select_text: arg \"selector\" required")
		}
		return httpstages.SelectText(sel), nil
	})
	r.Register("select_attr", func(_ *pipeline.Run, ref StageRef) (pipeline.Stage, error) {
		sel, err := ref.StringArg("selector", "")
		if err != nil || sel == "" {
			return pipeline.Stage{}, fmt.Errorf("select_attr: arg \"selector\" required")
		}
		attr, err := ref.StringArg("attr", "")
		if err != nil || attr == "" {
			return pipeline.Stage{}, fmt.Errorf("select_attr: arg \"attr\" required")
		}
		return httpstages.SelectAttr(sel, attr), nil
	})

	r.Register("parse_csv", func(_ *pipeline.Run, ref StageRef) (pipeline.Stage, error) {
		var opts []filestages.CSVOption
		raw, err := ref.BoolArg("raw")
		if err != nil {
			return pipeline.Stage{}, err
		}
		if raw {
			opts = append(opts, filestages.RawRows())
		}
		comma, err := ref.StringArg("comma", "")
		if err != nil {
			return pipeline.Stage{}, err
		}
		if comma != "" {
			opts = append(opts, filestages.Comma([]rune(comma)[0]))
		}
		header, err := ref.StringsArg("header")
		if err != nil {
			return pipeline.Stage{}, err
		}
		if header != nil {
			opts = append(opts, filestages.Header(header...))
		}
		return filestages.ParseCSV(opts...), nil
	})
	r.RegisterStage("unzip", filestages.Unzip)
	r.Register("zip_entries", func(_ *pipeline.Run, ref StageRef) (pipeline.Stage, error) {
		pattern, err := ref.StringArg("pattern", "")
		if err != nil {
			return pipeline.Stage{}, err
		}
		return filestages.ZipEntries(pattern), nil
	})
	r.Register("parse_icalendar", func(_ *pipeline.Run, ref StageRef) (pipeline.Stage, error) {
		tz, err := ref.StringArg("timezone", "UTC")
		if err != nil {
			return pipeline.Stage{}, err
		}
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return pipeline.Stage{}, fmt.Errorf("parse_icalendar: %w", err)
		}
		return filestages.ParseICalendar(loc), nil
	})
	return r
}

// SourceRegistry maps source names to factories. Safe for concurrent use.
type SourceRegistry struct {
	mu      sync.RWMutex
	sources map[string]SourceFactory
}

// NewSourceRegistry returns an empty source registry.
func NewSourceRegistry() *SourceRegistry {
	return &SourceRegistry{sources: make(map[string]SourceFactory)}
}

// Register adds a source under the given name.
func (r *SourceRegistry) Register(name string, f SourceFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sources == nil {
		r.sources = make(map[string]SourceFactory)
	}
	r.sources[name] = f
}

// Get returns the factory for name.
func (r *SourceRegistry) Get(name string) (SourceFactory, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.sources[name]
	return f, ok
}

// Build returns the source stage described by src: the inline values, the
// socrata dataset, or the registered source src.Name, in that order.
func (r *SourceRegistry) Build(run *pipeline.Run, src SourceConfig) (pipeline.Stage, error) {
	switch {
	case src.Values != nil:
		return pipeline.Values(src.Values...), nil
	case src.Socrata != nil:
		return socrataSource(src.Socrata)
	case src.Name != "":
		f, ok := r.Get(src.Name)
		if !ok {
			return pipeline.Stage{}, ErrUnknownStage{Name: src.Name}
		}
		return f(run, src)
	}
	return pipeline.Stage{}, fmt.Errorf("source required")
}

func socrataSource(c *SocrataConfig) (pipeline.Stage, error) {
	if c.BaseURL == "" || c.Dataset == "" {
		return pipeline.Stage{}, fmt.Errorf("socrata: base_url and dataset required")
	}
	var opts []paginate.Option
	if len(c.Columns) > 0 {
		opts = append(opts, paginate.WithColumns(c.Columns...))
	}
	if c.PageSize > 0 {
		opts = append(opts, paginate.WithPageSize(c.PageSize))
	}
	if c.MetadataColumns != nil {
		opts = append(opts, paginate.WithMetadataColumns(*c.MetadataColumns))
	}
	if c.Query != "" {
		opts = append(opts, paginate.WithQuery([]byte(c.Query)))
	}
	return paginate.New(nil, c.BaseURL, c.Dataset, opts...).Source(), nil
}
