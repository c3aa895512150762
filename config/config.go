package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"dario.cat/mergo"
	"github.com/dcshock/scrapepipe/fetch"
	"gopkg.in/yaml.v3"
)

// File is the root structure of a configuration file.
type File struct {
	// CacheDir holds the replay stores of pipelines run in replay mode.
	CacheDir  string                    `yaml:"cache_dir"`
	RunLog    string                    `yaml:"run_log"`
	Fetch     FetchConfig               `yaml:"fetch"`
	Throttle  ThrottleConfig            `yaml:"throttle"`
	Pipelines map[string]PipelineConfig `yaml:"pipelines"`
}

// FetchConfig configures the session every run creates.
type FetchConfig struct {
	Timeout   Duration          `yaml:"timeout"`
	UserAgent string            `yaml:"user_agent"`
	Headers   map[string]string `yaml:"headers"`
	// RateLimit is the number of requests per second; 0 disables limiting.
	RateLimit float64 `yaml:"rate_limit"`
	Burst     int     `yaml:"burst"`
}

// Options returns the fetch options described by c.
func (c FetchConfig) Options() []fetch.Option {
	var opts []fetch.Option
	if c.Timeout > 0 {
		opts = append(opts, fetch.WithTimeout(c.Timeout.Duration()))
	}
	if c.UserAgent != "" {
		opts = append(opts, fetch.WithUserAgent(c.UserAgent))
	}
	for k, v := range c.Headers {
		opts = append(opts, fetch.WithHeader(k, v))
	}
	if c.RateLimit > 0 {
		opts = append(opts, fetch.WithRateLimit(c.RateLimit, c.Burst))
	}
	return opts
}

// ThrottleConfig configures download_throttled stages. Zero fields take the
// values of fetch.DefaultBackoff.
type ThrottleConfig struct {
	Seed        Duration `yaml:"seed"`
	Increment   Duration `yaml:"increment"`
	MaxAttempts int      `yaml:"max_attempts"`
}

// Over returns c with its zero fields taken from base.
func (c ThrottleConfig) Over(base ThrottleConfig) ThrottleConfig {
	// Both sides share a type, so Merge cannot fail.
	_ = mergo.Merge(&c, base)
	return c
}

// Backoff returns the backoff described by c.
func (c ThrottleConfig) Backoff() fetch.Backoff {
	b := fetch.DefaultBackoff
	if c.Seed > 0 {
		b.Seed = c.Seed.Duration()
	}
	if c.Increment > 0 {
		b.Increment = c.Increment.Duration()
	}
	if c.MaxAttempts > 0 {
		b.MaxAttempts = c.MaxAttempts
	}
	return b
}

// PipelineConfig defines one pipeline.
type PipelineConfig struct {
	Name   string       `yaml:"name"`
	Replay bool         `yaml:"replay"`
	Source SourceConfig `yaml:"source"`
	Stages []StageRef   `yaml:"stages"`
}

// SourceConfig selects the first stage of a pipeline. In YAML, a source can
// be written as the name of a source in the SourceRegistry, or as a block:
//
//	source: {values: [a, b]}
//	source: {socrata: {base_url: https://data.example.org, dataset: abcd-1234}}
//	source: {name: my-source, args: {city: boston}}
type SourceConfig struct {
	Name    string         `yaml:"name"`
	Values  []any          `yaml:"values"`
	Socrata *SocrataConfig `yaml:"socrata"`
	Args    map[string]any `yaml:"args"`
}

// UnmarshalYAML allows a source to be a string (source name only) or a struct.
func (s *SourceConfig) UnmarshalYAML(value *yaml.Node) error {
	var nameOnly string
	if err := value.Decode(&nameOnly); err == nil {
		s.Name = nameOnly
		return nil
	}
	type raw SourceConfig
	return value.Decode((*raw)(s))
}

// SocrataConfig describes a paginated dataset.
type SocrataConfig struct {
	BaseURL         string   `yaml:"base_url"`
	Dataset         string   `yaml:"dataset"`
	Columns         []string `yaml:"columns"`
	PageSize        int      `yaml:"page_size"`
	// MetadataColumns overrides paginate.DefaultMetadataColumns when set.
	MetadataColumns *int `yaml:"metadata_columns"`
	// Query is an inline query sent as the JSON body of every page request.
	Query string `yaml:"query"`
}

// StageRef is a single stage entry: either a plain name or name + options.
// In YAML, a stage can be written as:
//   - parse_json
//   - name: download
//     input: url
//     output: body
//     timeout: 60s
//   - name: select_text
//     args: {selector: "a.event"}
type StageRef struct {
	Name string `yaml:"name"`

	// Input and Output bind the stage to record fields.
	Input  string `yaml:"input"`
	Output string `yaml:"output"`

	// Timeout applied around each step of the stage (e.g. "60s").
	Timeout Duration `yaml:"timeout"`

	// Args are stage specific settings.
	Args map[string]any `yaml:"args"`

	// Throttle overrides the file's throttle section for this stage.
	Throttle *ThrottleConfig `yaml:"throttle"`
}

// UnmarshalYAML allows a stage to be a string (stage name only) or a struct.
func (s *StageRef) UnmarshalYAML(value *yaml.Node) error {
	var nameOnly string
	if err := value.Decode(&nameOnly); err == nil {
		s.Name = nameOnly
		return nil
	}
	type raw StageRef
	return value.Decode((*raw)(s))
}

// StringArg returns the string argument key, or def when absent.
func (s StageRef) StringArg(key, def string) (string, error) {
	v, ok := s.Args[key]
	if !ok {
		return def, nil
	}
	str, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("arg %q: expected string, got %T", key, v)
	}
	return str, nil
}

// IntArg returns the integer argument key, or def when absent.
func (s StageRef) IntArg(key string, def int) (int, error) {
	v, ok := s.Args[key]
	if !ok {
		return def, nil
	}
	n, ok := v.(int)
	if !ok {
		return 0, fmt.Errorf("arg %q: expected integer, got %T", key, v)
	}
	return n, nil
}

// BoolArg returns the boolean argument key, or false when absent.
func (s StageRef) BoolArg(key string) (bool, error) {
	v, ok := s.Args[key]
	if !ok {
		return false, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("arg %q: expected boolean, got %T", key, v)
	}
	return b, nil
}

// StringsArg returns the string list argument key, or nil when absent.
func (s StageRef) StringsArg(key string) ([]string, error) {
	v, ok := s.Args[key]
	if !ok {
		return nil, nil
	}
	list, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("arg %q: expected list, got %T", key, v)
	}
	out := make([]string, len(list))
	for i, item := range list {
		str, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("arg %q[%d]: expected string, got %T", key, i, item)
		}
		out[i] = str
	}
	return out, nil
}

// Duration is a time.Duration that unmarshals from YAML strings (e.g. "60s", "5m").
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the standard time.Duration.
func (d Duration) Duration() time.Duration { return time.Duration(d) }

// Parse parses YAML bytes into a File. ${VAR} references are expanded from
// the environment first. Map keys name pipelines whose Name is empty.
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &f); err != nil {
		return nil, err
	}
	for name, p := range f.Pipelines {
		if p.Name == "" {
			p.Name = name
			f.Pipelines[name] = p
		}
	}
	return &f, nil
}

// ParsePipelineConfig parses YAML bytes into a single PipelineConfig.
func ParsePipelineConfig(data []byte) (*PipelineConfig, error) {
	var cfg PipelineConfig
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LocalPath returns the override file read by Load for path:
// "scrape.yaml" becomes "scrape.local.yaml".
func LocalPath(path string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + ".local" + ext
}

// Load reads path and merges the optional LocalPath(path) over it. Fields
// set in the local file win; a pipeline defined in both files is replaced
// by the local definition. Zero values (false, 0, "") in the local file do
// not override.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	localPath := LocalPath(path)
	localData, err := os.ReadFile(localPath)
	if os.IsNotExist(err) {
		return f, nil
	}
	if err != nil {
		return nil, err
	}
	local, err := Parse(localData)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", localPath, err)
	}
	if err := mergo.Merge(f, *local, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("merge %s: %w", localPath, err)
	}
	return f, nil
}
