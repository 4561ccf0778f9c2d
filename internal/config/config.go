// Package config loads and watches the router's declarative source and
// route definitions.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/OrgLoop/orgloop-sub001/internal/event"
	kafkasink "github.com/OrgLoop/orgloop-sub001/internal/sink/kafka"
	"github.com/OrgLoop/orgloop-sub001/internal/transform/filter"
)

// File is one YAML definition file. Files in a directory are merged; a
// route may reference a source defined in another file.
type File struct {
	Sources []SourceConfig `yaml:"sources,omitempty"`
	Routes  []RouteConfig  `yaml:"routes,omitempty"`
}

// SourceConfig declares one admission point.
type SourceConfig struct {
	Name string `yaml:"name"`
	// Type is "webhook" or "polldiff".
	Type     string `yaml:"type"`
	Platform string `yaml:"platform,omitempty"`

	// Webhook mode.
	Path       string `yaml:"path,omitempty"`
	Secret     string `yaml:"secret,omitempty"`
	BufferPath string `yaml:"buffer,omitempty"`

	// Polldiff mode.
	URL          string   `yaml:"url,omitempty"`
	ListPath     string   `yaml:"list_path,omitempty"`
	IDField      string   `yaml:"id_field,omitempty"`
	Token        string   `yaml:"token,omitempty"`
	SnapshotPath string   `yaml:"snapshot,omitempty"`
	TrackFields  []string `yaml:"track_fields,omitempty"`

	// Interval between polls, e.g. "30s". Defaults to 30s.
	Interval string `yaml:"interval,omitempty"`
}

// PollInterval parses the poll interval. Call only after Validate. Zero
// means the runner default applies.
func (s SourceConfig) PollInterval() time.Duration {
	d, _ := time.ParseDuration(s.Interval)
	return d
}

// RouteConfig declares one route predicate plus its transform chain and
// delivery target.
type RouteConfig struct {
	Name       string            `yaml:"name"`
	Source     string            `yaml:"source"`
	Events     []string          `yaml:"events"`
	Filter     map[string]any    `yaml:"filter,omitempty"`
	Transforms []TransformConfig `yaml:"transforms,omitempty"`
	Sink       SinkConfig        `yaml:"sink"`
}

// TransformConfig declares one transform stage.
type TransformConfig struct {
	// Type is "filter" or "dedup".
	Type string `yaml:"type"`

	// Filter fields.
	Exclude  map[string]any `yaml:"exclude,omitempty"`
	Match    map[string]any `yaml:"match,omitempty"`
	MatchAny map[string]any `yaml:"match_any,omitempty"`
	JQ       string         `yaml:"jq,omitempty"`
	// Evaluator selects the jq expression engine: "exec" (default) runs
	// the jq binary, "cel" evaluates the expression in-process.
	Evaluator string `yaml:"evaluator,omitempty"`

	// Dedup fields.
	Key    []string `yaml:"key,omitempty"`
	Window string   `yaml:"window,omitempty"`
}

// SinkConfig declares the delivery target of a route.
type SinkConfig struct {
	// Type is "http" or "kafka".
	Type string `yaml:"type"`

	// HTTP sink.
	URL     string            `yaml:"url,omitempty"`
	Method  string            `yaml:"method,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`

	// Kafka sink.
	Brokers []string             `yaml:"brokers,omitempty"`
	Topic   string               `yaml:"topic,omitempty"`
	Auth    kafkasink.AuthConfig `yaml:"auth,omitempty"`
}

// Config is a validated, merged definition set.
type Config struct {
	Sources []SourceConfig
	Routes  []RouteConfig
}

// Validate checks cross-references and per-entry requirements.
func (c *Config) Validate() error {
	sources := make(map[string]bool, len(c.Sources))
	for _, s := range c.Sources {
		if s.Name == "" {
			return fmt.Errorf("source missing name")
		}
		if sources[s.Name] {
			return fmt.Errorf("duplicate source %q", s.Name)
		}
		sources[s.Name] = true

		if s.Interval != "" {
			if _, err := time.ParseDuration(s.Interval); err != nil {
				return fmt.Errorf("source %q interval: %w", s.Name, err)
			}
		}

		switch s.Type {
		case "webhook":
		case "polldiff":
			if s.URL == "" {
				return fmt.Errorf("source %q: polldiff requires url", s.Name)
			}
			if s.SnapshotPath == "" {
				return fmt.Errorf("source %q: polldiff requires snapshot", s.Name)
			}
		default:
			return fmt.Errorf("source %q has unknown type %q", s.Name, s.Type)
		}
	}

	names := make(map[string]bool, len(c.Routes))
	for _, r := range c.Routes {
		if r.Name == "" {
			return fmt.Errorf("route missing name")
		}
		if names[r.Name] {
			return fmt.Errorf("duplicate route %q", r.Name)
		}
		names[r.Name] = true

		if !sources[r.Source] {
			return fmt.Errorf("route %q references unknown source %q", r.Name, r.Source)
		}
		if len(r.Events) == 0 {
			return fmt.Errorf("route %q has no events", r.Name)
		}
		for _, t := range r.Events {
			if !event.ValidType(event.Type(t)) {
				return fmt.Errorf("route %q has unknown event type %q", r.Name, t)
			}
		}
		for i, tc := range r.Transforms {
			if err := tc.validate(); err != nil {
				return fmt.Errorf("route %q transform %d: %w", r.Name, i, err)
			}
		}
		switch r.Sink.Type {
		case "http":
			if r.Sink.URL == "" {
				return fmt.Errorf("route %q: http sink requires url", r.Name)
			}
		case "kafka":
			if len(r.Sink.Brokers) == 0 || r.Sink.Topic == "" {
				return fmt.Errorf("route %q: kafka sink requires brokers and topic", r.Name)
			}
		default:
			return fmt.Errorf("route %q has unknown sink type %q", r.Name, r.Sink.Type)
		}
	}
	return nil
}

func (tc TransformConfig) validate() error {
	switch tc.Type {
	case "filter":
		if tc.JQ != "" && (len(tc.Exclude)+len(tc.Match)+len(tc.MatchAny)) > 0 {
			// jq preempts the criteria anyway; flag the dead config.
			return fmt.Errorf("jq and criteria maps are mutually exclusive")
		}
		switch tc.Evaluator {
		case "", "exec", "cel":
		default:
			return fmt.Errorf("unknown evaluator %q", tc.Evaluator)
		}
		return nil
	case "dedup":
		if tc.Window == "" {
			return fmt.Errorf("dedup requires a window")
		}
		if _, err := time.ParseDuration(tc.Window); err != nil {
			return fmt.Errorf("dedup window: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("unknown transform type %q", tc.Type)
	}
}

// FilterConfig converts a filter transform entry into the filter
// package's config.
func (tc TransformConfig) FilterConfig() filter.Config {
	return filter.Config{
		Exclude:  tc.Exclude,
		Match:    tc.Match,
		MatchAny: tc.MatchAny,
		JQ:       tc.JQ,
	}
}

// DedupWindow parses the dedup window. Call only after Validate.
func (tc TransformConfig) DedupWindow() time.Duration {
	d, _ := time.ParseDuration(tc.Window)
	return d
}

// Loader loads and watches definition files in a directory.
type Loader struct {
	mu       sync.RWMutex
	current  *Config
	dir      string
	logger   *slog.Logger
	onChange func(*Config)
}

// NewLoader creates a loader for the given directory.
func NewLoader(dir string, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{dir: dir, logger: logger}
}

// OnChange registers a callback that fires when a reload succeeds.
func (l *Loader) OnChange(fn func(*Config)) {
	l.onChange = fn
}

// Load reads and merges all YAML files from the directory, validating the
// result. The previously loaded config stays active when loading fails.
func (l *Loader) Load() (*Config, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, fmt.Errorf("read config dir %s: %w", l.dir, err)
	}

	merged := &Config{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}

		path := filepath.Join(l.dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		var file File
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		merged.Sources = append(merged.Sources, file.Sources...)
		merged.Routes = append(merged.Routes, file.Routes...)
	}

	if err := merged.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	l.mu.Lock()
	l.current = merged
	l.mu.Unlock()

	return merged, nil
}

// Current returns the most recently loaded config, or nil before the
// first successful Load.
func (l *Loader) Current() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current
}

// Watch reloads on file changes until done is closed. A failed reload is
// logged and the previous config stays active.
func (l *Loader) Watch(done <-chan struct{}) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() {
		_ = watcher.Close()
	}()

	if err := watcher.Add(l.dir); err != nil {
		return fmt.Errorf("watch dir %s: %w", l.dir, err)
	}

	l.logger.Info("watching config directory", "dir", l.dir)

	for {
		select {
		case <-done:
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Remove) {
				l.logger.Info("config change detected", "file", ev.Name, "op", ev.Op)
				cfg, err := l.Load()
				if err != nil {
					l.logger.Error("reload failed, keeping previous config", "error", err)
					continue
				}
				if l.onChange != nil {
					l.onChange(cfg)
				}
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			l.logger.Error("watcher error", "error", err)
		}
	}
}
