package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/synzen/feedtracker/pkg/domain"
)

//go:generate go run ../../cmd/schema/main.go schema.json

// strategy names accepted by schedules
const (
	StrategyConcurrent = "concurrent"
	StrategyIsolated   = "isolated"
)

// reservedSchedule is the name of the implicit schedule built from default_schedule
const reservedSchedule = "default"

// Config holds the application configuration
type Config struct {
	Server struct {
		Disabled bool          `yaml:"disabled" json:"disabled,omitempty" jsonschema:"default=false,description=Do not start the HTTP server"`
		Listen   string        `yaml:"listen" json:"listen" jsonschema:"default=:8080,description=HTTP server listen address"`
		Timeout  time.Duration `yaml:"timeout" json:"timeout" jsonschema:"default=30s,description=HTTP server timeout"`
		BaseURL  string        `yaml:"base_url" json:"base_url" jsonschema:"default=http://localhost:8080,description=Base URL for generated RSS and OPML links"`
	} `yaml:"server" json:"server" jsonschema:"description=Server configuration"`

	Database struct {
		Disabled         bool          `yaml:"disabled" json:"disabled,omitempty" jsonschema:"default=false,description=Keep seen-sets in memory only"`
		DSN              string        `yaml:"dsn" json:"dsn" jsonschema:"default=file:feedtracker.db?cache=shared&mode=rwc,description=Database connection string"`
		MaxOpenConns     int           `yaml:"max_open_conns" json:"max_open_conns" jsonschema:"default=10,description=Maximum number of open connections"`
		MaxIdleConns     int           `yaml:"max_idle_conns" json:"max_idle_conns" jsonschema:"default=5,description=Maximum number of idle connections"`
		ConnMaxLifetime  int           `yaml:"conn_max_lifetime" json:"conn_max_lifetime" jsonschema:"default=3600,description=Connection maximum lifetime in seconds"`
		ArticleRetention time.Duration `yaml:"article_retention" json:"article_retention" jsonschema:"default=168h,description=How long emitted articles are kept"`
	} `yaml:"database" json:"database" jsonschema:"description=Database configuration"`

	Fetch FetchConfig `yaml:"fetch" json:"fetch" jsonschema:"description=Default feed fetch settings"`

	Article ArticleConfig `yaml:"article" json:"article" jsonschema:"description=Default article formatting"`

	DefaultSchedule ScheduleConfig   `yaml:"default_schedule" json:"default_schedule" jsonschema:"description=Schedule used by feeds without an explicit schedule"`
	Schedules       []ScheduleConfig `yaml:"schedules" json:"schedules,omitempty" jsonschema:"description=Additional named schedules"`

	Feeds []FeedConfig `yaml:"feeds" json:"feeds" jsonschema:"description=Polled feeds"`
}

// FetchConfig holds defaults for feed requests
type FetchConfig struct {
	Timeout    time.Duration `yaml:"timeout" json:"timeout" jsonschema:"default=20s,description=Request timeout per attempt"`
	UserAgent  string        `yaml:"user_agent" json:"user_agent" jsonschema:"description=User agent for feed requests"`
	Retries    int           `yaml:"retries" json:"retries" jsonschema:"default=2,minimum=0,description=Retries for transient failures"`
	RetryDelay time.Duration `yaml:"retry_delay" json:"retry_delay" jsonschema:"default=500ms,description=Initial backoff between retries"`
}

// ArticleConfig holds defaults for article formatting
type ArticleConfig struct {
	Timezone            string `yaml:"timezone" json:"timezone" jsonschema:"default=UTC,description=IANA timezone for formatted dates"`
	DateFormat          string `yaml:"date_format" json:"date_format" jsonschema:"description=Go time layout for formatted dates"`
	FormatTables        bool   `yaml:"format_tables" json:"format_tables" jsonschema:"default=false,description=Render HTML tables as text tables"`
	ImageLinksExistence *bool  `yaml:"image_links_existence" json:"image_links_existence,omitempty" jsonschema:"default=true,description=Keep image links in text"`
}

// ScheduleConfig defines a named polling schedule
type ScheduleConfig struct {
	Name           string        `yaml:"name" json:"name" jsonschema:"description=Schedule name"`
	Interval       time.Duration `yaml:"interval" json:"interval" jsonschema:"default=10m,description=Time between cycles"`
	Strategy       string        `yaml:"strategy" json:"strategy" jsonschema:"enum=concurrent,enum=isolated,default=concurrent,description=Worker strategy"`
	BatchSize      int           `yaml:"batch_size" json:"batch_size" jsonschema:"default=300,minimum=0,description=Feeds per batch"`
	Concurrency    int           `yaml:"concurrency" json:"concurrency" jsonschema:"default=2,description=Worker processes for the isolated strategy"`
	MaxConcurrent  int           `yaml:"max_concurrent" json:"max_concurrent" jsonschema:"default=0,description=Concurrent fetches per batch for the concurrent strategy (0 means unbounded)"`
	PerFeedTimeout time.Duration `yaml:"per_feed_timeout" json:"per_feed_timeout" jsonschema:"default=30s,description=Worker time allowance per feed"`
}

// FeedConfig describes one polled feed
type FeedConfig struct {
	URL               string            `yaml:"url" json:"url" jsonschema:"required,description=Feed URL"`
	Schedule          string            `yaml:"schedule" json:"schedule,omitempty" jsonschema:"description=Schedule name (default schedule when empty)"`
	CheckTitles       bool              `yaml:"check_titles" json:"check_titles,omitempty" jsonschema:"description=Treat entries with a known title as seen"`
	CheckDates        *bool             `yaml:"check_dates" json:"check_dates,omitempty" jsonschema:"default=true,description=Treat entries older than a day as seen"`
	CustomComparisons []string          `yaml:"custom_comparisons" json:"custom_comparisons,omitempty" jsonschema:"description=Entry fields that mark an entry as seen when known"`
	Headers           map[string]string `yaml:"headers" json:"headers,omitempty" jsonschema:"description=Extra request headers"`
	UserAgent         string            `yaml:"user_agent" json:"user_agent,omitempty" jsonschema:"description=User agent override"`
	Timeout           time.Duration     `yaml:"timeout" json:"timeout,omitempty" jsonschema:"description=Request timeout override"`
	Retries           int               `yaml:"retries" json:"retries,omitempty" jsonschema:"description=Retries override"`

	Timezone            string                      `yaml:"timezone" json:"timezone,omitempty" jsonschema:"description=Timezone override"`
	DateFormat          string                      `yaml:"date_format" json:"date_format,omitempty" jsonschema:"description=Date format override"`
	FormatTables        *bool                       `yaml:"format_tables" json:"format_tables,omitempty" jsonschema:"description=Table formatting override"`
	ImageLinksExistence *bool                       `yaml:"image_links_existence" json:"image_links_existence,omitempty" jsonschema:"description=Image links override"`
	RegexOps            map[string][]domain.RegexOp `yaml:"regex_ops" json:"regex_ops,omitempty" jsonschema:"description=Regex operations keyed by placeholder"`
	DisabledRegex       []string                    `yaml:"disabled_regex" json:"disabled_regex,omitempty" jsonschema:"description=Placeholders whose regex ops are skipped"`
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // file path comes from CLI flag
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes, defaults and validates a YAML configuration
func Parse(data []byte) (*Config, error) {
	// expand environment variables
	expanded := []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(expanded, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.setDefaults()

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	// unknown keys only warn, the config still loads
	if err := VerifyAgainstEmbeddedSchema(expanded); err != nil {
		fmt.Fprintf(os.Stderr, "warning: schema validation failed: %v\n", err)
	}

	return &cfg, nil
}

func (c *Config) setDefaults() {
	// server
	if c.Server.Listen == "" {
		c.Server.Listen = ":8080"
	}
	if c.Server.Timeout == 0 {
		c.Server.Timeout = 30 * time.Second
	}
	if c.Server.BaseURL == "" {
		c.Server.BaseURL = "http://localhost" + c.Server.Listen
		if !strings.HasPrefix(c.Server.Listen, ":") {
			c.Server.BaseURL = "http://" + c.Server.Listen
		}
	}

	// database
	if c.Database.DSN == "" {
		c.Database.DSN = "file:feedtracker.db?cache=shared&mode=rwc&_txlock=immediate"
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 10
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 5
	}
	if c.Database.ConnMaxLifetime == 0 {
		c.Database.ConnMaxLifetime = 3600
	}
	if c.Database.ArticleRetention == 0 {
		c.Database.ArticleRetention = 7 * 24 * time.Hour
	}

	// fetch
	if c.Fetch.Timeout == 0 {
		c.Fetch.Timeout = 20 * time.Second
	}
	if c.Fetch.RetryDelay == 0 {
		c.Fetch.RetryDelay = 500 * time.Millisecond
	}

	// article
	if c.Article.Timezone == "" {
		c.Article.Timezone = "UTC"
	}

	// schedules
	if c.DefaultSchedule.Interval == 0 {
		c.DefaultSchedule.Interval = 10 * time.Minute
	}
	c.DefaultSchedule.Name = reservedSchedule
	c.DefaultSchedule.fill(c.DefaultSchedule.Interval)
	for i := range c.Schedules {
		c.Schedules[i].fill(c.DefaultSchedule.Interval)
	}
}

func (s *ScheduleConfig) fill(interval time.Duration) {
	if s.Interval == 0 {
		s.Interval = interval
	}
	if s.Strategy == "" {
		s.Strategy = StrategyConcurrent
	}
	s.Strategy = strings.ToLower(s.Strategy)
	if s.BatchSize == 0 {
		s.BatchSize = 300
	}
	if s.Concurrency == 0 {
		s.Concurrency = 2
	}
	if s.PerFeedTimeout == 0 {
		s.PerFeedTimeout = 30 * time.Second
	}
}

// validate checks configuration for correctness
func validate(cfg *Config) error {
	if cfg.Server.Timeout < time.Second {
		return fmt.Errorf("server timeout must be at least 1 second")
	}
	if cfg.Fetch.Retries < 0 {
		return fmt.Errorf("fetch.retries must be non-negative")
	}

	names := map[string]bool{reservedSchedule: true}
	if err := validateSchedule(cfg.DefaultSchedule); err != nil {
		return fmt.Errorf("default_schedule: %w", err)
	}
	for i, s := range cfg.Schedules {
		if s.Name == "" {
			return fmt.Errorf("schedules[%d]: name is required", i)
		}
		if s.Name == reservedSchedule {
			return fmt.Errorf("schedules[%d]: name %q is reserved", i, reservedSchedule)
		}
		if names[s.Name] {
			return fmt.Errorf("schedules[%d]: duplicate name %q", i, s.Name)
		}
		names[s.Name] = true
		if err := validateSchedule(s); err != nil {
			return fmt.Errorf("schedule %q: %w", s.Name, err)
		}
	}

	// snapshots are keyed by schedule and url
	type feedKey struct{ schedule, url string }
	feeds := make(map[feedKey]int, len(cfg.Feeds))
	for i, f := range cfg.Feeds {
		if strings.TrimSpace(f.URL) == "" {
			return fmt.Errorf("feeds[%d]: url is required", i)
		}
		if f.Schedule != "" && !names[f.Schedule] {
			return fmt.Errorf("feeds[%d]: unknown schedule %q", i, f.Schedule)
		}
		key := feedKey{f.ScheduleName(), f.URL}
		if prev, ok := feeds[key]; ok {
			return fmt.Errorf("feeds[%d]: duplicate url %q on schedule %q, already in feeds[%d]", i, f.URL, key.schedule, prev)
		}
		feeds[key] = i
		if f.Retries < 0 {
			return fmt.Errorf("feeds[%d]: retries must be non-negative", i)
		}
	}

	return nil
}

func validateSchedule(s ScheduleConfig) error {
	if s.Interval <= 0 {
		return fmt.Errorf("interval must be positive")
	}
	if s.Strategy != StrategyConcurrent && s.Strategy != StrategyIsolated {
		return fmt.Errorf("unknown strategy %q", s.Strategy)
	}
	if s.BatchSize < 0 {
		return fmt.Errorf("batch_size must be non-negative")
	}
	if s.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1")
	}
	if s.MaxConcurrent < 0 {
		return fmt.Errorf("max_concurrent must be non-negative")
	}
	return nil
}

// ScheduleName returns the schedule a feed belongs to
func (f FeedConfig) ScheduleName() string {
	if f.Schedule == "" {
		return reservedSchedule
	}
	return f.Schedule
}

// Options converts the feed settings into record options
func (f FeedConfig) Options() domain.FeedOptions {
	return domain.FeedOptions{
		CheckTitles:       f.CheckTitles,
		CheckDates:        f.CheckDates,
		CustomComparisons: f.CustomComparisons,
		Fetch: domain.FetchOptions{
			Headers:   f.Headers,
			UserAgent: f.UserAgent,
			Timeout:   f.Timeout,
			Retries:   f.Retries,
		},
		Timezone:            f.Timezone,
		DateFormat:          f.DateFormat,
		FormatTables:        f.FormatTables,
		ImageLinksExistence: f.ImageLinksExistence,
		RegexOps:            f.RegexOps,
		DisabledRegex:       f.DisabledRegex,
	}
}

// AllSchedules returns the default schedule followed by the named ones
func (c *Config) AllSchedules() []ScheduleConfig {
	return append([]ScheduleConfig{c.DefaultSchedule}, c.Schedules...)
}

// ImageLinks reports whether image links are kept in article text by default
func (a ArticleConfig) ImageLinks() bool {
	return a.ImageLinksExistence == nil || *a.ImageLinksExistence
}

// GetServerConfig returns server configuration
func (c *Config) GetServerConfig() (listen string, timeout time.Duration) {
	return c.Server.Listen, c.Server.Timeout
}
