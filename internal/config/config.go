// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads configuration from config.yaml and environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
	// Zone database for distroless images without /usr/share/zoneinfo.
	_ "time/tzdata"

	"gopkg.in/yaml.v3"
)

// GraphConfig holds the mailbox connection settings.
type GraphConfig struct {
	BaseURL string
	// Mailbox selects /users/{Mailbox}; empty searches /me with a delegated token.
	Mailbox string

	// App-only credentials, used when no bearer token is passed in.
	TenantID     string
	ClientID     string
	ClientSecret string

	PageSize   int
	MaxRetries int
	RetryDelay time.Duration
}

// HasAppCredentials reports whether client credentials are configured.
func (g GraphConfig) HasAppCredentials() bool {
	return g.TenantID != "" && g.ClientID != "" && g.ClientSecret != ""
}

// Config holds all configuration for the tax report service.
type Config struct {
	Graph GraphConfig

	// Subjects searched when a request names none.
	DefaultSubjects []string

	// Report rendering. An empty RendererURL bundles HTML documents.
	RendererURL   string
	RenderTimeout time.Duration
	Timezone      string

	// Redis (optional, in-flight guard only)
	RedisURL    string
	InflightTTL time.Duration

	Port     int
	LogLevel string
}

// rawConfig mirrors the YAML structure for unmarshalling.
type rawConfig struct {
	Server struct {
		Port     int    `yaml:"port"`
		LogLevel string `yaml:"log_level"`
	} `yaml:"server"`
	Graph struct {
		BaseURL      string `yaml:"base_url"`
		Mailbox      string `yaml:"mailbox"`
		TenantID     string `yaml:"tenant_id"`
		ClientID     string `yaml:"client_id"`
		ClientSecret string `yaml:"client_secret"`
		PageSize     int    `yaml:"page_size"`
		MaxRetries   *int   `yaml:"max_retries"`
		RetryDelay   string `yaml:"retry_delay"`
	} `yaml:"graph"`
	Search struct {
		Subjects []string `yaml:"subjects"`
	} `yaml:"search"`
	Report struct {
		RendererURL   string `yaml:"renderer_url"`
		RenderTimeout string `yaml:"render_timeout"`
		Timezone      string `yaml:"timezone"`
	} `yaml:"report"`
	Redis struct {
		URL         string `yaml:"url"`
		InflightTTL string `yaml:"inflight_ttl"`
	} `yaml:"redis"`
}

// Load reads configuration from config.yaml (with env var expansion), then
// applies environment overrides and defaults. A missing config file is not
// an error; every setting has a default or an env var.
func Load() (*Config, error) {
	configPath := envOrDefault("CONFIG_PATH", "config.yaml")

	var raw rawConfig
	data, err := os.ReadFile(configPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		slog.Debug("no config file, using environment only", "path", configPath)
	case err != nil:
		return nil, fmt.Errorf("read config file %s: %w", configPath, err)
	default:
		// Expand ${VAR} references in the YAML
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
			return nil, fmt.Errorf("parse config YAML: %w", err)
		}
	}

	return build(raw)
}

func build(raw rawConfig) (*Config, error) {
	retryDelay, err := parseDuration("graph.retry_delay", raw.Graph.RetryDelay, 500*time.Millisecond)
	if err != nil {
		return nil, err
	}
	renderTimeout, err := parseDuration("report.render_timeout", raw.Report.RenderTimeout, 60*time.Second)
	if err != nil {
		return nil, err
	}
	inflightTTL, err := parseDuration("redis.inflight_ttl", raw.Redis.InflightTTL, 10*time.Minute)
	if err != nil {
		return nil, err
	}

	maxRetries := 3
	if raw.Graph.MaxRetries != nil {
		maxRetries = *raw.Graph.MaxRetries
	}

	cfg := &Config{
		Graph: GraphConfig{
			BaseURL:      firstNonEmpty(os.Getenv("GRAPH_BASE_URL"), raw.Graph.BaseURL, "https://graph.microsoft.com/v1.0"),
			Mailbox:      firstNonEmpty(os.Getenv("GRAPH_MAILBOX"), raw.Graph.Mailbox),
			TenantID:     firstNonEmpty(os.Getenv("GRAPH_TENANT_ID"), raw.Graph.TenantID),
			ClientID:     firstNonEmpty(os.Getenv("GRAPH_CLIENT_ID"), raw.Graph.ClientID),
			ClientSecret: firstNonEmpty(os.Getenv("GRAPH_CLIENT_SECRET"), raw.Graph.ClientSecret),
			PageSize:     envOrDefaultInt("GRAPH_PAGE_SIZE", orInt(raw.Graph.PageSize, 100)),
			MaxRetries:   maxRetries,
			RetryDelay:   retryDelay,
		},
		DefaultSubjects: cleanSubjects(raw.Search.Subjects),
		RendererURL:     firstNonEmpty(os.Getenv("RENDERER_URL"), raw.Report.RendererURL),
		RenderTimeout:   renderTimeout,
		Timezone:        firstNonEmpty(os.Getenv("TIMEZONE"), raw.Report.Timezone, "Europe/Zurich"),
		RedisURL:        firstNonEmpty(os.Getenv("REDIS_URL"), raw.Redis.URL),
		InflightTTL:     inflightTTL,
		Port:            envOrDefaultInt("PORT", orInt(raw.Server.Port, 8080)),
		LogLevel:        strings.ToLower(firstNonEmpty(os.Getenv("LOG_LEVEL"), raw.Server.LogLevel, "info")),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	// Graph caps $top at 1000 for messages.
	if c.Graph.PageSize < 1 || c.Graph.PageSize > 1000 {
		return fmt.Errorf("graph.page_size must be between 1 and 1000, got %d", c.Graph.PageSize)
	}
	if c.Graph.MaxRetries < 0 {
		return fmt.Errorf("graph.max_retries must not be negative, got %d", c.Graph.MaxRetries)
	}

	set := 0
	for _, v := range []string{c.Graph.TenantID, c.Graph.ClientID, c.Graph.ClientSecret} {
		if v != "" {
			set++
		}
	}
	if set != 0 && set != 3 {
		return fmt.Errorf("graph app credentials need tenant_id, client_id and client_secret together")
	}

	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level %q", c.LogLevel)
	}
	return nil
}

// Location returns the time zone used for received timestamps.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// SlogLevel maps LogLevel to a slog level.
func (c *Config) SlogLevel() slog.Level {
	return ParseLevel(c.LogLevel)
}

// ParseLevel maps debug, info, warn and error to slog levels. Anything else
// is info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func cleanSubjects(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func parseDuration(field, v string, fallback time.Duration) (time.Duration, error) {
	if strings.TrimSpace(v) == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", field, v, err)
	}
	return d, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func orInt(v, fallback int) int {
	if v != 0 {
		return v
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
