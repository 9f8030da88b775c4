// Package base holds what every input module shares: options, settings
// and the HTTP client handle.
package base

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/biodumpy/internal/biodumpy"
	"github.com/JakeFAU/biodumpy/internal/httpclient"
)

// Options are the per-module settings every configuration section accepts.
type Options struct {
	BaseURL      string        `mapstructure:"base_url"`
	Bulk         bool          `mapstructure:"bulk"`
	OutputFormat string        `mapstructure:"output_format"`
	Sleep        time.Duration `mapstructure:"sleep"`
}

// Deps are the shared collaborators handed to module constructors.
type Deps struct {
	Client *httpclient.Client
	Logger *zap.Logger
}

// Module implements the Name and Settings halves of biodumpy.Input.
type Module struct {
	name     string
	settings biodumpy.Settings
	BaseURL  string
	Client   *httpclient.Client
	Logger   *zap.Logger
}

// RecordFormats are the formats every record-producing module can write.
var RecordFormats = []biodumpy.OutputFormat{biodumpy.FormatJSON, biodumpy.FormatCSV}

// New validates opts against the formats the module can write; with no
// allowed list it accepts RecordFormats.
func New(name string, opts Options, defaultBaseURL string, deps Deps, allowed ...biodumpy.OutputFormat) (Module, error) {
	format, err := biodumpy.ParseOutputFormat(opts.OutputFormat)
	if err != nil {
		return Module{}, fmt.Errorf("%s: %w", name, err)
	}
	if len(allowed) == 0 {
		allowed = RecordFormats
	}
	if !contains(allowed, format) {
		return Module{}, fmt.Errorf("%s: invalid output_format %q, expected %s", name, format, joinFormats(allowed))
	}
	if opts.Sleep < 0 {
		return Module{}, fmt.Errorf("%s: sleep must be >= 0", name)
	}
	client := deps.Client
	if client == nil {
		client = httpclient.New(httpclient.Config{}, nil, deps.Logger)
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return Module{
		name:     name,
		settings: biodumpy.Settings{Format: format, Bulk: opts.Bulk, Sleep: opts.Sleep},
		BaseURL:  baseURL,
		Client:   client,
		Logger:   logger.Named(name),
	}, nil
}

// Name returns the registry name.
func (m Module) Name() string { return m.name }

// Settings returns the shared settings.
func (m Module) Settings() biodumpy.Settings { return m.settings }

// URL joins path segments onto the base URL.
func (m Module) URL(segments ...string) string {
	return m.BaseURL + "/" + strings.Join(segments, "/")
}

func contains(formats []biodumpy.OutputFormat, f biodumpy.OutputFormat) bool {
	for _, candidate := range formats {
		if candidate == f {
			return true
		}
	}
	return false
}

func joinFormats(formats []biodumpy.OutputFormat) string {
	names := make([]string, len(formats))
	for i, f := range formats {
		names[i] = string(f)
	}
	if len(names) < 2 {
		return strings.Join(names, "")
	}
	return strings.Join(names[:len(names)-1], ", ") + " or " + names[len(names)-1]
}
