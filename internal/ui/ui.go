// Package ui renders agentmem command output for terminals and pipes.
package ui

import (
	"encoding/json"
	"io"
	"os"

	"github.com/mattn/go-isatty"
)

// Format selects how a Renderer writes results.
type Format string

const (
	// FormatText is human-readable, colored when the output is a terminal.
	FormatText Format = "text"
	// FormatJSON is indented JSON for scripts.
	FormatJSON Format = "json"
)

// ParseFormat maps a --format flag value to a Format. Unknown values fall
// back to text.
func ParseFormat(s string) Format {
	if Format(s) == FormatJSON {
		return FormatJSON
	}
	return FormatText
}

// Config configures a Renderer.
type Config struct {
	Output  io.Writer
	NoColor bool
	Format  Format
}

// ConfigOption is a function that modifies Config.
type ConfigOption func(*Config)

// WithNoColor disables color output.
func WithNoColor(noColor bool) ConfigOption {
	return func(c *Config) {
		c.NoColor = noColor
	}
}

// WithFormat sets the output format.
func WithFormat(f Format) ConfigOption {
	return func(c *Config) {
		c.Format = f
	}
}

// NewConfig creates a Config for output. Color is turned off for pipes,
// CI runs and when NO_COLOR is set, whatever the options say.
func NewConfig(output io.Writer, opts ...ConfigOption) Config {
	cfg := Config{
		Output: output,
		Format: FormatText,
	}

	for _, opt := range opts {
		opt(&cfg)
	}

	if !IsTTY(output) || DetectNoColor() || DetectCI() {
		cfg.NoColor = true
	}

	return cfg
}

// IsTTY checks if output is a terminal.
func IsTTY(w io.Writer) bool {
	if w == nil {
		return false
	}

	if f, ok := w.(*os.File); ok {
		return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}

	return false
}

// DetectNoColor checks if NO_COLOR environment variable is set.
func DetectNoColor() bool {
	_, exists := os.LookupEnv("NO_COLOR")
	return exists
}

// DetectCI checks if running in a CI environment.
func DetectCI() bool {
	ciVars := []string{"CI", "GITHUB_ACTIONS", "GITLAB_CI", "JENKINS_URL", "TRAVIS"}
	for _, v := range ciVars {
		if _, exists := os.LookupEnv(v); exists {
			return true
		}
	}
	return false
}

func writeJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
