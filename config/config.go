// Package config layers settings from a YAML file, NUDGE_* environment
// variables and command-line flags, in that order of increasing priority.
// API keys are never part of it; providers read them at call time.
package config

import (
	"bytes"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Provider      string        `yaml:"provider"`
	Model         string        `yaml:"model"`
	Format        string        `yaml:"format"`
	Timezone      string        `yaml:"timezone"`
	Temperature   float64       `yaml:"temperature"`
	ResetDelay    time.Duration `yaml:"reset_delay"`
	GeminiBaseURL string        `yaml:"gemini_base_url"`
	OpenAIBaseURL string        `yaml:"openai_base_url"`
	Device        string        `yaml:"device"`
	Beep          bool          `yaml:"beep"`
	Hotkey        bool          `yaml:"hotkey"`
	AutoStop      bool          `yaml:"auto_stop"`
	DebugAddr     string        `yaml:"debug_addr"`
	LogPath       string        `yaml:"log_path"`
}

var (
	Providers = []string{"gemini", "openai", "fake"}
	Formats   = []string{"flac", "wav"}
)

func Default() Config {
	return Config{
		Provider:    "gemini",
		Temperature: 0.1,
		ResetDelay:  2 * time.Second,
		Beep:        true,
		Hotkey:      true,
		AutoStop:    true,
	}
}

// DefaultFormat is the recording format used when none is configured.
// OpenAI only takes wav or mp3 input audio.
func DefaultFormat(provider string) string {
	if provider == "openai" {
		return "wav"
	}
	return "flac"
}

// FillDefaults resolves settings that depend on other settings. Call it
// after every layer has been applied.
func (c *Config) FillDefaults() {
	if c.Format == "" {
		c.Format = DefaultFormat(c.Provider)
	}
}

// LookupFunc matches os.LookupEnv.
type LookupFunc func(string) (string, bool)

// DefaultPath is the config file used when neither -config nor
// NUDGE_CONFIG is set.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "nudge", "config.yaml")
}

// Load reads the YAML file at path (or NUDGE_CONFIG, or DefaultPath) over
// the defaults and then applies the environment. A missing default file is
// not an error; a missing explicit one is.
func Load(path string, lookup LookupFunc) (Config, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	c := Default()

	explicit := true
	if path == "" {
		if p, ok := lookup("NUDGE_CONFIG"); ok && p != "" {
			path = p
		} else {
			path = DefaultPath()
			explicit = false
		}
	}
	if path != "" {
		if err := c.loadFile(path, explicit); err != nil {
			return c, err
		}
	}
	if err := c.applyEnv(lookup); err != nil {
		return c, err
	}
	return c, nil
}

func (c *Config) loadFile(path string, explicit bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !explicit {
			return nil
		}
		return fmt.Errorf("read config file: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv(lookup LookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	str("NUDGE_PROVIDER", &c.Provider)
	str("NUDGE_MODEL", &c.Model)
	str("NUDGE_FORMAT", &c.Format)
	str("NUDGE_TZ", &c.Timezone)
	str("NUDGE_DEVICE", &c.Device)
	str("NUDGE_DEBUG_ADDR", &c.DebugAddr)
	str("NUDGE_LOG_PATH", &c.LogPath)
	str("NUDGE_GEMINI_BASE_URL", &c.GeminiBaseURL)
	str("NUDGE_OPENAI_BASE_URL", &c.OpenAIBaseURL)

	if v, ok := lookup("NUDGE_RESET_DELAY"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("NUDGE_RESET_DELAY: %w", err)
		}
		c.ResetDelay = d
	}
	if v, ok := lookup("NUDGE_TEMPERATURE"); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("NUDGE_TEMPERATURE: %w", err)
		}
		c.Temperature = f
	}
	return nil
}

func (c Config) Validate() error {
	var errs []error
	if !slices.Contains(Providers, c.Provider) {
		errs = append(errs, fmt.Errorf("provider %q: want one of %s", c.Provider, strings.Join(Providers, ", ")))
	}
	format := c.Format
	if format == "" {
		format = DefaultFormat(c.Provider)
	}
	if !slices.Contains(Formats, format) {
		errs = append(errs, fmt.Errorf("format %q: want one of %s", format, strings.Join(Formats, ", ")))
	} else if c.Provider == "openai" && format != "wav" {
		errs = append(errs, fmt.Errorf("format %q: openai accepts wav recordings only", format))
	}
	if c.ResetDelay <= 0 {
		errs = append(errs, fmt.Errorf("reset_delay must be positive, got %s", c.ResetDelay))
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		errs = append(errs, fmt.Errorf("temperature must be within [0, 2], got %g", c.Temperature))
	}
	if c.Timezone != "" {
		if _, err := time.LoadLocation(c.Timezone); err != nil {
			errs = append(errs, fmt.Errorf("timezone %q: %w", c.Timezone, err))
		}
	}
	return errors.Join(errs...)
}

// ResolveTimezone returns an IANA name: the configured value, else TZ,
// else the /etc/localtime link target, else "UTC".
func (c Config) ResolveTimezone(lookup LookupFunc) string {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	return resolveTimezone(c.Timezone, lookup, os.Readlink)
}

func resolveTimezone(explicit string, lookup LookupFunc, readlink func(string) (string, error)) string {
	var candidates []string
	candidates = append(candidates, explicit)
	if tz, ok := lookup("TZ"); ok {
		candidates = append(candidates, strings.TrimPrefix(tz, ":"))
	}
	if target, err := readlink("/etc/localtime"); err == nil {
		if _, name, ok := strings.Cut(target, "zoneinfo/"); ok {
			candidates = append(candidates, name)
		}
	}
	for _, name := range candidates {
		name = strings.TrimSpace(name)
		if name == "" || name == "Local" {
			continue
		}
		if _, err := time.LoadLocation(name); err == nil {
			return name
		}
	}
	return "UTC"
}

// Flags registers command-line overrides. Only flags that were actually
// set are applied, so file and environment values survive.
type Flags struct {
	fs         *flag.FlagSet
	v          Config
	configPath string
}

func RegisterFlags(fs *flag.FlagSet) *Flags {
	d := Default()
	f := &Flags{fs: fs}
	fs.StringVar(&f.configPath, "config", "", "path to YAML config (default "+DefaultPath()+")")
	fs.StringVar(&f.v.Provider, "provider", d.Provider, "inference provider: "+strings.Join(Providers, ", "))
	fs.StringVar(&f.v.Model, "model", "", "model name (provider default when empty)")
	fs.StringVar(&f.v.Format, "format", "", "recording format: "+strings.Join(Formats, ", ")+" (default flac, wav for openai)")
	fs.StringVar(&f.v.Timezone, "tz", "", "IANA timezone used to resolve relative times")
	fs.Float64Var(&f.v.Temperature, "temperature", d.Temperature, "sampling temperature")
	fs.DurationVar(&f.v.ResetDelay, "reset-delay", d.ResetDelay, "time before a result returns to idle")
	fs.StringVar(&f.v.Device, "device", "", "capture device name")
	fs.BoolVar(&f.v.Beep, "beep", d.Beep, "audible cues")
	fs.BoolVar(&f.v.Hotkey, "hotkey", d.Hotkey, "global Ctrl+Shift+R recording hotkey")
	fs.BoolVar(&f.v.AutoStop, "auto-stop", d.AutoStop, "stop recording after 30s of silence")
	fs.StringVar(&f.v.DebugAddr, "debug-addr", "", "serve pprof and /metrics on this address")
	fs.StringVar(&f.v.LogPath, "logpath", "", "log directory")
	return f
}

func (f *Flags) ConfigPath() string { return f.configPath }

func (f *Flags) Apply(c *Config) {
	f.fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "provider":
			c.Provider = f.v.Provider
		case "model":
			c.Model = f.v.Model
		case "format":
			c.Format = f.v.Format
		case "tz":
			c.Timezone = f.v.Timezone
		case "temperature":
			c.Temperature = f.v.Temperature
		case "reset-delay":
			c.ResetDelay = f.v.ResetDelay
		case "device":
			c.Device = f.v.Device
		case "beep":
			c.Beep = f.v.Beep
		case "hotkey":
			c.Hotkey = f.v.Hotkey
		case "auto-stop":
			c.AutoStop = f.v.AutoStop
		case "debug-addr":
			c.DebugAddr = f.v.DebugAddr
		case "logpath":
			c.LogPath = f.v.LogPath
		}
	})
}
