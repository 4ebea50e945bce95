package config

import (
	"errors"
	"flag"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(m map[string]string) LookupFunc {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope", "config.yaml")
	t.Setenv("XDG_CONFIG_HOME", filepath.Dir(filepath.Dir(missing)))
	c, err := Load("", env(nil))
	require.NoError(t, err)
	assert.Equal(t, Default(), c)
	assert.NoError(t, c.Validate())
}

func TestLoadFileThenEnv(t *testing.T) {
	path := writeConfig(t, `
provider: openai
model: gpt-4o-audio-preview
format: wav
timezone: Europe/Berlin
reset_delay: 5s
beep: false
`)
	c, err := Load(path, env(map[string]string{
		"NUDGE_MODEL":       "gpt-4o-mini-audio-preview",
		"NUDGE_RESET_DELAY": "3s",
	}))
	require.NoError(t, err)

	assert.Equal(t, "openai", c.Provider)
	assert.Equal(t, "gpt-4o-mini-audio-preview", c.Model, "env overrides file")
	assert.Equal(t, "wav", c.Format)
	assert.Equal(t, "Europe/Berlin", c.Timezone)
	assert.Equal(t, 3*time.Second, c.ResetDelay)
	assert.False(t, c.Beep)
	assert.True(t, c.Hotkey, "unset keys keep defaults")
}

func TestLoadConfigFromEnvPath(t *testing.T) {
	path := writeConfig(t, "provider: fake\n")
	c, err := Load("", env(map[string]string{"NUDGE_CONFIG": path}))
	require.NoError(t, err)
	assert.Equal(t, "fake", c.Provider)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), env(nil))
	assert.ErrorContains(t, err, "read config file")

	_, err = Load(writeConfig(t, "provder: gemini\n"), env(nil))
	assert.ErrorContains(t, err, "provder")

	_, err = Load(writeConfig(t, "reset_delay: soon\n"), env(nil))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, ""), env(map[string]string{"NUDGE_TEMPERATURE": "warm"}))
	assert.ErrorContains(t, err, "NUDGE_TEMPERATURE")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		msg    string
	}{
		{"provider", func(c *Config) { c.Provider = "bard" }, "provider"},
		{"format", func(c *Config) { c.Format = "mp3" }, "format"},
		{"reset delay", func(c *Config) { c.ResetDelay = 0 }, "reset_delay"},
		{"temperature", func(c *Config) { c.Temperature = 3 }, "temperature"},
		{"timezone", func(c *Config) { c.Timezone = "Mars/Base" }, "timezone"},
		{"openai flac", func(c *Config) { c.Provider, c.Format = "openai", "flac" }, "openai accepts wav"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(&c)
			assert.ErrorContains(t, c.Validate(), tt.msg)
		})
	}
}

func TestFormatFollowsProvider(t *testing.T) {
	tests := []struct {
		provider, format, want string
	}{
		{"gemini", "", "flac"},
		{"fake", "", "flac"},
		{"openai", "", "wav"},
		{"gemini", "wav", "wav"},
		{"openai", "wav", "wav"},
	}
	for _, tt := range tests {
		t.Run(tt.provider+"/"+tt.want, func(t *testing.T) {
			c := Default()
			c.Provider, c.Format = tt.provider, tt.format
			require.NoError(t, c.Validate())
			c.FillDefaults()
			assert.Equal(t, tt.want, c.Format)
			assert.NoError(t, c.Validate())
		})
	}
}

func TestOpenAIFromFlagGetsWav(t *testing.T) {
	fs := flag.NewFlagSet("nudge", flag.ContinueOnError)
	f := RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{"-provider", "openai"}))

	c, err := Load(writeConfig(t, "beep: false\n"), env(nil))
	require.NoError(t, err)
	f.Apply(&c)
	c.FillDefaults()

	assert.Equal(t, "wav", c.Format)
	assert.NoError(t, c.Validate())
}

func TestResolveTimezone(t *testing.T) {
	link := func(target string) func(string) (string, error) {
		return func(string) (string, error) {
			if target == "" {
				return "", errors.New("not a link")
			}
			return target, nil
		}
	}
	tests := []struct {
		name     string
		explicit string
		env      map[string]string
		link     string
		want     string
	}{
		{"explicit wins", "Asia/Tokyo", map[string]string{"TZ": "Europe/Paris"}, "/usr/share/zoneinfo/America/Chicago", "Asia/Tokyo"},
		{"TZ", "", map[string]string{"TZ": "Europe/Paris"}, "/usr/share/zoneinfo/America/Chicago", "Europe/Paris"},
		{"TZ with colon", "", map[string]string{"TZ": ":Europe/Paris"}, "", "Europe/Paris"},
		{"localtime link", "", nil, "/usr/share/zoneinfo/America/Chicago", "America/Chicago"},
		{"invalid TZ skipped", "", map[string]string{"TZ": "Nowhere"}, "/var/db/timezone/zoneinfo/America/Chicago", "America/Chicago"},
		{"fallback", "", nil, "", "UTC"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, resolveTimezone(tt.explicit, env(tt.env), link(tt.link)))
		})
	}
}

func TestFlagsOverrideOnlyWhenSet(t *testing.T) {
	fs := flag.NewFlagSet("nudge", flag.ContinueOnError)
	f := RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{"-format", "wav", "-beep=false", "-config", "/tmp/x.yaml"}))

	c := Default()
	c.Provider = "openai" // from file or env
	f.Apply(&c)

	assert.Equal(t, "openai", c.Provider, "unset flag keeps lower layer")
	assert.Equal(t, "wav", c.Format)
	assert.False(t, c.Beep)
	assert.Equal(t, "/tmp/x.yaml", f.ConfigPath())
}
