// Package inference turns a typed or spoken reminder into reminder.Data by
// asking a hosted language model for structured output.
package inference

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"nudge/reminder"
)

const DefaultTemperature = 0.1

// Audio is an encoded recording, base64 without a data: prefix.
type Audio struct {
	Data     string
	MIMEType string
}

// Input is either Text or Audio.
type Input struct {
	Text  string
	Audio *Audio
}

func TextInput(s string) Input { return Input{Text: s} }

func AudioInput(base64Data, mimeType string) Input {
	return Input{Audio: &Audio{Data: base64Data, MIMEType: mimeType}}
}

func (in Input) IsAudio() bool { return in.Audio != nil }

// Kind is "audio" or "text".
func (in Input) Kind() string {
	if in.IsAudio() {
		return "audio"
	}
	return "text"
}

// RawText is the literal text, or AudioPlaceholder for audio.
func (in Input) RawText() string {
	if in.IsAudio() {
		return AudioPlaceholder
	}
	return in.Text
}

func (in Input) validate() error {
	if in.IsAudio() {
		if in.Audio.Data == "" || in.Audio.MIMEType == "" {
			return ErrEmptyInput
		}
		return nil
	}
	if strings.TrimSpace(in.Text) == "" {
		return ErrEmptyInput
	}
	return nil
}

type Result struct {
	Data    reminder.Data
	RawText string
	Metrics *NetworkMetrics // nil for offline providers
}

type Client interface {
	Name() string
	Model() string
	ParseInput(ctx context.Context, in Input) (Result, error)
}

// KeyFunc returns the API key at call time; "" means not configured.
type KeyFunc func() string

func EnvKey(name string) KeyFunc {
	return func() string { return strings.TrimSpace(os.Getenv(name)) }
}

type Config struct {
	Provider    string // "gemini", "openai" or "fake"
	Model       string
	BaseURL     string
	Temperature float64
	Timezone    string // IANA identifier
	Key         KeyFunc
	Transport   http.RoundTripper
	Now         func() time.Time
}

// Providers lists the names accepted by New.
var Providers = []string{"gemini", "openai", "fake"}

func New(cfg Config) (Client, error) {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	switch cfg.Provider {
	case "gemini", "":
		if cfg.Key == nil {
			cfg.Key = EnvKey("GEMINI_API_KEY")
		}
		return NewGemini(cfg), nil
	case "openai":
		if cfg.Key == nil {
			cfg.Key = EnvKey("OPENAI_API_KEY")
		}
		return NewOpenAI(cfg), nil
	case "fake":
		return NewEcho(cfg.Timezone, cfg.Now), nil
	}
	return nil, fmt.Errorf("unknown provider %q (want one of %s)", cfg.Provider, strings.Join(Providers, ", "))
}

// prepare runs the checks every backend performs before touching the
// network and returns the key and the user's location.
func prepare(provider string, in Input, key KeyFunc, tz string) (string, *time.Location, error) {
	if err := in.validate(); err != nil {
		return "", nil, newError(provider, 0, "", err)
	}
	k := ""
	if key != nil {
		k = key()
	}
	if k == "" {
		return "", nil, fmt.Errorf("%s: %w", provider, ErrMissingCredential)
	}
	loc, err := loadTimezone(tz)
	if err != nil {
		return "", nil, newError(provider, 0, "", err)
	}
	return k, loc, nil
}

// decode validates the model's JSON text against the reminder schema.
func decode(provider string, status int, text string) (reminder.Data, error) {
	if strings.TrimSpace(text) == "" {
		return reminder.Data{}, newError(provider, status, "", ErrNoCandidate)
	}
	d, err := reminder.Decode([]byte(stripFence(text)))
	if err != nil {
		return reminder.Data{}, newError(provider, status, "malformed structured response", err)
	}
	return d, nil
}

// stripFence removes a ```json fence some models wrap around structured
// output despite the response MIME type.
func stripFence(s string) string {
	t := strings.TrimSpace(s)
	if !strings.HasPrefix(t, "```") {
		return s
	}
	t = strings.TrimPrefix(t, "```")
	t = strings.TrimPrefix(t, "json")
	t = strings.TrimSuffix(strings.TrimSpace(t), "```")
	return t
}
