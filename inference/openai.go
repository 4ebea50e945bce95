package inference

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
)

const (
	DefaultOpenAIBaseURL = "https://api.openai.com/v1"
	DefaultOpenAIModel   = "gpt-4o-audio-preview"
)

// OpenAI speaks the chat completions API with a strict JSON schema
// response format. Audio must be WAV or MP3.
type OpenAI struct {
	traced      *TracedClient
	baseURL     string
	model       string
	temperature float64
	timezone    string
	key         KeyFunc
	now         func() time.Time
}

func NewOpenAI(cfg Config) *OpenAI {
	o := &OpenAI{
		traced:      NewTracedClient(cfg.Transport),
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		timezone:    cfg.Timezone,
		key:         cfg.Key,
		now:         cfg.Now,
	}
	if o.baseURL == "" {
		o.baseURL = DefaultOpenAIBaseURL
	}
	if o.model == "" {
		o.model = DefaultOpenAIModel
	}
	if o.now == nil {
		o.now = time.Now
	}
	return o
}

func (o *OpenAI) Name() string  { return "openai" }
func (o *OpenAI) Model() string { return o.model }

// audioFormat maps a MIME type onto the formats input_audio accepts.
func audioFormat(mime string) (string, bool) {
	base, _, _ := strings.Cut(strings.ToLower(mime), ";")
	switch strings.TrimSpace(base) {
	case "audio/wav", "audio/x-wav", "audio/wave":
		return "wav", true
	case "audio/mpeg", "audio/mp3":
		return "mp3", true
	}
	return "", false
}

func (o *OpenAI) params(in Input, ctxBlock string) (openai.ChatCompletionNewParams, error) {
	var user openai.ChatCompletionMessageParamUnion
	if in.IsAudio() {
		format, ok := audioFormat(in.Audio.MIMEType)
		if !ok {
			return openai.ChatCompletionNewParams{}, newError(o.Name(), 0, "unsupported audio type "+in.Audio.MIMEType+" (use -format wav)", nil)
		}
		user = openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
			openai.TextContentPart(ctxBlock),
			openai.TextContentPart(transcribeInstruction),
			openai.InputAudioContentPart(openai.ChatCompletionContentPartInputAudioInputAudioParam{
				Data:   in.Audio.Data,
				Format: format,
			}),
		})
	} else {
		user = openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
			openai.TextContentPart(ctxBlock),
			openai.TextContentPart("Reminder: " + in.Text),
		})
	}

	return openai.ChatCompletionNewParams{
		Model: shared.ChatModel(o.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemInstruction),
			user,
		},
		Temperature: openai.Float(o.temperature),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{
				JSONSchema: shared.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   "reminder",
					Strict: openai.Bool(true),
					Schema: reminderSchema(func(s string) string { return s }, true),
				},
			},
		},
	}, nil
}

func (o *OpenAI) ParseInput(ctx context.Context, in Input) (Result, error) {
	key, loc, err := prepare(o.Name(), in, o.key, o.timezone)
	if err != nil {
		return Result{}, err
	}
	params, err := o.params(in, contextBlock(o.now(), loc))
	if err != nil {
		return Result{}, err
	}

	client := openai.NewClient(
		option.WithAPIKey(key),
		option.WithBaseURL(o.baseURL),
		option.WithHTTPClient(o.traced.HTTPClient()),
		option.WithMaxRetries(0),
	)

	ctx, metrics := withMetrics(ctx)
	resp, err := client.Chat.Completions.New(ctx, params)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			msg := apiErr.Message
			if msg == "" {
				msg = http.StatusText(apiErr.StatusCode)
			}
			return Result{Metrics: metrics}, newError(o.Name(), apiErr.StatusCode, msg, nil)
		}
		return Result{Metrics: metrics}, newError(o.Name(), 0, "request failed", err)
	}

	if len(resp.Choices) == 0 {
		return Result{Metrics: metrics}, newError(o.Name(), metrics.StatusCode, "", ErrNoCandidate)
	}
	msg := resp.Choices[0].Message
	if msg.Refusal != "" {
		return Result{Metrics: metrics}, newError(o.Name(), metrics.StatusCode, "model refused: "+msg.Refusal, nil)
	}
	data, err := decode(o.Name(), metrics.StatusCode, msg.Content)
	if err != nil {
		return Result{Metrics: metrics}, err
	}
	return Result{Data: data, RawText: in.RawText(), Metrics: metrics}, nil
}
