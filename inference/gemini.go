package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultGeminiBaseURL = "https://generativelanguage.googleapis.com"
	DefaultGeminiModel   = "gemini-2.5-flash"
)

type Gemini struct {
	client      *TracedClient
	baseURL     string
	model       string
	temperature float64
	timezone    string
	key         KeyFunc
	now         func() time.Time
}

func NewGemini(cfg Config) *Gemini {
	g := &Gemini{
		client:      NewTracedClient(cfg.Transport),
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		timezone:    cfg.Timezone,
		key:         cfg.Key,
		now:         cfg.Now,
	}
	if g.baseURL == "" {
		g.baseURL = DefaultGeminiBaseURL
	}
	if g.model == "" {
		g.model = DefaultGeminiModel
	}
	if g.now == nil {
		g.now = time.Now
	}
	return g
}

func (g *Gemini) Name() string  { return "gemini" }
func (g *Gemini) Model() string { return g.model }

func (g *Gemini) endpoint() string {
	return fmt.Sprintf("%s/v1beta/models/%s:generateContent", g.baseURL, url.PathEscape(g.model))
}

type geminiBlob struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

type geminiPart struct {
	Text       string      `json:"text,omitempty"`
	InlineData *geminiBlob `json:"inlineData,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	Temperature      float64        `json:"temperature"`
	ResponseMIMEType string         `json:"responseMimeType"`
	ResponseSchema   map[string]any `json:"responseSchema"`
}

type geminiRequest struct {
	Contents          []geminiContent        `json:"contents"`
	SystemInstruction *geminiContent         `json:"systemInstruction,omitempty"`
	GenerationConfig  geminiGenerationConfig `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
}

type geminiErrorBody struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

func (g *Gemini) buildRequest(in Input, ctxBlock string) geminiRequest {
	parts := []geminiPart{{Text: ctxBlock}}
	if in.IsAudio() {
		parts = append(parts,
			geminiPart{Text: transcribeInstruction},
			geminiPart{InlineData: &geminiBlob{MIMEType: in.Audio.MIMEType, Data: in.Audio.Data}},
		)
	} else {
		parts = append(parts, geminiPart{Text: "Reminder: " + in.Text})
	}
	return geminiRequest{
		Contents:          []geminiContent{{Role: "user", Parts: parts}},
		SystemInstruction: &geminiContent{Parts: []geminiPart{{Text: systemInstruction}}},
		GenerationConfig: geminiGenerationConfig{
			Temperature:      g.temperature,
			ResponseMIMEType: "application/json",
			ResponseSchema:   reminderSchema(strings.ToUpper, false),
		},
	}
}

func (g *Gemini) ParseInput(ctx context.Context, in Input) (Result, error) {
	key, loc, err := g.prepare(in)
	if err != nil {
		return Result{}, err
	}
	payload, err := json.Marshal(g.buildRequest(in, contextBlock(g.now(), loc)))
	if err != nil {
		return Result{}, newError(g.Name(), 0, "encode request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint(), bytes.NewReader(payload))
	if err != nil {
		return Result{}, newError(g.Name(), 0, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", key)

	resp, err := g.client.Do(req)
	if err != nil {
		return Result{}, newError(g.Name(), 0, "request failed", err)
	}

	if resp.StatusCode != http.StatusOK {
		return Result{Metrics: resp.Metrics}, newError(g.Name(), resp.StatusCode, geminiErrorMessage(resp.Body), nil)
	}

	var gr geminiResponse
	if err := json.Unmarshal(resp.Body, &gr); err != nil {
		return Result{Metrics: resp.Metrics}, newError(g.Name(), resp.StatusCode, "response parse error", err)
	}
	if len(gr.Candidates) == 0 {
		if gr.PromptFeedback != nil && gr.PromptFeedback.BlockReason != "" {
			return Result{Metrics: resp.Metrics}, newError(g.Name(), resp.StatusCode, "request blocked: "+gr.PromptFeedback.BlockReason, nil)
		}
		return Result{Metrics: resp.Metrics}, newError(g.Name(), resp.StatusCode, "", ErrNoCandidate)
	}

	var text strings.Builder
	for _, p := range gr.Candidates[0].Content.Parts {
		text.WriteString(p.Text)
	}
	data, err := decode(g.Name(), resp.StatusCode, text.String())
	if err != nil {
		return Result{Metrics: resp.Metrics}, err
	}
	return Result{Data: data, RawText: in.RawText(), Metrics: resp.Metrics}, nil
}

func (g *Gemini) prepare(in Input) (string, *time.Location, error) {
	return prepare(g.Name(), in, g.key, g.timezone)
}

func geminiErrorMessage(body []byte) string {
	var eb geminiErrorBody
	if err := json.Unmarshal(body, &eb); err == nil && eb.Error.Message != "" {
		if eb.Error.Status != "" {
			return eb.Error.Status + ": " + eb.Error.Message
		}
		return eb.Error.Message
	}
	s := strings.TrimSpace(string(body))
	if len(s) > 300 {
		s = s[:300] + "..."
	}
	if s == "" {
		return "empty response body"
	}
	return s
}
