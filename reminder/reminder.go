package reminder

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// ValidThreshold is the confidence below which a result is treated as ambiguous.
const ValidThreshold = 0.5

// Data is the structured extraction result returned by the model.
type Data struct {
	ReminderContent string  `json:"reminder_content"`
	ScheduledTime   string  `json:"scheduled_time"` // ISO-8601 UTC, or "" when no time could be resolved
	ConfidenceScore float64 `json:"confidence_score"`
}

// Valid reports whether the result carries a usable time. An empty
// ScheduledTime is invalid whatever the score says.
func (d Data) Valid() bool {
	return d.ScheduledTime != "" && d.ConfidenceScore >= ValidThreshold
}

// Scheduled parses ScheduledTime. ok is false when the field is empty or
// not an RFC 3339 timestamp.
func (d Data) Scheduled() (t time.Time, ok bool) {
	s := strings.TrimSpace(d.ScheduledTime)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// HistoryItem is one entry of the feed. It is created once, when an
// inference call succeeds, and never modified afterwards.
type HistoryItem struct {
	Data
	ID            string    `json:"id"`
	CreatedAt     time.Time `json:"createdAt"`
	OriginalInput string    `json:"originalInput"`
}

func NewHistoryItem(d Data, original string, now time.Time) HistoryItem {
	return HistoryItem{
		Data:          d,
		ID:            uuid.NewString(),
		CreatedAt:     now,
		OriginalInput: original,
	}
}

// ClampConfidence forces a score into [0, 1]. The schema does not bound the
// number, so providers occasionally send percentages or garbage.
func ClampConfidence(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// ErrEmptyResponse is returned by Decode for an empty or whitespace body.
var ErrEmptyResponse = errors.New("empty response body")

// wireData mirrors Data with pointer fields so a missing key is
// distinguishable from a zero value.
type wireData struct {
	ReminderContent *string  `json:"reminder_content" validate:"required"`
	ScheduledTime   *string  `json:"scheduled_time" validate:"required"`
	ConfidenceScore *float64 `json:"confidence_score" validate:"required"`
}

var validate *validator.Validate

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())
	// Report wire names in errors.
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
}

// Decode strictly parses a structured model response. Any missing field,
// unknown field, trailing data or empty body is an error.
func Decode(body []byte) (Data, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return Data{}, ErrEmptyResponse
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	var w wireData
	if err := dec.Decode(&w); err != nil {
		return Data{}, fmt.Errorf("decode reminder: %w", err)
	}
	if dec.More() {
		return Data{}, errors.New("decode reminder: trailing data after object")
	}

	if err := validate.Struct(w); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fields := make([]string, len(verrs))
			for i, fe := range verrs {
				fields[i] = fe.Field()
			}
			return Data{}, fmt.Errorf("decode reminder: missing field(s) %s", strings.Join(fields, ", "))
		}
		return Data{}, fmt.Errorf("decode reminder: %w", err)
	}

	return Data{
		ReminderContent: strings.TrimSpace(*w.ReminderContent),
		ScheduledTime:   strings.TrimSpace(*w.ScheduledTime),
		ConfidenceScore: ClampConfidence(*w.ConfidenceScore),
	}, nil
}
