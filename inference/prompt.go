package inference

import (
	"fmt"
	"strings"
	"time"
)

// AudioPlaceholder is the RawText of every audio request. The provider
// returns no transcript for audio input.
const AudioPlaceholder = "[Audio Input]"

const systemInstruction = `You extract reminders from short user messages.
Return only the reminder: what the user wants to be reminded about and when.
- reminder_content: the task, phrased briefly, without the time expression.
- scheduled_time: the absolute time of the reminder as an ISO-8601 timestamp in UTC (for example 2024-01-02T17:00:00Z). Resolve relative phrases such as "tomorrow", "tonight" or "in five minutes" against the current time and timezone given in the request. Use an empty string when no time can be determined.
- confidence_score: a number from 0 to 1 stating how certain you are about scheduled_time. Use a value below 0.5 when the time is ambiguous or missing.
Do not answer questions, add commentary or invent details.`

const transcribeInstruction = "The reminder is spoken in the attached audio. Listen to it and extract the reminder it contains."

// contextBlock states the current instant and the user's timezone so
// relative phrases can be resolved.
func contextBlock(now time.Time, loc *time.Location) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Current time (UTC): %s\n", now.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "User timezone: %s\n", loc.String())
	fmt.Fprintf(&b, "User local time: %s", now.In(loc).Format("Monday, 2006-01-02 15:04 MST"))
	return b.String()
}

func loadTimezone(name string) (*time.Location, error) {
	if strings.TrimSpace(name) == "" {
		return nil, ErrMissingTimezone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMissingTimezone, err)
	}
	return loc, nil
}

// reminderSchema is the structured output contract. The score's range is
// documented in the instruction only.
func reminderSchema(typeName func(string) string, closed bool) map[string]any {
	s := map[string]any{
		"type": typeName("object"),
		"properties": map[string]any{
			"reminder_content": map[string]any{
				"type":        typeName("string"),
				"description": "What to be reminded about.",
			},
			"scheduled_time": map[string]any{
				"type":        typeName("string"),
				"description": "ISO-8601 UTC timestamp, or empty when unknown.",
			},
			"confidence_score": map[string]any{
				"type":        typeName("number"),
				"description": "Certainty about scheduled_time, 0 to 1.",
			},
		},
		"required": []string{"reminder_content", "scheduled_time", "confidence_score"},
	}
	if closed {
		s["additionalProperties"] = false
	}
	return s
}
