package reminder

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValid(t *testing.T) {
	tests := []struct {
		name string
		data Data
		want bool
	}{
		{"empty time high confidence", Data{ScheduledTime: "", ConfidenceScore: 0.99}, false},
		{"empty time low confidence", Data{ScheduledTime: "", ConfidenceScore: 0.1}, false},
		{"time at threshold", Data{ScheduledTime: "2024-01-02T17:00:00Z", ConfidenceScore: 0.5}, true},
		{"time high confidence", Data{ScheduledTime: "2024-01-02T17:00:00Z", ConfidenceScore: 0.9}, true},
		{"time low confidence", Data{ScheduledTime: "2024-01-02T17:00:00Z", ConfidenceScore: 0.49}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.data.Valid())
		})
	}
}

func TestScheduled(t *testing.T) {
	got, ok := Data{ScheduledTime: "2024-01-02T17:00:00Z"}.Scheduled()
	require.True(t, ok)
	assert.True(t, got.Equal(time.Date(2024, 1, 2, 17, 0, 0, 0, time.UTC)))

	got, ok = Data{ScheduledTime: "2024-01-02T17:00:00.250+02:00"}.Scheduled()
	require.True(t, ok)
	assert.True(t, got.Equal(time.Date(2024, 1, 2, 15, 0, 0, 250e6, time.UTC)))

	_, ok = Data{ScheduledTime: ""}.Scheduled()
	assert.False(t, ok)
	_, ok = Data{ScheduledTime: "tomorrow-ish"}.Scheduled()
	assert.False(t, ok)
}

func TestClampConfidence(t *testing.T) {
	assert.Equal(t, 0.0, ClampConfidence(-0.2))
	assert.Equal(t, 1.0, ClampConfidence(87))
	assert.Equal(t, 0.42, ClampConfidence(0.42))
	assert.Equal(t, 0.0, ClampConfidence(math.NaN()))
}

func TestDecode(t *testing.T) {
	d, err := Decode([]byte(`{"reminder_content":" Call mom ","scheduled_time":"2024-01-02T17:00:00Z","confidence_score":0.93}`))
	require.NoError(t, err)
	assert.Equal(t, Data{ReminderContent: "Call mom", ScheduledTime: "2024-01-02T17:00:00Z", ConfidenceScore: 0.93}, d)
	assert.True(t, d.Valid())
}

func TestDecodeKeepsEmptySentinel(t *testing.T) {
	d, err := Decode([]byte(`{"reminder_content":"","scheduled_time":"","confidence_score":0}`))
	require.NoError(t, err)
	assert.Equal(t, "", d.ScheduledTime)
	assert.False(t, d.Valid())
}

func TestDecodeClampsScore(t *testing.T) {
	d, err := Decode([]byte(`{"reminder_content":"x","scheduled_time":"2024-01-02T17:00:00Z","confidence_score":95}`))
	require.NoError(t, err)
	assert.Equal(t, 1.0, d.ConfidenceScore)
}

func TestDecodeFailures(t *testing.T) {
	tests := []struct {
		name string
		body string
		msg  string
	}{
		{"missing score", `{"reminder_content":"x","scheduled_time":""}`, "confidence_score"},
		{"missing time", `{"reminder_content":"x","confidence_score":0.2}`, "scheduled_time"},
		{"null content", `{"reminder_content":null,"scheduled_time":"","confidence_score":0.2}`, "reminder_content"},
		{"wrong type", `{"reminder_content":"x","scheduled_time":"","confidence_score":"high"}`, "decode reminder"},
		{"extra field", `{"reminder_content":"x","scheduled_time":"","confidence_score":0.2,"note":"y"}`, "note"},
		{"not json", `Sure! Here is your reminder`, "decode reminder"},
		{"trailing data", `{"reminder_content":"x","scheduled_time":"","confidence_score":0.2} {}`, "trailing"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestDecodeEmpty(t *testing.T) {
	for _, body := range []string{"", "   \n"} {
		_, err := Decode([]byte(body))
		assert.True(t, errors.Is(err, ErrEmptyResponse), "body %q", body)
	}
}

func TestNewHistoryItem(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	d := Data{ReminderContent: "Call mom", ScheduledTime: "2024-01-02T17:00:00Z", ConfidenceScore: 0.9}

	seen := map[string]bool{}
	for range 50 {
		item := NewHistoryItem(d, "call mom tomorrow at 5pm", now)
		require.NotEmpty(t, item.ID)
		assert.False(t, seen[item.ID], "duplicate id %s", item.ID)
		seen[item.ID] = true
		assert.Equal(t, now, item.CreatedAt)
		assert.Equal(t, "call mom tomorrow at 5pm", item.OriginalInput)
		assert.Equal(t, d, item.Data)
	}
}
