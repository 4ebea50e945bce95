package log

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func setupLogDir(t *testing.T) string {
	t.Helper()
	tmp := t.TempDir()
	SetDir(tmp)
	t.Cleanup(func() { Close(); SetDir("") })
	return tmp
}

func TestResolveDirFlag(t *testing.T) {
	got, err := ResolveDir("/tmp/mylog")
	if err != nil {
		t.Fatal(err)
	}
	if got != "/tmp/mylog" {
		t.Errorf("got %q, want /tmp/mylog", got)
	}
}

func TestResolveDirFlagRelative(t *testing.T) {
	got, err := ResolveDir("logs")
	if err != nil {
		t.Fatal(err)
	}
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	want := filepath.Join(wd, "logs")
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestResolveDirEnv(t *testing.T) {
	t.Setenv("NUDGE_LOG_PATH", "/tmp/nudge-env-log")
	got, err := ResolveDir("")
	if err != nil {
		t.Fatal(err)
	}
	if got != "/tmp/nudge-env-log" {
		t.Errorf("got %q, want /tmp/nudge-env-log", got)
	}
}

func TestResolveDirDefault(t *testing.T) {
	t.Setenv("NUDGE_LOG_PATH", "")
	got, err := ResolveDir("")
	if err != nil {
		t.Fatal(err)
	}
	if got == "" {
		t.Error("expected non-empty default directory")
	}
}

func TestInitCreatesFiles(t *testing.T) {
	tmp := setupLogDir(t)

	if err := Init(); err != nil {
		t.Fatal(err)
	}

	for _, name := range []string{"diagnostics_log.txt", "reminders_log.txt"} {
		path := filepath.Join(tmp, name)
		if _, err := os.Stat(path); err != nil {
			t.Errorf("%s not created: %v", name, err)
		}
	}
}

func TestReminder(t *testing.T) {
	tmp := setupLogDir(t)

	if err := Init(); err != nil {
		t.Fatal(err)
	}

	Reminder("Call mom", "2024-01-02T17:00:00Z", 0.93, "call mom\ttomorrow at 5pm")
	Reminder("Water plants", "", 0.2, "water the plants sometime")

	data, err := os.ReadFile(filepath.Join(tmp, "reminders_log.txt"))
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), data)
	}
	// format: "2006-01-02 15:04:05\t[pid]\tscheduled\tconfidence\tcontent\toriginal"
	fields := strings.Split(lines[0], "\t")
	if len(fields) != 6 {
		t.Fatalf("expected 6 tab-separated fields, got %d: %q", len(fields), lines[0])
	}
	if fields[2] != "2024-01-02T17:00:00Z" || fields[3] != "0.93" || fields[4] != "Call mom" {
		t.Errorf("unexpected fields: %q", fields)
	}
	if fields[5] != "call mom tomorrow at 5pm" {
		t.Errorf("embedded tab not flattened: %q", fields[5])
	}
	if !strings.Contains(lines[1], "\t-\t0.20\t") {
		t.Errorf("empty schedule should log as '-', got: %q", lines[1])
	}
}

func TestDiagnostics(t *testing.T) {
	tmp := setupLogDir(t)

	if err := Init(); err != nil {
		t.Fatal(err)
	}

	Infof("recording_start device=%s", "fake")
	InferenceCall(InferenceMetrics{Provider: "gemini", Model: "gemini-2.5-flash", Input: "text", StatusCode: 200}, nil)
	Recording(RecordingStats{DurationS: 1.5, MIMEType: "audio/flac"})
	Close()

	data, err := os.ReadFile(filepath.Join(tmp, "diagnostics_log.txt"))
	if err != nil {
		t.Fatal(err)
	}
	out := string(data)
	for _, want := range []string{"recording_start device=fake", "provider=gemini", "status=200", "mime=audio/flac", "pid="} {
		if !strings.Contains(out, want) {
			t.Errorf("diagnostics_log.txt missing %q, got: %q", want, out)
		}
	}
}

func TestNoopBeforeInit(t *testing.T) {
	Close()
	Info("dropped")
	Reminder("x", "", 0, "y")
	InferenceCall(InferenceMetrics{}, nil)
}

func TestCloseIdempotent(t *testing.T) {
	setupLogDir(t)

	if err := Init(); err != nil {
		t.Fatal(err)
	}
	Close()
	Close() // should not panic
}
