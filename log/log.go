package log

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	diagLog      zerolog.Logger
	diagFile     *os.File
	reminderFile *os.File
	logMu        sync.Mutex
	logReady     bool
	pid          int
	dir          string
)

// InferenceMetrics describes one provider round trip.
type InferenceMetrics struct {
	Provider    string
	Model       string
	Input       string // "text" or "audio"
	PayloadKB   float64
	DNSTimeMs   float64
	TLSTimeMs   float64
	TTFBMs      float64
	TotalTimeMs float64
	ConnReused  bool
	TLSProtocol string
	StatusCode  int
}

type RecordingStats struct {
	DurationS  float64
	RawSizeKB  float64
	EncodedKB  float64
	MIMEType   string
	AutoStop   bool
	DeviceName string
}

func ResolveDir(flagPath string) (string, error) {
	// Priority 1: -logpath flag
	if flagPath != "" {
		return absolute(flagPath)
	}

	// Priority 2: NUDGE_LOG_PATH environment variable
	if envPath := os.Getenv("NUDGE_LOG_PATH"); envPath != "" {
		return absolute(envPath)
	}

	// Priority 3: Default OS-specific location
	return getDefaultDir()
}

func absolute(p string) (string, error) {
	if filepath.IsAbs(p) {
		return p, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(wd, p), nil
}

func SetDir(d string) {
	dir = d
}

func Dir() string {
	return dir
}

func EnsureDir() error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	return nil
}

func Init() error {
	logMu.Lock()
	defer logMu.Unlock()

	if err := EnsureDir(); err != nil {
		return err
	}

	pid = os.Getpid()

	var err error

	diagPath := filepath.Join(dir, "diagnostics_log.txt")
	diagFile, err = os.OpenFile(diagPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}

	reminderPath := filepath.Join(dir, "reminders_log.txt")
	reminderFile, err = os.OpenFile(reminderPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		diagFile.Close()
		return err
	}

	consoleWriter := zerolog.ConsoleWriter{
		Out:        diagFile,
		TimeFormat: "2006-01-02 15:04:05",
		NoColor:    true,
	}
	diagLog = zerolog.New(consoleWriter).With().Timestamp().Int("pid", pid).Logger()

	logReady = true
	return nil
}

func Close() {
	logMu.Lock()
	defer logMu.Unlock()
	if diagFile != nil {
		diagFile.Close()
		diagFile = nil
	}
	if reminderFile != nil {
		reminderFile.Close()
		reminderFile = nil
	}
	logReady = false
}

func Info(msg string) {
	if logReady {
		diagLog.Info().Msg(msg)
	}
}

func Infof(format string, args ...any) {
	if logReady {
		diagLog.Info().Msg(fmt.Sprintf(format, args...))
	}
}

func Error(msg string) {
	if logReady {
		diagLog.Error().Msg(msg)
	}
}

func Errorf(format string, args ...any) {
	if logReady {
		diagLog.Error().Msg(fmt.Sprintf(format, args...))
	}
}

func Warn(msg string) {
	if logReady {
		diagLog.Warn().Msg(msg)
	}
}

func Warnf(format string, args ...any) {
	if logReady {
		diagLog.Warn().Msg(fmt.Sprintf(format, args...))
	}
}

func InferenceCall(m InferenceMetrics, err error) {
	if !logReady {
		return
	}

	connStatus := "new"
	if m.ConnReused {
		connStatus = "reused"
	}

	ev := diagLog.Info()
	if err != nil {
		ev = diagLog.Error().Err(err)
	}
	ev = ev.Str("provider", m.Provider).
		Str("model", m.Model).
		Str("input", m.Input).
		Str("conn", connStatus)
	if m.TLSProtocol != "" {
		ev = ev.Str("tls_proto", m.TLSProtocol)
	}
	if m.StatusCode != 0 {
		ev = ev.Int("status", m.StatusCode)
	}
	ev.Float64("payload_kb", m.PayloadKB).
		Float64("dns_ms", m.DNSTimeMs).
		Float64("tls_ms", m.TLSTimeMs).
		Float64("ttfb_ms", m.TTFBMs).
		Float64("total_ms", m.TotalTimeMs).
		Msg("inference")
}

func Recording(s RecordingStats) {
	if !logReady {
		return
	}
	diagLog.Info().
		Float64("audio_s", s.DurationS).
		Float64("raw_kb", s.RawSizeKB).
		Float64("encoded_kb", s.EncodedKB).
		Str("mime", s.MIMEType).
		Bool("auto_stop", s.AutoStop).
		Str("device", s.DeviceName).
		Msg("recording")
}

// Reminder appends one created history item to reminders_log.txt.
// format: "2006-01-02 15:04:05\t[pid]\tscheduled\tconfidence\tcontent\toriginal\n"
func Reminder(content, scheduled string, confidence float64, original string) {
	if !logReady {
		return
	}
	logMu.Lock()
	defer logMu.Unlock()
	if scheduled == "" {
		scheduled = "-"
	}
	line := fmt.Sprintf("%s\t[%d]\t%s\t%.2f\t%s\t%s\n",
		time.Now().Format("2006-01-02 15:04:05"), pid, scheduled, confidence,
		oneLine(content), oneLine(original))
	reminderFile.WriteString(line)
}

func oneLine(s string) string {
	return strings.NewReplacer("\t", " ", "\n", " ", "\r", " ").Replace(s)
}

func SessionStart(provider, model, format string) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("provider", provider).
		Str("model", model).
		Str("format", format).
		Msg("session_start")
}

func SessionEnd(count int) {
	if !logReady {
		return
	}
	diagLog.Info().
		Int("count", count).
		Msg("session_end")
}
