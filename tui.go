package main

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"nudge/audio"
	"nudge/hotkey"
	"nudge/recorder"
	"nudge/reminder"
	"nudge/session"
)

// TUI message types
type stateMsg session.State
type frameMsg []uint8
type recTickMsg time.Duration
type noticeMsg recorder.Notice
type alertMsg string
type copiedMsg string
type clearAlertMsg struct{ id int }

const (
	barHeight    = 4
	alertTimeout = 4 * time.Second
	maxCards     = 20
)

var (
	tuiProgram *tea.Program
	tuiMu      sync.Mutex
)

// tuiSink forwards events to the program through an ordered queue so that
// listeners fired from inside Update never block on Program.Send.
type tuiSink struct {
	ch chan tea.Msg
}

func newTUISink() *tuiSink {
	s := &tuiSink{ch: make(chan tea.Msg, 1024)}
	go func() {
		for msg := range s.ch {
			tuiSend(msg)
		}
	}()
	return s
}

func (s *tuiSink) State(st session.State)   { s.ch <- stateMsg(st) }
func (s *tuiSink) Tick(d time.Duration)     { s.ch <- recTickMsg(d) }
func (s *tuiSink) Notice(n recorder.Notice) { s.ch <- noticeMsg(n) }
func (s *tuiSink) Alert(text string)        { s.ch <- alertMsg(text) }
func (s *tuiSink) Copied(text string)       { s.ch <- copiedMsg(text) }

func (s *tuiSink) Frame(bins []uint8) {
	select {
	case s.ch <- frameMsg(bins):
	default: // a dropped frame is invisible
	}
}

func tuiSend(msg tea.Msg) {
	tuiMu.Lock()
	p := tuiProgram
	tuiMu.Unlock()
	if p != nil {
		p.Send(msg)
	}
}

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("213"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	faintStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("239"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	recStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	barStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	contentStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("255"))
	cardStyle    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("238")).Padding(0, 1)

	badgeStyles = map[session.Status]lipgloss.Style{
		session.Idle:       badge("238", "250"),
		session.Recording:  badge("196", "231"),
		session.Processing: badge("214", "16"),
		session.Success:    badge("42", "16"),
		session.Error:      badge("160", "231"),
	}
)

func badge(bg, fg string) lipgloss.Style {
	return lipgloss.NewStyle().Bold(true).Padding(0, 1).
		Background(lipgloss.Color(bg)).Foreground(lipgloss.Color(fg))
}

type tuiModel struct {
	app   *app
	input textinput.Model
	loc   *time.Location

	state   session.State
	bins    []uint8
	elapsed time.Duration
	silence bool
	alert   string
	alertOK bool
	alertID int

	modeLine   string
	deviceLine string
	hotkeyLine string

	width, height int
}

type tuiOptions struct {
	ModeLine   string
	DeviceLine string
	HotkeyLine string
}

func newTUIModel(a *app, opts tuiOptions) tuiModel {
	ti := textinput.New()
	ti.Placeholder = "e.g. call mom tomorrow at 5pm"
	ti.Prompt = "› "
	ti.CharLimit = 500
	ti.Focus()
	return tuiModel{
		app:        a,
		input:      ti,
		loc:        a.loc,
		modeLine:   opts.ModeLine,
		deviceLine: opts.DeviceLine,
		hotkeyLine: opts.HotkeyLine,
	}
}

func NewTUIProgram(m tuiModel) *tea.Program {
	return tea.NewProgram(m, tea.WithAltScreen())
}

func (m tuiModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.input.Width = max(msg.Width-6, 10)

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit
		case "enter":
			if m.state.Status == session.Processing {
				return m, nil
			}
			a := m.app
			return m, func() tea.Msg { a.submitDraft(); return nil }
		case "ctrl+r":
			a := m.app
			return m, func() tea.Msg { a.toggleRecording(); return nil }
		case "ctrl+y":
			a := m.app
			return m, func() tea.Msg { a.copyLatest(); return nil }
		}
		if m.state.Status == session.Processing {
			return m, nil
		}
		before := m.input.Value()
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		if v := m.input.Value(); v != before {
			m.app.setDraft(v)
		}
		return m, cmd

	case stateMsg:
		prev := m.state.Status
		m.state = session.State(msg)
		if m.state.Status == session.Recording && prev != session.Recording {
			m.bins, m.elapsed, m.silence = nil, 0, false
		}
		if m.state.Status != session.Recording {
			m.bins, m.silence = nil, false
		}
		if prev == session.Processing && m.state.Status == session.Success && m.state.Draft == "" {
			m.input.Reset()
		}
		if m.state.Status == session.Processing {
			m.input.Blur()
			return m, nil
		}
		return m, m.input.Focus()

	case frameMsg:
		if m.state.Status == session.Recording {
			m.bins = msg
		}

	case recTickMsg:
		m.elapsed = time.Duration(msg)

	case noticeMsg:
		switch recorder.Notice(msg) {
		case recorder.NoticeSilence:
			m.silence = true
		case recorder.NoticeVoice:
			m.silence = false
		case recorder.NoticeAutoStop:
			m.silence = false
			return m.showAlert("stopped after 30s of silence", false)
		}

	case alertMsg:
		return m.showAlert(string(msg), false)

	case copiedMsg:
		return m.showAlert("copied: "+string(msg), true)

	case clearAlertMsg:
		if msg.id == m.alertID {
			m.alert = ""
		}

	default:
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m tuiModel) showAlert(text string, ok bool) (tea.Model, tea.Cmd) {
	m.alertID++
	m.alert, m.alertOK = text, ok
	id := m.alertID
	return m, tea.Tick(alertTimeout, func(time.Time) tea.Msg { return clearAlertMsg{id: id} })
}

func (m tuiModel) View() string {
	if m.width == 0 {
		return "Loading..."
	}
	width := min(m.width, 100)

	var lines []string
	header := titleStyle.Render("nudge") + "  " + statusBadge(m.state.Status)
	if m.modeLine != "" {
		header += "  " + dimStyle.Render(m.modeLine)
	}
	lines = append(lines, header)
	if m.deviceLine != "" {
		lines = append(lines, dimStyle.Render(m.deviceLine))
	}
	lines = append(lines, "")

	if m.state.Status == session.Recording {
		lines = append(lines, recStyle.Render("● REC "+formatElapsed(m.elapsed)))
		for _, row := range renderBars(m.bins, width-2, barHeight) {
			lines = append(lines, barStyle.Render(row))
		}
		if m.silence {
			lines = append(lines, warnStyle.Render("⚠ no voice detected, check your microphone"))
		}
	} else if m.state.Status == session.Processing {
		lines = append(lines, dimStyle.Render("… extracting reminder"))
	}

	if m.state.Status == session.Processing {
		lines = append(lines, faintStyle.Render(m.input.Prompt+m.input.Value()))
	} else {
		lines = append(lines, m.input.View())
	}

	switch {
	case m.state.Error != "":
		lines = append(lines, errorStyle.Render("✗ "+m.state.Error))
	case m.alert != "" && m.alertOK:
		lines = append(lines, okStyle.Render("✓ "+m.alert))
	case m.alert != "":
		lines = append(lines, warnStyle.Render(m.alert))
	default:
		lines = append(lines, "")
	}
	lines = append(lines, "")

	if len(m.state.History) == 0 {
		lines = append(lines, dimStyle.Render("No reminders yet. Type one or press ctrl+r to speak."))
	}
	for i, item := range m.state.History {
		if i == maxCards {
			lines = append(lines, dimStyle.Render(fmt.Sprintf("… %d older", len(m.state.History)-maxCards)))
			break
		}
		lines = append(lines, renderCard(item, m.loc, width-2))
	}

	lines = append(lines, "", faintStyle.Render(helpLine(m.hotkeyLine)))
	out := strings.Join(lines, "\n")
	if m.height > 0 {
		rows := strings.Split(out, "\n")
		if len(rows) > m.height {
			// keep the help line visible
			rows = append(rows[:m.height-1], rows[len(rows)-1])
			out = strings.Join(rows, "\n")
		}
	}
	return out
}

func helpLine(hotkeyLine string) string {
	help := "enter submit · ctrl+r record · ctrl+y copy latest · ctrl+c quit"
	if hotkeyLine != "" {
		help += " · " + hotkeyLine
	}
	return help
}

func statusBadge(s session.Status) string {
	style, ok := badgeStyles[s]
	if !ok {
		style = badgeStyles[session.Idle]
	}
	return style.Render(s.String())
}

func formatElapsed(d time.Duration) string {
	s := int(d / time.Second)
	return fmt.Sprintf("%02d:%02d", s/60, s%60)
}

var barLevels = []rune(" ▁▂▃▄▅▆▇█")

// renderBars draws bins as columns whose height is linear in magnitude,
// with eighth-cell resolution. It always returns height rows.
func renderBars(bins []uint8, width, height int) []string {
	rows := make([]string, height)
	if width <= 0 || height <= 0 {
		return rows
	}
	cols := min(width, len(bins))
	heights := make([]int, cols) // in eighths
	for c := range heights {
		v := bins[c*len(bins)/cols]
		heights[c] = int(math.Round(float64(v) / 255 * float64(height*8)))
	}
	var b strings.Builder
	for r := 0; r < height; r++ {
		b.Reset()
		base := (height - 1 - r) * 8
		for _, h := range heights {
			fill := min(max(h-base, 0), 8)
			b.WriteRune(barLevels[fill])
		}
		rows[r] = b.String()
	}
	return rows
}

// scheduledLabel shows the extracted time in the user's timezone, or a
// placeholder when the result is not valid.
func scheduledLabel(item reminder.HistoryItem, loc *time.Location) string {
	if !item.Valid() {
		return "No time detected"
	}
	t, ok := item.Scheduled()
	if !ok {
		return item.ScheduledTime
	}
	return t.In(loc).Format("Mon Jan 2, 15:04 MST")
}

func confidenceLabel(score float64) string {
	return fmt.Sprintf("%d%%", int(math.Round(score*100)))
}

func renderCard(item reminder.HistoryItem, loc *time.Location, width int) string {
	inner := max(width-4, 20)

	when := scheduledLabel(item, loc)
	whenStyle := okStyle
	if !item.Valid() {
		whenStyle = warnStyle
	}

	var b strings.Builder
	for _, line := range wrapText(item.ReminderContent, inner) {
		b.WriteString(contentStyle.Render(line) + "\n")
	}
	b.WriteString(whenStyle.Render("⏰ "+when) + dimStyle.Render("  ·  confidence "+confidenceLabel(item.ConfidenceScore)) + "\n")
	for _, line := range wrapText(fmt.Sprintf("%q", item.OriginalInput), inner) {
		b.WriteString(dimStyle.Render(line) + "\n")
	}
	b.WriteString(faintStyle.Render("created " + item.CreatedAt.In(loc).Format("15:04:05")))

	return cardStyle.Width(inner + 2).Render(b.String())
}

func wrapText(text string, width int) []string {
	if len(text) == 0 {
		return []string{""}
	}
	if width <= 0 {
		width = 1
	}

	var lines []string
	for len(text) > width {
		splitAt := width
		for i := width; i > 0; i-- {
			if text[i] == ' ' {
				splitAt = i
				break
			}
		}
		lines = append(lines, text[:splitAt])
		text = strings.TrimLeft(text[splitAt:], " ")
	}
	if len(text) > 0 {
		lines = append(lines, text)
	}
	return lines
}

func deviceLineText(name string, err error) string {
	if err != nil {
		return "mic: unavailable (" + err.Error() + ")"
	}
	if name == "" {
		name = "system default"
	}
	suffix := ""
	if audio.IsBluetooth(name) {
		suffix = " (BT: lower audio quality)"
	}
	return "mic: " + name + suffix
}

func hotkeyLineText(enabled bool, err error) string {
	switch {
	case !enabled:
		return ""
	case err != nil:
		return "global hotkey off"
	}
	return hotkey.Label + " anywhere"
}
