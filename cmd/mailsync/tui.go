package main

import (
	"context"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	lipgloss "github.com/charmbracelet/lipgloss"

	"github.com/pepperpark/mailsync/internal/mailsync"
)

type mailboxProgress struct {
	total int
	done  int
}

type model struct {
	cancel   context.CancelFunc
	engine   *mailsync.Engine
	boxes    []string
	prog     map[string]mailboxProgress
	finished []mailsync.Result
	totalAll int
	doneAll  int
	spinner  spinner.Model
	bar      progress.Model
	err      error
	complete bool
	started  time.Time
	speed    throughput
}

// etaHalfLife is how quickly the throughput estimate forgets old samples.
const etaHalfLife = 3 * time.Second

// throughput is an exponentially weighted messages-per-second estimate.
type throughput struct {
	rate     float64
	lastDone int
	lastAt   time.Time
}

func (t *throughput) observe(done int, now time.Time) {
	dt := now.Sub(t.lastAt)
	if dt <= 0 {
		return
	}
	sample := float64(done-t.lastDone) / dt.Seconds()
	if t.rate == 0 {
		t.rate = sample
	} else {
		w := 1 - math.Exp(-math.Ln2*dt.Seconds()/etaHalfLife.Seconds())
		t.rate += w * (sample - t.rate)
	}
	t.lastDone, t.lastAt = done, now
}

type tickMsg time.Time

type runDoneMsg struct {
	summary mailsync.RunSummary
	err     error
}

func newModel(cancel context.CancelFunc, engine *mailsync.Engine, boxes []string) *model {
	s := spinner.New()
	s.Spinner = spinner.Line
	bar := progress.New(progress.WithDefaultGradient())
	now := time.Now()
	return &model{
		cancel:  cancel,
		engine:  engine,
		boxes:   boxes,
		prog:    map[string]mailboxProgress{},
		spinner: s,
		bar:     bar,
		started: now,
		speed:   throughput{lastAt: now},
	}
}

func (m *model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tick())
}

func tick() tea.Cmd {
	return tea.Tick(200*time.Millisecond, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			m.cancel()
			return m, tea.Quit
		}
	case runDoneMsg:
		m.drainEvents()
		m.err = msg.err
		m.complete = true
		m.finished = msg.summary.Results
		t := msg.summary.Totals()
		m.totalAll, m.doneAll = int(t.Total), int(t.Total-t.NotAttempted)
		return m, tea.Quit
	case tickMsg:
		m.drainEvents()
		m.speed.observe(m.doneAll, time.Time(msg))
		return m, tea.Batch(m.spinner.Tick, tick())
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *model) drainEvents() {
	for {
		select {
		case ev, ok := <-m.engine.Events():
			if !ok {
				return
			}
			switch ev.Type {
			case mailsync.EventMailboxProgress:
				m.prog[ev.Mailbox] = mailboxProgress{total: ev.Total, done: ev.Done}
			case mailsync.EventMailboxDone:
				m.prog[ev.Mailbox] = mailboxProgress{total: ev.Total, done: ev.Done}
				if ev.Result != nil {
					m.finished = append(m.finished, *ev.Result)
				}
			}
			m.recomputeTotals()
		default:
			return
		}
	}
}

func (m *model) recomputeTotals() {
	total, done := 0, 0
	for _, p := range m.prog {
		total += p.total
		done += p.done
	}
	m.totalAll, m.doneAll = total, done
}

func (m *model) View() string {
	title := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63")).Render("Mailsync")
	s := title + "\n\nPress q to quit\n\n"
	pct := 0.0
	if m.totalAll > 0 {
		pct = float64(m.doneAll) / float64(m.totalAll)
	}
	s += fmt.Sprintf("%s Mailboxes %d/%d   Messages %d/%d   %s\n", m.spinner.View(), m.mailboxesDone(), len(m.boxes), m.doneAll, m.totalAll, m.eta())
	s += m.bar.ViewAs(pct) + "\n\n"
	dim := lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	from := max(len(m.finished)-5, 0)
	for _, r := range m.finished[from:] {
		line := fmt.Sprintf("%s  +%d  =%d  !%d", r.Mailbox, r.Appended, r.SkippedExisting, r.Failed)
		if r.Failed > 0 || r.Err != nil {
			line = failStyle.Render(line)
		} else {
			line = dim.Render(line)
		}
		s += line + "\n"
	}
	if m.complete && m.err != nil {
		s += "\n" + failStyle.Render("Stopped: "+m.err.Error()) + "\n"
	}
	return s
}

func (m *model) mailboxesDone() int {
	if m.complete {
		n := 0
		for _, r := range m.finished {
			if r.Status != mailsync.StatusNotAttempted {
				n++
			}
		}
		return n
	}
	return len(m.finished)
}

// eta estimates the time left from the smoothed rate, or from the average
// rate since start while the smoothed one is still near zero.
func (m *model) eta() string {
	remaining := m.totalAll - m.doneAll
	switch {
	case m.totalAll == 0:
		return "ETA --"
	case remaining <= 0:
		return "ETA 0s"
	}
	rate := m.speed.rate
	if rate <= 0.01 {
		if elapsed := time.Since(m.started).Seconds(); elapsed > 0 {
			rate = float64(m.doneAll) / elapsed
		}
	}
	if rate <= 0.01 {
		return "ETA --"
	}
	return "ETA " + formatDuration(time.Duration(float64(remaining)/rate*float64(time.Second)))
}

// formatDuration renders d with at most two units, e.g. 3m5s or 2h30m.
func formatDuration(d time.Duration) string {
	switch {
	case d < time.Second:
		return "<1s"
	case d > 99*time.Hour:
		return ">99h"
	case d >= time.Hour:
		return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
	case d >= time.Minute:
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%ds", int(d.Seconds()))
}

// runTUI runs the engine in the background and shows its progress. The run
// result is returned even when the UI fails to start.
func runTUI(ctx context.Context, cancel context.CancelFunc, engine *mailsync.Engine, pairs []mailsync.SessionPair, boxes []string) (mailsync.RunSummary, error) {
	m := newModel(cancel, engine, boxes)
	p := tea.NewProgram(m)
	done := make(chan runDoneMsg, 1)
	go func() {
		sum, err := engine.RunPool(ctx, pairs, boxes)
		res := runDoneMsg{summary: sum, err: err}
		done <- res
		p.Send(res)
	}()
	if _, err := p.Run(); err != nil {
		fmt.Fprintln(os.Stderr, "TUI failed:", err)
	}
	res := <-done
	return res.summary, res.err
}

// confirmDialog asks a yes/no question about the planned run.
type confirmDialog struct {
	title    string
	summary  string
	answered bool
	yes      bool
}

func (d *confirmDialog) Init() tea.Cmd { return nil }

func (d *confirmDialog) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return d, nil
	}
	switch key.String() {
	case "y", "enter":
		d.answered, d.yes = true, true
	case "n", "q", "esc", "ctrl+c":
		d.answered, d.yes = true, false
	default:
		return d, nil
	}
	return d, tea.Quit
}

func (d *confirmDialog) View() string {
	var b strings.Builder
	b.WriteString(lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63")).Render(d.title))
	b.WriteString("\n\n")
	b.WriteString(lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(1, 2).Width(78).Render(d.summary))
	b.WriteString("\n\n")
	b.WriteString(lipgloss.NewStyle().Foreground(lipgloss.Color("244")).Render("y: start   n: abort"))
	b.WriteString("\n")
	return b.String()
}

// runConfirmTUI shows summary and reports whether the user accepted. Leaving
// the dialog without an answer counts as a no.
func runConfirmTUI(title, summary string) (bool, error) {
	d := &confirmDialog{title: title, summary: summary}
	if _, err := tea.NewProgram(d).Run(); err != nil {
		return false, err
	}
	return d.answered && d.yes, nil
}
