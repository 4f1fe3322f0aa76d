package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/pepperpark/mailsync/internal/mailsync"
)

func TestFormatDuration(t *testing.T) {
	cases := map[time.Duration]string{
		500 * time.Millisecond:        "<1s",
		42 * time.Second:              "42s",
		3*time.Minute + 5*time.Second: "3m5s",
		2*time.Hour + 30*time.Minute:  "2h30m",
		100 * time.Hour:               ">99h",
	}
	for d, want := range cases {
		if got := formatDuration(d); got != want {
			t.Fatalf("formatDuration(%v) = %q, want %q", d, got, want)
		}
	}
}

func TestPrintReport(t *testing.T) {
	sum := mailsync.RunSummary{Results: []mailsync.Result{
		{Mailbox: "INBOX", Status: mailsync.StatusCompleted, Total: 3, Appended: 2, SkippedExisting: 1},
		{Mailbox: "Work", Status: mailsync.StatusCompleted, Total: 2, Appended: 1, Failed: 1, MessageErrs: []mailsync.MessageError{
			{Mailbox: "Work", SeqNum: 2, MessageID: "<lost@x>", Err: errors.New("append failed: NO quota exceeded")},
		}},
		{Mailbox: "Locked", Status: mailsync.StatusFailed, Err: errors.New("Locked: select failed: NO")},
		{Mailbox: "Later", Status: mailsync.StatusCancelled, Total: 4, Appended: 1, NotAttempted: 3},
	}}
	var buf bytes.Buffer
	printReport(&buf, sum)
	out := buf.String()
	for _, want := range []string{"INBOX", "Locked", "Later", "TOTAL", "3 message(s) not attempted", "select failed", "Work #2 <lost@x>: append failed: NO quota exceeded"} {
		if !strings.Contains(out, want) {
			t.Fatalf("report misses %q:\n%s", want, out)
		}
	}

	buf.Reset()
	printReport(&buf, mailsync.RunSummary{})
	if buf.Len() != 0 {
		t.Fatalf("empty summary should print nothing, got %q", buf.String())
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, closeLog, err := newLogger("warn", "", &buf)
	if err != nil {
		t.Fatalf("newLogger: %v", err)
	}
	defer closeLog()
	logger.Info("hidden")
	logger.Warn("shown", "mailbox", "INBOX")
	if out := buf.String(); strings.Contains(out, "hidden") || !strings.Contains(out, "mailbox=INBOX") {
		t.Fatalf("unexpected log output %q", out)
	}

	if _, _, err := newLogger("loud", "", &buf); err == nil {
		t.Fatal("unknown level should fail")
	}

	path := filepath.Join(t.TempDir(), "sync.log")
	logger, closeLog, err = newLogger("info", path, &buf)
	if err != nil {
		t.Fatalf("newLogger with file: %v", err)
	}
	logger.Info("to file")
	if err := closeLog(); err != nil {
		t.Fatalf("close: %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil || !strings.Contains(string(b), "to file") {
		t.Fatalf("log file = %q, %v", b, err)
	}
}

func TestListCommandRequiresConfig(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{"list"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	if err := cmd.Execute(); err == nil {
		t.Fatal("list without --config should fail")
	}
}

func TestListCommandWithMboxSource(t *testing.T) {
	dir := t.TempDir()
	mbox := filepath.Join(dir, "export.mbox")
	if err := os.WriteFile(mbox, []byte("From a@b Fri Mar  1 10:00:00 2024\nMessage-ID: <a@b>\n\nhi\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg := filepath.Join(dir, "mailsync.toml")
	content := "[src]\nmbox = \"" + filepath.ToSlash(mbox) + "\"\nmailbox = \"Archive\"\n[dst]\nhost = \"imap.example\"\nuser = \"me\"\n"
	if err := os.WriteFile(cfg, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs([]string{"list", "--config", cfg, "--log-level", "error"})
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("list: %v", err)
	}
	if got := strings.TrimSpace(out.String()); got != "Archive" {
		t.Fatalf("list output = %q, want Archive", got)
	}
}

func TestThroughputSmoothing(t *testing.T) {
	start := time.Now()
	tp := throughput{lastAt: start}
	tp.observe(10, start.Add(time.Second))
	if tp.rate != 10 {
		t.Fatalf("first sample rate = %v, want 10", tp.rate)
	}
	tp.observe(10, start.Add(4*time.Second))
	// One half-life without progress halves the estimate.
	if tp.rate < 4.9 || tp.rate > 5.1 {
		t.Fatalf("rate after a stalled half-life = %v, want ~5", tp.rate)
	}
	tp.observe(99, start.Add(4*time.Second))
	if tp.lastDone != 10 {
		t.Fatal("a sample without elapsed time must be ignored")
	}
}

func TestConfirmDialog(t *testing.T) {
	cases := map[string]bool{"y": true, "enter": true, "n": false, "esc": false}
	for key, want := range cases {
		d := &confirmDialog{}
		var msg tea.KeyMsg
		switch key {
		case "enter":
			msg = tea.KeyMsg{Type: tea.KeyEnter}
		case "esc":
			msg = tea.KeyMsg{Type: tea.KeyEsc}
		default:
			msg = tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(key)}
		}
		if _, cmd := d.Update(msg); cmd == nil {
			t.Fatalf("%s should close the dialog", key)
		}
		if !d.answered || d.yes != want {
			t.Fatalf("%s: answered=%v yes=%v, want yes=%v", key, d.answered, d.yes, want)
		}
	}

	d := &confirmDialog{}
	if _, cmd := d.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("x")}); cmd != nil || d.answered {
		t.Fatal("other keys must be ignored")
	}
}
