package main

import (
	"fmt"
	"io"
	"strings"

	lipgloss "github.com/charmbracelet/lipgloss"

	"github.com/pepperpark/mailsync/internal/mailsync"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true)
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
)

// printReport writes one line per mailbox, the run totals, then every
// mailbox and message failure.
func printReport(w io.Writer, sum mailsync.RunSummary) {
	if len(sum.Results) == 0 {
		return
	}
	width := len("MAILBOX")
	for _, r := range sum.Results {
		width = max(width, len(r.Mailbox))
	}
	row := func(name, status string, total, appended, skipped, failed any) string {
		return fmt.Sprintf("%-*s  %-13s %7v %9v %8v %7v", width, name, status, total, appended, skipped, failed)
	}

	fmt.Fprintln(w, headerStyle.Render(row("MAILBOX", "STATUS", "TOTAL", "APPENDED", "SKIPPED", "FAILED")))
	for _, r := range sum.Results {
		line := row(r.Mailbox, string(r.Status), r.Total, r.Appended, r.SkippedExisting, r.Failed)
		switch {
		case r.Err != nil || r.Failed > 0:
			line = failStyle.Render(line)
		case r.Status == mailsync.StatusCompleted:
			line = okStyle.Render(line)
		}
		fmt.Fprintln(w, line)
	}
	t := sum.Totals()
	fmt.Fprintln(w, headerStyle.Render(row("TOTAL", "", t.Total, t.Appended, t.SkippedExisting, t.Failed)))
	if t.NotAttempted > 0 {
		fmt.Fprintf(w, "%d message(s) not attempted\n", t.NotAttempted)
	}
	var failures []string
	for _, r := range sum.Results {
		if r.Err != nil {
			failures = append(failures, r.Err.Error())
		}
		for _, me := range r.MessageErrs {
			failures = append(failures, me.Error())
		}
	}
	if len(failures) == 0 {
		return
	}
	fmt.Fprintln(w, failStyle.Render("Errors:"))
	for _, f := range failures {
		fmt.Fprintln(w, failStyle.Render(" - "+strings.TrimSpace(f)))
	}
}
