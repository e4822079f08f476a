// Package report renders the outcome of a run for terminals and notifications.
package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"

	"github.com/italolelis/batch_downloader/internal/downloader"
	"github.com/italolelis/batch_downloader/internal/orchestrator"
)

var (
	doneStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))  // green
	skippedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11")) // yellow
	failedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))  // red
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("69"))
)

// maxErrorWidth keeps long wrapped errors from blowing up the table.
const maxErrorWidth = 80

// Table renders one row per result. With markdown set the table uses a
// markdown border and no colors, suitable for pasting.
func Table(s orchestrator.Summary, markdown bool) string {
	t := table.New().Headers("Outcome", "File", "Size", "Duration", "Error")
	t = t.StyleFunc(func(row, col int) lipgloss.Style {
		if row == table.HeaderRow {
			return lipgloss.NewStyle().Bold(true).Align(lipgloss.Center).Padding(0, 1)
		}

		return lipgloss.NewStyle().Padding(0, 1)
	})

	add := func(results []downloader.Result, style lipgloss.Style) {
		for _, r := range results {
			outcome := r.Outcome.String()
			if !markdown {
				outcome = style.Render(outcome)
			}

			t.Row(outcome, displayName(r), size(r), r.Duration.Round(time.Millisecond).String(), errText(r.Err))
		}
	}

	add(s.Done, doneStyle)
	add(s.Skipped, skippedStyle)
	add(s.Failed, failedStyle)

	if markdown {
		return t.Border(lipgloss.MarkdownBorder()).String()
	}

	return t.String()
}

// Render returns the headline followed by the results table. A run with
// nothing remaining renders only the headline.
func Render(s orchestrator.Summary, markdown bool) string {
	line := Headline(s)
	if !markdown {
		line = headerStyle.Render(line)
	}

	if s.Remaining == 0 {
		return line + "\n"
	}

	return line + "\n" + Table(s, markdown) + "\n"
}

// Headline summarizes a run in one line.
func Headline(s orchestrator.Summary) string {
	if s.Remaining == 0 {
		return fmt.Sprintf("All downloads completed! (%d in catalog)", s.Total)
	}

	return fmt.Sprintf("%d done, %d skipped, %d failed of %d remaining (%s in %s)",
		len(s.Done), len(s.Skipped), len(s.Failed), s.Remaining,
		humanize.Bytes(uint64(s.Bytes())), s.Elapsed.Round(time.Second))
}

// Message is the plain-text notification body for a run: the headline and,
// when some tasks failed, one line per failure.
func Message(s orchestrator.Summary) string {
	var b strings.Builder

	b.WriteString(Headline(s))

	for _, r := range s.Failed {
		fmt.Fprintf(&b, "\n- %s: %s", displayName(r), errText(r.Err))
	}

	return b.String()
}

func displayName(r downloader.Result) string {
	if r.FileName != "" {
		return r.FileName
	}

	return r.Identifier
}

func size(r downloader.Result) string {
	if r.Outcome != downloader.Done {
		return "-"
	}

	return humanize.Bytes(uint64(r.Bytes))
}

func errText(err error) string {
	if err == nil {
		return ""
	}

	msg := err.Error()
	if len(msg) > maxErrorWidth {
		msg = msg[:maxErrorWidth-3] + "..."
	}

	return msg
}
