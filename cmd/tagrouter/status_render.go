package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

type statusKind int

const (
	statusInfo statusKind = iota
	statusOK
	statusWarn
	statusError
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
)

const (
	minLabelWidth = 12
	statusIndent  = "  "
)

var statusStyles = map[statusKind]struct {
	label string
	color string
}{
	statusInfo:  {"INFO", ansiBlue},
	statusOK:    {"OK", ansiGreen},
	statusWarn:  {"WARN", ansiYellow},
	statusError: {"ERROR", ansiRed},
}

type statusRow struct {
	name   string
	kind   statusKind
	detail string
}

// statusBoard collects named checks under one heading. It backs both the
// server health view and the preflight report.
type statusBoard struct {
	heading string
	rows    []statusRow
}

func newStatusBoard(heading string) *statusBoard {
	return &statusBoard{heading: strings.TrimSpace(heading)}
}

func (b *statusBoard) add(name string, kind statusKind, detail string) {
	b.rows = append(b.rows, statusRow{name: name, kind: kind, detail: detail})
}

// addCheck records a pass/fail result.
func (b *statusBoard) addCheck(name string, passed bool, detail string) {
	kind := statusOK
	if !passed {
		kind = statusError
	}
	b.add(name, kind, detail)
}

func (b *statusBoard) failures() int {
	count := 0
	for _, row := range b.rows {
		if row.kind == statusError {
			count++
		}
	}
	return count
}

func (b *statusBoard) summary() string {
	failing := b.failures()
	if failing == 0 {
		return fmt.Sprintf("%d checked, all passing", len(b.rows))
	}
	return fmt.Sprintf("%d checked, %d failing", len(b.rows), failing)
}

// lines renders the board. Labels are padded to the longest name so the
// status column lines up.
func (b *statusBoard) lines(colorize bool) []string {
	width := minLabelWidth
	for _, row := range b.rows {
		if n := len(row.name) + 1; n > width {
			width = n
		}
	}

	header := fmt.Sprintf("== %s ==", b.heading)
	out := []string{paint(header, ansiBlue, colorize), statusIndent + b.summary()}
	for _, row := range b.rows {
		out = append(out, renderStatusLine(row, width, colorize))
	}
	return out
}

func (b *statusBoard) write(w io.Writer) {
	fmt.Fprintln(w, strings.Join(b.lines(shouldColorize(w)), "\n"))
}

func renderStatusLine(row statusRow, width int, colorize bool) string {
	style := statusStyles[row.kind]
	text := "[" + style.label + "]"
	if row.detail != "" {
		text += " " + row.detail
	}
	return paint(fmt.Sprintf("%s%-*s %s", statusIndent, width, row.name+":", text), style.color, colorize)
}

func paint(text, color string, colorize bool) string {
	if !colorize || color == "" {
		return text
	}
	return color + text + ansiReset
}

// shouldColorize reports whether writer is an interactive terminal.
func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// healthKind maps a server health status onto a status line kind.
func healthKind(status string) statusKind {
	switch status {
	case "ok":
		return statusOK
	case "degraded":
		return statusWarn
	case "unavailable":
		return statusError
	default:
		return statusInfo
	}
}
