package desktop

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/rodaine/table"

	"voice-session/internal/attributes"
	"voice-session/internal/audio/devices"
	"voice-session/internal/controller"
	"voice-session/internal/session"
)

var (
	ErrorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000"))
	OKStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00"))
	InfoStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#0099FF"))
	WarnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFAA00"))
	DimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	BoldStyle   = lipgloss.NewStyle().Bold(true)
	AgentStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#B388FF"))
	MicStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#4DD0E1"))
	HeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FFFFFF"))
)

var levels = []rune(" ▁▂▃▄▅▆▇█")

// Meter draws one block character per band.
func Meter(frame []float32) string {
	var b strings.Builder
	for _, v := range frame {
		switch {
		case v <= 0:
			b.WriteRune(levels[0])
		case v >= 1:
			b.WriteRune(levels[len(levels)-1])
		default:
			b.WriteRune(levels[int(v*float32(len(levels)-1)+0.5)])
		}
	}
	return b.String()
}

func stateStyle(s session.ConnectionState) lipgloss.Style {
	switch s {
	case session.Connected:
		return OKStyle
	case session.Connecting, session.Reconnecting:
		return WarnStyle
	default:
		return DimStyle
	}
}

// StatusLine is the single line redrawn on every render tick.
func StatusLine(v controller.View) string {
	state := stateStyle(v.State).Render(v.State.String())
	if v.Loading {
		state += DimStyle.Render(" (waiting for agent)")
	}
	line := fmt.Sprintf("%s  agent %s  mic %s",
		state,
		AgentStyle.Render(Meter(v.AgentBands)),
		MicStyle.Render(Meter(v.MicBands)))
	if v.Error != "" {
		line += "  " + ErrorStyle.Render(v.Error)
	}
	return line
}

// NewTable creates a table styled like the rest of the output.
func NewTable(w io.Writer, headers ...interface{}) table.Table {
	tbl := table.New(headers...)
	tbl.WithWriter(w)
	tbl.WithFirstColumnFormatter(func(format string, vals ...interface{}) string {
		return BoldStyle.Render(fmt.Sprintf(format, vals...))
	})
	tbl.WithPadding(2)
	tbl.WithWidthFunc(lipgloss.Width)
	return tbl
}

func PrintDevices(w io.Writer, list []devices.Descriptor, selected string) {
	fmt.Fprintln(w, HeaderStyle.Render(fmt.Sprintf("Output devices (%d)", len(list))))
	if len(list) == 0 {
		fmt.Fprintln(w, DimStyle.Render("  none found"))
		return
	}
	tbl := NewTable(w, "ID", "NAME", "DEFAULT", "SELECTED")
	for _, d := range list {
		tbl.AddRow(d.ID, d.DisplayName(), mark(d.Default), mark(d.ID == selected))
	}
	tbl.Print()
}

func PrintVoices(w io.Writer, voices []attributes.Voice, selected string) {
	fmt.Fprintln(w, HeaderStyle.Render(fmt.Sprintf("Voices (%d)", len(voices))))
	if len(voices) == 0 {
		fmt.Fprintln(w, DimStyle.Render("  the agent has not shared any voices"))
		return
	}
	tbl := NewTable(w, "ID", "NAME", "SHARED", "SELECTED")
	for _, v := range voices {
		tbl.AddRow(v.ID, v.DisplayName(), mark(v.Shared()), mark(v.ID == selected))
	}
	tbl.Print()
}

func PrintSettings(w io.Writer, v controller.View) {
	fmt.Fprintln(w, HeaderStyle.Render("Assistant"))
	fmt.Fprintf(w, "  name:   %s\n", v.AssistantName)
	fmt.Fprintf(w, "  prompt: %s\n", v.Prompt)
	if v.VoiceDraft != "" {
		fmt.Fprintf(w, "  voice:  %s\n", v.VoiceDraft)
	}
}

func mark(b bool) string {
	if b {
		return "*"
	}
	return ""
}
