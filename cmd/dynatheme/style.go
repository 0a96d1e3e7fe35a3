package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"dynatheme/internal/settings"
	"dynatheme/internal/switcher"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	labelStyle = lipgloss.NewStyle().Width(12).Foreground(lipgloss.Color("8"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

func renderSettings(rec settings.Record) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Dynamic Theme Switcher") + "\n")
	row := func(label, value string) {
		b.WriteString(labelStyle.Render(label) + " " + value + "\n")
	}
	row("Day", rec.DayTime+"  "+rec.DayTheme)
	row("Night", rec.NightTime+"  "+rec.NightTheme)
	zen := "off"
	if rec.ZenModeEnabled {
		zen = "on (" + settings.DefaultDayTheme + ")"
	}
	row("Zen mode", zen)
	return b.String()
}

// renderNext lists the triggers soonest first with a relative time.
func renderNext(status []switcher.TriggerStatus, loc *time.Location, now time.Time) string {
	sorted := append([]switcher.TriggerStatus(nil), status...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Next.Before(sorted[j].Next) })

	var b strings.Builder
	b.WriteString(titleStyle.Render("Next theme changes") + mutedStyle.Render(" ("+loc.String()+")") + "\n")
	for _, st := range sorted {
		when := mutedStyle.Render("not scheduled")
		if !st.Next.IsZero() {
			when = fmt.Sprintf("%s  %s", st.Next.In(loc).Format("Mon 15:04"), mutedStyle.Render(humanize.RelTime(st.Next, now, "ago", "from now")))
		}
		b.WriteString(labelStyle.Render(st.Name) + " " + st.Theme + "  " + when + "\n")
	}
	return b.String()
}
