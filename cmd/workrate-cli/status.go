package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"

	"workrate/internal/engine"
	"workrate/internal/gateway"
	"workrate/internal/ipc"
	"workrate/internal/session"
	"workrate/internal/storage"
)

var (
	labelStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#A5A29A"))
	taskStyle     = lipgloss.NewStyle().Bold(true)
	verifiedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#1B7A50")).Bold(true)
	offTaskStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#B8520E"))
	headerStyle   = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle     = lipgloss.NewStyle().Padding(0, 1)
)

func badgeStyle(b engine.Badge) lipgloss.Style {
	return lipgloss.NewStyle().
		Bold(true).
		Padding(0, 1).
		Foreground(lipgloss.Color("#FFFFFF")).
		Background(lipgloss.Color(b.Color))
}

func pauseText(r engine.PauseReason) string {
	switch r {
	case engine.PauseIdleSystem:
		return "paused: system idle"
	case engine.PauseIdleActivity:
		return "paused: no activity"
	case engine.PauseOffSurface:
		return "paused: off registered surfaces"
	default:
		return "counting"
	}
}

func renderStatus(s engine.Snapshot, now time.Time) string {
	var b strings.Builder

	if !s.IsRunning {
		b.WriteString(labelStyle.Render("No session running.") + "\n")
	} else {
		b.WriteString(badgeStyle(s.Badge).Render(s.Badge.Text+" "+strings.ToUpper(string(s.Badge.State))) + " ")
		title := s.Task
		if s.Client != "" {
			title += " (" + s.Client + ")"
		}
		b.WriteString(taskStyle.Render(title) + "\n")
		b.WriteString(labelStyle.Render(fmt.Sprintf("started %s · %s", humanize.RelTime(s.SessionStart, now, "ago", "from now"), pauseText(s.PauseReason))) + "\n\n")

		b.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s   %s %d\n",
			labelStyle.Render("Verified"), verifiedStyle.Render(session.FormatDuration(s.VerifiedSec)),
			labelStyle.Render("Off-task"), offTaskStyle.Render(session.FormatDuration(s.OffTaskSec)),
			labelStyle.Render("Idle"), session.FormatDuration(s.IdleSec),
			labelStyle.Render("WQI"), s.Score))
		b.WriteString(fmt.Sprintf("%s %d off-task, %d between surfaces\n",
			labelStyle.Render("Switches"), s.Switches.OffTask, s.Switches.Registered))
	}

	domains := make([]string, 0, len(s.RegisteredSurfaces))
	for _, r := range s.RegisteredSurfaces {
		domains = append(domains, r.Domain)
	}
	if len(domains) == 0 {
		domains = append(domains, "none")
	}
	b.WriteString(labelStyle.Render("Surfaces") + " " + strings.Join(domains, ", ") + "\n")

	if s.DeepWork {
		b.WriteString(labelStyle.Render("Deep work") + fmt.Sprintf(" on, %d domains blocked\n", len(s.BlockList)))
	}
	return b.String()
}

func renderSessions(list []storage.StoredSession, now time.Time) string {
	if len(list) == 0 {
		return "No sessions stored yet.\n"
	}
	rows := make([][]string, 0, len(list))
	for _, s := range list {
		rows = append(rows, []string{
			humanize.RelTime(s.End, now, "ago", "from now"),
			s.Task,
			session.FormatDuration(s.VerifiedSec),
			strconv.Itoa(s.FocusPct) + "%",
			strconv.Itoa(s.Score),
			string(s.SyncState),
		})
	}
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("ENDED", "TASK", "VERIFIED", "FOCUS", "WQI", "SYNC").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	return t.String() + "\n"
}

func renderSyncStatus(st gateway.Status, now time.Time) string {
	var b strings.Builder
	if st.LoggedIn {
		who := st.Email
		if who == "" {
			who = "logged in"
		}
		b.WriteString(labelStyle.Render("Account") + " " + who + "\n")
	} else {
		b.WriteString(labelStyle.Render("Account") + " not logged in, sessions stay local\n")
	}
	b.WriteString(labelStyle.Render("Queued") + " " + humanize.Comma(int64(st.Queued)) + " sessions\n")
	if !st.LastDrain.IsZero() {
		b.WriteString(labelStyle.Render("Last upload") + " " + humanize.RelTime(st.LastDrain, now, "ago", "from now") + "\n")
	}
	if st.LastError != "" {
		b.WriteString(offTaskStyle.Render("Last error: "+st.LastError) + "\n")
	}
	return b.String()
}

func printStatus() {
	var snap engine.Snapshot
	fetch(ipc.CmdGetState, nil, &snap)
	fmt.Print(renderStatus(snap, time.Now()))
}

func printSessions(limit int) {
	var list []storage.StoredSession
	fetch(ipc.CmdListSessions, ipc.ListSessionsArgs{Limit: limit}, &list)
	fmt.Print(renderSessions(list, time.Now()))
}

func printSyncStatus() {
	var st gateway.Status
	fetch(ipc.CmdSyncStatus, nil, &st)
	fmt.Print(renderSyncStatus(st, time.Now()))
}
