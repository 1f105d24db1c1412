package main

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"github.com/spf13/cobra"

	"workrate/internal/engine"
	"workrate/internal/ipc"
	"workrate/internal/session"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Live view of the session clock (q or Esc to quit)",
	Run: func(cmd *cobra.Command, args []string) {
		if err := runWatch(); err != nil {
			log.Fatal(err)
		}
	},
}

// heatRows renders the heatmap as one line per hour with a cell per five
// minute block.
func heatRows(blocks []session.HeatmapBlock) []string {
	byHour := map[int][12]int{}
	hours := []int{}
	for _, b := range blocks {
		row, seen := byHour[b.Hour]
		if !seen {
			hours = append(hours, b.Hour)
		}
		if b.Block >= 0 && b.Block < 12 {
			row[b.Block] = b.Intensity
		}
		byHour[b.Hour] = row
	}

	lines := make([]string, 0, len(hours))
	for _, h := range hours {
		var sb strings.Builder
		fmt.Fprintf(&sb, "%02d ", h)
		for _, v := range byHour[h] {
			switch {
			case v >= 75:
				sb.WriteString("[#1B7A50]█[-]")
			case v >= 40:
				sb.WriteString("[#1B7A50]▓[-]")
			case v > 0:
				sb.WriteString("[#1B7A50]░[-]")
			default:
				sb.WriteString("[#A5A29A]·[-]")
			}
		}
		lines = append(lines, sb.String())
	}
	return lines
}

func watchText(s engine.Snapshot) string {
	if !s.IsRunning {
		return "[#A5A29A]No session running. Start one with `workrate-cli session start`.[-]"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "[%s::b]%s %s[-::-]  [::b]%s[::-]\n", s.Badge.Color, s.Badge.Text, strings.ToUpper(string(s.Badge.State)), tview.Escape(s.Task))
	fmt.Fprintf(&b, "%s\n\n", pauseText(s.PauseReason))
	fmt.Fprintf(&b, "[#1B7A50::b]%-10s[-::-] %s\n", "Verified", session.FormatDuration(s.VerifiedSec))
	fmt.Fprintf(&b, "[#B8520E]%-10s[-] %s\n", "Off-task", session.FormatDuration(s.OffTaskSec))
	fmt.Fprintf(&b, "[#A5A29A]%-10s[-] %s\n", "Idle", session.FormatDuration(s.IdleSec))
	fmt.Fprintf(&b, "%-10s %d\n", "WQI", s.Score)
	if s.ActiveDomain != "" {
		fmt.Fprintf(&b, "%-10s %s\n", "Focus", tview.Escape(s.ActiveDomain))
	}
	if rows := heatRows(s.Heatmap); len(rows) > 0 {
		b.WriteString("\n")
		b.WriteString(strings.Join(rows, "\n"))
	}
	return b.String()
}

func runWatch() error {
	conn, err := dial()
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := json.NewEncoder(conn).Encode(ipc.Command{Name: ipc.CmdSubscribe}); err != nil {
		return fmt.Errorf("error sending command: %w", err)
	}

	view := tview.NewTextView().SetDynamicColors(true)
	view.SetBorder(true).SetTitle(" WorkRate ")

	app := tview.NewApplication().SetRoot(view, true)
	app.SetInputCapture(func(ev *tcell.EventKey) *tcell.EventKey {
		if ev.Key() == tcell.KeyEscape || ev.Rune() == 'q' {
			app.Stop()
			return nil
		}
		return ev
	})

	go func() {
		dec := json.NewDecoder(conn)
		for {
			var resp ipc.Response
			if err := dec.Decode(&resp); err != nil {
				app.QueueUpdateDraw(func() { view.SetText("[red]Connection to daemon lost.[-] Press q to quit.") })
				return
			}
			if !resp.Success {
				msg := resp.Message
				app.QueueUpdateDraw(func() { view.SetText("[red]" + tview.Escape(msg) + "[-]") })
				continue
			}
			raw, _ := json.Marshal(resp.Data)
			var snap engine.Snapshot
			if err := json.Unmarshal(raw, &snap); err != nil {
				continue
			}
			text := watchText(snap)
			app.QueueUpdateDraw(func() { view.SetText(text) })
		}
	}()

	return app.Run()
}
