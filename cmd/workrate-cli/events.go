package main

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"workrate/internal/engine"
	"workrate/internal/event"
	"workrate/internal/session"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Show the clock and session journal from the local database",
	PreRun: func(cmd *cobra.Command, args []string) {
		requireDB()
	},
	Run: func(cmd *cobra.Command, args []string) {
		since, _ := cmd.Flags().GetDuration("since")
		types, _ := cmd.Flags().GetStringSlice("type")
		sessionID, _ := cmd.Flags().GetString("session")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		store := openStore(ctx)
		defer store.Close()

		eventTypes := make([]event.EventType, 0, len(types))
		for _, t := range types {
			eventTypes = append(eventTypes, event.EventType(t))
		}
		end := time.Now()
		list, err := store.GetEvents(ctx, end.Add(-since), end, eventTypes...)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			return
		}
		fmt.Print(renderEvents(filterSession(list, sessionID)))
	},
}

func filterSession(list []event.Event, id string) []event.Event {
	if id == "" {
		return list
	}
	out := list[:0:0]
	for _, e := range list {
		if e.SessionID == id {
			out = append(out, e)
		}
	}
	return out
}

// describeEvent renders the payload of a journal entry for humans.
func describeEvent(e event.Event) string {
	switch e.Type {
	case event.EventTypeClockChange:
		if e.Tag == "running" {
			return fmt.Sprintf("counting (%s verified so far)", session.FormatDuration(int64(e.Value)))
		}
		return pauseText(engine.PauseReason(e.Tag))
	case event.EventTypeSessionStart:
		if e.Notes != "" {
			return fmt.Sprintf("started %q for %s", e.Tag, e.Notes)
		}
		return fmt.Sprintf("started %q", e.Tag)
	case event.EventTypeSessionStop:
		return fmt.Sprintf("stopped %q, %s verified, %s", e.Notes, session.FormatDuration(int64(e.Value)), e.Tag)
	case event.EventTypeRegister:
		return "registered " + e.Notes
	case event.EventTypeUnregister:
		switch e.Notes {
		case "cleared":
			return fmt.Sprintf("cleared %d surface(s)", int(e.Value))
		case "closed":
			return "surface closed " + e.Tag
		}
		return "unregistered " + e.Tag
	case event.EventTypeAdjustment:
		return fmt.Sprintf("verified set to %s: %s", session.FormatDuration(int64(e.Value)), e.Notes)
	case event.EventTypeAppStart:
		return "daemon started"
	case event.EventTypeAppStop:
		return "daemon stopped"
	}
	return e.Notes
}

func renderEvents(list []event.Event) string {
	if len(list) == 0 {
		return "No events in this period.\n"
	}
	rows := make([][]string, 0, len(list))
	for _, e := range list {
		rows = append(rows, []string{
			e.Timestamp.Local().Format("Jan 02 15:04:05"),
			string(e.Type),
			e.Domain,
			describeEvent(e),
		})
	}
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("TIME", "EVENT", "DOMAIN", "DETAIL").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	return t.String() + "\n"
}
