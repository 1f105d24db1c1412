package main

import (
	"context"
	_ "embed"
	"fmt"
	"html/template"
	"io"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"workrate/internal/session"
	"workrate/internal/storage"

	sqlitestore "workrate/internal/storage/sqlite"
)

//go:embed report.html.tmpl
var reportTemplate string

type DayRow struct {
	Date        string
	Sessions    int
	Verified    string
	OffTask     string
	Idle        string
	VerifiedPct int
	OffTaskPct  int
	AvgScore    int
}

type DomainRow struct {
	Domain   string
	Count    int
	Duration string
}

type HeatRow struct {
	Hour  string
	Cells []int // average intensity per five-minute block
}

type ReportData struct {
	GeneratedAt string
	StartDate   string
	EndDate     string

	Sessions    int
	Verified    string
	OffTask     string
	Idle        string
	FocusPct    int
	AvgScore    int
	Adjustments int

	Days         []DayRow
	Distractions []DomainRow
	Heat         []HeatRow
}

// buildReport aggregates the sessions that ended in [start, end].
func buildReport(list []storage.StoredSession, start, end time.Time) ReportData {
	type dayAgg struct {
		n        int
		b        session.Buckets
		scoreSum int
	}
	days := map[string]*dayAgg{}
	type domAgg struct {
		count int
		sec   int64
	}
	domains := map[string]*domAgg{}
	var heatSum, heatN [24][12]int

	var total session.Buckets
	scoreSum, n, adjustments := 0, 0, 0
	for _, s := range list {
		if s.End.Before(start) || s.End.After(end) {
			continue
		}
		n++
		total.VerifiedSec += s.VerifiedSec
		total.OffTaskSec += s.OffTaskSec
		total.IdleSec += s.IdleSec
		scoreSum += s.Score
		adjustments += len(s.Adjustments)

		key := s.Start.Local().Format("2006-01-02")
		d := days[key]
		if d == nil {
			d = &dayAgg{}
			days[key] = d
		}
		d.n++
		d.b.VerifiedSec += s.VerifiedSec
		d.b.OffTaskSec += s.OffTaskSec
		d.b.IdleSec += s.IdleSec
		d.scoreSum += s.Score

		for _, e := range s.OffTaskEvents {
			a := domains[e.Domain]
			if a == nil {
				a = &domAgg{}
				domains[e.Domain] = a
			}
			a.count++
			a.sec += e.DurationSec
		}
		for _, h := range s.Heatmap {
			if h.Hour < 0 || h.Hour > 23 || h.Block < 0 || h.Block > 11 {
				continue
			}
			heatSum[h.Hour][h.Block] += h.Intensity
			heatN[h.Hour][h.Block]++
		}
	}

	data := ReportData{
		GeneratedAt: time.Now().Format("2006-01-02 15:04:05"),
		StartDate:   start.Format("2006-01-02"),
		EndDate:     end.Format("2006-01-02"),
		Sessions:    n,
		Verified:    session.FormatDuration(total.VerifiedSec),
		OffTask:     session.FormatDuration(total.OffTaskSec),
		Idle:        session.FormatDuration(total.IdleSec),
		FocusPct:    session.Percent(total.VerifiedSec, total.VerifiedSec+total.OffTaskSec),
		Adjustments: adjustments,
	}
	if n > 0 {
		data.AvgScore = (scoreSum + n/2) / n
	}

	keys := make([]string, 0, len(days))
	for k := range days {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		d := days[k]
		wall := d.b.Wall()
		data.Days = append(data.Days, DayRow{
			Date:        k,
			Sessions:    d.n,
			Verified:    session.FormatDuration(d.b.VerifiedSec),
			OffTask:     session.FormatDuration(d.b.OffTaskSec),
			Idle:        session.FormatDuration(d.b.IdleSec),
			VerifiedPct: session.Percent(d.b.VerifiedSec, wall),
			OffTaskPct:  session.Percent(d.b.OffTaskSec, wall),
			AvgScore:    (d.scoreSum + d.n/2) / d.n,
		})
	}

	for dom, a := range domains {
		data.Distractions = append(data.Distractions, DomainRow{Domain: dom, Count: a.count, Duration: session.FormatDuration(a.sec)})
	}
	sort.Slice(data.Distractions, func(i, j int) bool {
		if data.Distractions[i].Count != data.Distractions[j].Count {
			return data.Distractions[i].Count > data.Distractions[j].Count
		}
		return data.Distractions[i].Domain < data.Distractions[j].Domain
	})
	if len(data.Distractions) > 10 {
		data.Distractions = data.Distractions[:10]
	}

	for h := 0; h < 24; h++ {
		cells := make([]int, 12)
		seen := false
		for b := 0; b < 12; b++ {
			if heatN[h][b] > 0 {
				cells[b] = heatSum[h][b] / heatN[h][b]
				seen = true
			}
		}
		if seen {
			data.Heat = append(data.Heat, HeatRow{Hour: fmt.Sprintf("%02d:00", h), Cells: cells})
		}
	}
	return data
}

func renderReport(w io.Writer, data ReportData) error {
	tmpl, err := template.New("report").Funcs(template.FuncMap{
		"heatColor": func(v int) template.CSS {
			if v <= 0 {
				return "background:#F1EFEA"
			}
			return template.CSS(fmt.Sprintf("background:rgba(27,122,80,%.2f)", 0.15+0.85*float64(v)/100))
		},
	}).Parse(reportTemplate)
	if err != nil {
		return fmt.Errorf("failed to parse report template: %w", err)
	}
	return tmpl.Execute(w, data)
}

func openBrowser(url string) error {
	var cmd string
	var args []string

	switch runtime.GOOS {
	case "windows":
		cmd = "cmd"
		args = []string{"/c", "start"}
	case "darwin":
		cmd = "open"
	default:
		cmd = "xdg-open"
	}
	args = append(args, url)
	return exec.Command(cmd, args...).Start()
}

// Report Command Group
var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Generate reports from stored WorkRate sessions",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		requireDB()
	},
}

// requireDB exits unless the database file the daemon writes exists.
func requireDB() {
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		log.Fatalf("Error: Database file not found at %s. Ensure the workrate daemon has run or specify path with --db.", dbPath)
	} else if err != nil {
		log.Fatalf("Error accessing database file %s: %v", dbPath, err)
	}
}

// openStore opens the daemon's database for reading.
func openStore(ctx context.Context) *sqlitestore.SQLiteStore {
	store := sqlitestore.NewSQLiteStore(dbPath)
	if err := store.Init(ctx); err != nil {
		log.Fatalf("Failed to initialize storage connection: %v", err)
	}
	return store
}

var reportGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate an HTML report of verified time",
	Run: func(cmd *cobra.Command, args []string) {
		days, _ := cmd.Flags().GetInt("days")
		outputFile, _ := cmd.Flags().GetString("output")
		openReport, _ := cmd.Flags().GetBool("open")

		endTime := time.Now()
		startTime := endTime.AddDate(0, 0, -days)
		log.Printf("Generating report for %d days (%s to %s)", days, startTime.Format("2006-01-02"), endTime.Format("2006-01-02"))
		log.Printf("Using database: %s", dbPath)

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		store := openStore(ctx)
		defer store.Close()

		list, err := store.ListSessions(ctx, 10000)
		if err != nil {
			log.Fatalf("Failed to fetch sessions: %v", err)
		}
		data := buildReport(list, startTime, endTime)
		if data.Sessions == 0 {
			fmt.Println("No sessions found for the specified period.")
			return
		}

		f, err := os.Create(outputFile)
		if err != nil {
			log.Fatalf("Failed to create output file (%s): %v", outputFile, err)
		}
		defer f.Close()
		if err := renderReport(f, data); err != nil {
			log.Fatalf("Failed to execute template: %v", err)
		}
		log.Printf("Report successfully generated: %s", outputFile)

		if openReport {
			absPath, _ := filepath.Abs(outputFile)
			url := "file://" + absPath
			log.Printf("Opening report in browser: %s", url)
			if err := openBrowser(url); err != nil {
				log.Printf("Warning: Failed to open report in browser: %v", err)
			}
		}
	},
}
