package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"workrate/internal/event"
	"workrate/internal/ipc"
)

var (
	dbPath     string
	socketPath string
)

var rootCmd = &cobra.Command{
	Use:   "workrate-cli",
	Short: "CLI tool to interact with the WorkRate daemon",
	Long:  `A command-line interface to the running WorkRate daemon: start and stop sessions, register work surfaces, inspect the verified clock and manage sync, all via its Unix socket.`,
}

// --- Client Helper Functions ---

func dial() (net.Conn, error) {
	conn, err := net.DialTimeout("unix", socketPath, 2*time.Second)
	if err != nil {
		return nil, fmt.Errorf("error connecting to daemon socket (%s): %w\nIs the WorkRate daemon running?", socketPath, err)
	}
	return conn, nil
}

// request sends one command and returns the daemon's answer.
func request(name string, args any) (ipc.Response, error) {
	cmd, err := ipc.NewCommand(name, args)
	if err != nil {
		return ipc.Response{}, err
	}
	conn, err := dial()
	if err != nil {
		return ipc.Response{}, err
	}
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(35 * time.Second))
	if err := json.NewEncoder(conn).Encode(cmd); err != nil {
		return ipc.Response{}, fmt.Errorf("error sending command: %w", err)
	}
	var resp ipc.Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return ipc.Response{}, fmt.Errorf("error receiving response: %w", err)
	}
	return resp, nil
}

// fetch runs a command and decodes its data into v, exiting on failure.
func fetch(name string, args, v any) {
	resp, err := request(name, args)
	if err != nil {
		log.Fatal(err)
	}
	if !resp.Success {
		fmt.Fprintf(os.Stderr, "Error: %s\n", resp.Message)
		os.Exit(1)
	}
	raw, err := json.Marshal(resp.Data)
	if err != nil {
		log.Fatalf("Error re-encoding response data: %v", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		log.Fatalf("Error decoding response data: %v", err)
	}
}

func sendCommand(name string, args any) {
	resp, err := request(name, args)
	if err != nil {
		log.Fatal(err)
	}

	if resp.Success {
		if resp.Message != "" {
			fmt.Println("Success:", resp.Message)
		} else {
			fmt.Println("Success")
		}
		if resp.Data != nil {
			prettyData, err := json.MarshalIndent(resp.Data, "", "  ")
			if err == nil {
				fmt.Println("Data:")
				fmt.Println(string(prettyData))
			} else {
				fmt.Println("Data (raw):", resp.Data)
			}
		}
	} else {
		fmt.Fprintf(os.Stderr, "Error: %s\n", resp.Message)
		os.Exit(1)
	}
}

// --- Command Definitions ---

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check if the WorkRate daemon is running",
	Run: func(cmd *cobra.Command, args []string) {
		sendCommand(ipc.CmdPing, nil)
	},
}

// Session Command Group
var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Start, stop and edit the work session",
}

var sessionStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a session on the registered surfaces",
	Run: func(cmd *cobra.Command, args []string) {
		task, _ := cmd.Flags().GetString("task")
		client, _ := cmd.Flags().GetString("client")
		tags, _ := cmd.Flags().GetStringSlice("tags")
		sendCommand(ipc.CmdStartSession, ipc.StartSessionArgs{Task: task, Client: client, Tags: tags})
	},
}

var sessionStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the session and print its summary",
	Run: func(cmd *cobra.Command, args []string) {
		sendCommand(ipc.CmdStopSession, nil)
	},
}

var sessionTaskCmd = &cobra.Command{
	Use:   "task",
	Short: "Change the task, client or tags of the running session",
	Run: func(cmd *cobra.Command, args []string) {
		var a ipc.UpdateTaskArgs
		if cmd.Flags().Changed("task") {
			v, _ := cmd.Flags().GetString("task")
			a.Task = &v
		}
		if cmd.Flags().Changed("client") {
			v, _ := cmd.Flags().GetString("client")
			a.Client = &v
		}
		if cmd.Flags().Changed("tags") {
			a.Tags, _ = cmd.Flags().GetStringSlice("tags")
		}
		if a.Task == nil && a.Client == nil && a.Tags == nil {
			log.Fatal("Error: nothing to change; pass --task, --client or --tags")
		}
		sendCommand(ipc.CmdUpdateTask, a)
	},
}

var sessionAdjustCmd = &cobra.Command{
	Use:   "adjust",
	Short: "Correct verified time (e.g. --verified 1h30m --reason 'forgot to register docs')",
	Run: func(cmd *cobra.Command, args []string) {
		verified, _ := cmd.Flags().GetDuration("verified")
		reason, _ := cmd.Flags().GetString("reason")
		if strings.TrimSpace(reason) == "" {
			log.Fatal("Error: --reason flag is required")
		}
		sendCommand(ipc.CmdAdjustTime, ipc.AdjustTimeArgs{
			NewVerifiedSec: int64(verified.Round(time.Second) / time.Second),
			Reason:         reason,
		})
	},
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Show completed sessions stored locally",
	Run: func(cmd *cobra.Command, args []string) {
		limit, _ := cmd.Flags().GetInt("limit")
		printSessions(limit)
	},
}

// Surface Command Group
var surfaceCmd = &cobra.Command{
	Use:   "surface",
	Short: "Manage registered work surfaces",
}

var surfaceRegisterCmd = &cobra.Command{
	Use:   "register [url]",
	Short: "Register a surface, or the focused one when no URL is given",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		var a ipc.RegisterSurfaceArgs
		if len(args) == 1 {
			id, _ := cmd.Flags().GetString("id")
			title, _ := cmd.Flags().GetString("title")
			if id == "" {
				id = args[0]
			}
			a.Surface = &event.SurfaceRef{ID: id, URL: args[0], Title: title}
		}
		sendCommand(ipc.CmdRegisterSurface, a)
	},
}

var surfaceUnregisterCmd = &cobra.Command{
	Use:   "unregister <id>",
	Short: "Remove a surface from the registry",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		sendCommand(ipc.CmdUnregisterSurface, ipc.SurfaceIDArgs{ID: args[0]})
	},
}

var surfaceClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every registered surface",
	Run: func(cmd *cobra.Command, args []string) {
		sendCommand(ipc.CmdClearSurfaces, nil)
	},
}

var toggleCmd = &cobra.Command{
	Use:   "toggle",
	Short: "Stop the running session, or start one with the last task",
	Run: func(cmd *cobra.Command, args []string) {
		task, _ := cmd.Flags().GetString("task")
		client, _ := cmd.Flags().GetString("client")
		sendCommand(ipc.CmdToggleSession, ipc.ToggleSessionArgs{Task: task, Client: client})
	},
}

var deepWorkCmd = &cobra.Command{
	Use:       "deepwork <on|off>",
	Short:     "Toggle deep work mode (warns when a blocked site gets focus)",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"on", "off"},
	Run: func(cmd *cobra.Command, args []string) {
		block, _ := cmd.Flags().GetStringSlice("block")
		switch args[0] {
		case "on":
			sendCommand(ipc.CmdSetDeepWork, ipc.SetDeepWorkArgs{Enabled: true, BlockList: block})
		case "off":
			sendCommand(ipc.CmdSetDeepWork, ipc.SetDeepWorkArgs{Enabled: false})
		default:
			log.Fatalf("Invalid mode: %s. Use 'on' or 'off'", args[0])
		}
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the live clock, buckets and badge",
	Run: func(cmd *cobra.Command, args []string) {
		asJSON, _ := cmd.Flags().GetBool("json")
		if asJSON {
			sendCommand(ipc.CmdGetState, nil)
			return
		}
		printStatus()
	},
}

// Sync Command Group
var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Inspect and drive the upload queue",
}

var syncDrainCmd = &cobra.Command{
	Use:   "drain",
	Short: "Upload queued sessions now",
	Run: func(cmd *cobra.Command, args []string) {
		sendCommand(ipc.CmdSyncDrain, nil)
	},
}

var syncStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show queue size and login state",
	Run: func(cmd *cobra.Command, args []string) {
		printSyncStatus()
	},
}

// Auth Command Group
var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage backend credentials",
}

var authLoginCmd = &cobra.Command{
	Use:   "set-tokens",
	Short: "Store tokens obtained from the web dashboard",
	Run: func(cmd *cobra.Command, args []string) {
		access, _ := cmd.Flags().GetString("access")
		refresh, _ := cmd.Flags().GetString("refresh")
		email, _ := cmd.Flags().GetString("email")
		user, _ := cmd.Flags().GetString("user")
		sendCommand(ipc.CmdSetTokens, ipc.SetTokensArgs{AccessToken: access, RefreshToken: refresh, Email: email, UserID: user})
	},
}

var authLogoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Revoke and forget the stored tokens",
	Run: func(cmd *cobra.Command, args []string) {
		sendCommand(ipc.CmdLogout, nil)
	},
}

// Signal Command Group, for browser bridges and scripts.
var signalCmd = &cobra.Command{
	Use:   "signal",
	Short: "Send host signals (focus, idle, activity) to the daemon",
}

var signalFocusCmd = &cobra.Command{
	Use:   "focus <id> <url>",
	Short: "Report that a surface gained focus",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		title, _ := cmd.Flags().GetString("title")
		sendCommand(ipc.CmdFocusChanged, ipc.FocusChangedArgs{Surface: event.SurfaceRef{ID: args[0], URL: args[1], Title: title}})
	},
}

var signalClosedCmd = &cobra.Command{
	Use:   "closed <id>",
	Short: "Report that a surface was closed",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		sendCommand(ipc.CmdSurfaceClosed, ipc.SurfaceIDArgs{ID: args[0]})
	},
}

var signalIdleCmd = &cobra.Command{
	Use:       "idle <active|idle|locked>",
	Short:     "Report the system idle state",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{string(event.IdleActive), string(event.IdleIdle), string(event.IdleLocked)},
	Run: func(cmd *cobra.Command, args []string) {
		sendCommand(ipc.CmdIdleChanged, ipc.IdleChangedArgs{State: event.IdleState(args[0])})
	},
}

var signalActivityCmd = &cobra.Command{
	Use:   "activity <surface-id>",
	Short: "Report user input on a surface",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		domain, _ := cmd.Flags().GetString("domain")
		intensity, _ := cmd.Flags().GetInt("intensity")
		sendCommand(ipc.CmdActivitySignal, ipc.ActivitySignalArgs{SurfaceID: args[0], Domain: domain, Intensity: intensity})
	},
}

var signalOnlineCmd = &cobra.Command{
	Use:   "online",
	Short: "Report that the network is back",
	Run: func(cmd *cobra.Command, args []string) {
		sendCommand(ipc.CmdNetworkOnline, nil)
	},
}

func main() {
	defaultSocket := ipc.SocketPath
	if v := os.Getenv("WORKRATE_SOCKET_PATH"); v != "" {
		defaultSocket = v
	}
	rootCmd.PersistentFlags().StringVar(&socketPath, "socket", defaultSocket, "Path to the daemon socket")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "workrate.db", "Path to the WorkRate database file (used by report and events)")

	// --- Session Commands ---
	sessionStartCmd.Flags().StringP("task", "t", "", "Task description (required)")
	sessionStartCmd.Flags().StringP("client", "c", "", "Client name")
	sessionStartCmd.Flags().StringSlice("tags", nil, "Comma separated tags")
	sessionStartCmd.MarkFlagRequired("task")

	sessionTaskCmd.Flags().StringP("task", "t", "", "New task description")
	sessionTaskCmd.Flags().StringP("client", "c", "", "New client name")
	sessionTaskCmd.Flags().StringSlice("tags", nil, "New tags (replaces the old ones)")

	sessionAdjustCmd.Flags().Duration("verified", 0, "New verified time, e.g. 1h30m (required)")
	sessionAdjustCmd.Flags().StringP("reason", "r", "", "Why the time is corrected (required)")
	sessionAdjustCmd.MarkFlagRequired("verified")
	sessionAdjustCmd.MarkFlagRequired("reason")

	sessionCmd.AddCommand(sessionStartCmd, sessionStopCmd, sessionTaskCmd, sessionAdjustCmd)
	rootCmd.AddCommand(sessionCmd)

	sessionsCmd.Flags().IntP("limit", "n", 20, "Number of sessions to show")
	rootCmd.AddCommand(sessionsCmd)

	toggleCmd.Flags().StringP("task", "t", "", "Task for a new session (defaults to the last one)")
	toggleCmd.Flags().StringP("client", "c", "", "Client for a new session")
	rootCmd.AddCommand(toggleCmd)

	// --- Surface Commands ---
	surfaceRegisterCmd.Flags().String("id", "", "Surface id (defaults to the URL)")
	surfaceRegisterCmd.Flags().String("title", "", "Display title")
	surfaceCmd.AddCommand(surfaceRegisterCmd, surfaceUnregisterCmd, surfaceClearCmd)
	rootCmd.AddCommand(surfaceCmd)

	deepWorkCmd.Flags().StringSlice("block", nil, "Domains to block instead of the default list")
	rootCmd.AddCommand(deepWorkCmd)

	// --- Sync and Auth Commands ---
	syncCmd.AddCommand(syncDrainCmd, syncStatusCmd)
	rootCmd.AddCommand(syncCmd)

	authLoginCmd.Flags().String("access", "", "Access token (required)")
	authLoginCmd.Flags().String("refresh", "", "Refresh token")
	authLoginCmd.Flags().String("email", "", "Account email")
	authLoginCmd.Flags().String("user", "", "Account user id")
	authLoginCmd.MarkFlagRequired("access")
	authCmd.AddCommand(authLoginCmd, authLogoutCmd)
	rootCmd.AddCommand(authCmd)

	// --- Signal Commands ---
	signalFocusCmd.Flags().String("title", "", "Surface title")
	signalActivityCmd.Flags().String("domain", "", "Domain, when the surface id is unknown")
	signalActivityCmd.Flags().Int("intensity", 50, "Activity intensity 0-100")
	signalCmd.AddCommand(signalFocusCmd, signalClosedCmd, signalIdleCmd, signalActivityCmd, signalOnlineCmd)
	rootCmd.AddCommand(signalCmd)

	// --- Report Commands ---
	reportGenerateCmd.Flags().IntP("days", "d", 7, "Number of past days to include in the report")
	reportGenerateCmd.Flags().StringP("output", "o", "workrate_report.html", "Output HTML file name")
	reportGenerateCmd.Flags().BoolP("open", "O", false, "Open the generated report in the default browser")
	reportCmd.AddCommand(reportGenerateCmd)
	rootCmd.AddCommand(reportCmd)

	eventsCmd.Flags().Duration("since", 24*time.Hour, "How far back to look")
	eventsCmd.Flags().StringSlice("type", nil, "Only these event types (e.g. clock_change,session_stop)")
	eventsCmd.Flags().String("session", "", "Only events of this session id")
	rootCmd.AddCommand(eventsCmd)

	// --- Other Commands ---
	statusCmd.Flags().Bool("json", false, "Print the raw snapshot")
	rootCmd.AddCommand(pingCmd, statusCmd, watchCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error executing command: %v\n", err)
		os.Exit(1)
	}
}
