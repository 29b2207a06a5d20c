// ABOUTME: Entry point for the helio-console client CLI.
// ABOUTME: Subcommands for interactive chat, offline sync, status, and config init.

package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/fatih/color"
	"github.com/joho/godotenv"

	"github.com/helio-ai/console/internal/config"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
  _          _ _
 | |__   ___| (_) ___         ___ ___  _ __  ___  ___ | | ___
 | '_ \ / _ \ | |/ _ \ _____ / __/ _ \| '_ \/ __|/ _ \| |/ _ \
 | | | |  __/ | | (_) |_____| (_| (_) | | | \__ \ (_) | |  __/
 |_| |_|\___|_|_|\___/       \___\___/|_| |_|___/\___/|_|\___|
`

// getConfigPath returns the path to the console config file.
// Priority: HELIO_CONFIG env var > XDG_CONFIG_HOME/helio/console.yaml > ~/.config/helio/console.yaml
func getConfigPath() string {
	if envPath := os.Getenv("HELIO_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "console.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "helio", "console.yaml")
}

// getDataPath returns the path to the helio data directory.
// Priority: XDG_DATA_HOME/helio > ~/.local/share/helio
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "helio")
}

func main() {
	// Local development convenience; a missing .env is not an error.
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "chat":
		err = runChat(ctx, os.Args[2:])
	case "sync":
		err = runSync(ctx)
	case "status":
		err = runStatus(ctx)
	case "init":
		err = runInit()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	cyan.Print(banner)
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n", version)
	fmt.Println()
	fmt.Println("Usage: helio-console <command> [args]")
	fmt.Println()
	yellow.Println("Commands:")
	fmt.Println("  chat [conversation-id]  Open an interactive conversation (REPL)")
	fmt.Println("  sync                    Replay queued offline changes against the API")
	fmt.Println("  status                  Show session, connection, and queue status")
	fmt.Println("  init                    Create a new config file interactively")
	fmt.Println()
	yellow.Println("Environment:")
	fmt.Println("  HELIO_CONFIG            Config file path (default: ~/.config/helio/console.yaml)")
	fmt.Println("  HELIO_TOKEN             Session JWT (overrides auth.token in config)")
	fmt.Println("  HELIO_TENANT            Tenant ID (overrides auth.tenant_id in config)")
	fmt.Println()
	yellow.Println("Examples:")
	fmt.Println("  helio-console init")
	fmt.Println("  export HELIO_TOKEN=\"eyJhbG...\"")
	fmt.Println("  helio-console chat conv-7f3a")
	fmt.Println("  helio-console sync")
	fmt.Println()
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = &colorHandler{
			level: level,
		}
	}

	return slog.New(handler)
}

// colorHandler provides colorized log output with thread-safe writes. Logs go
// to stderr so the chat REPL keeps stdout to itself.
type colorHandler struct {
	mu    sync.Mutex
	level slog.Level
	attrs []slog.Attr
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var buf strings.Builder

	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	buf.WriteString(r.Message)

	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}
	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})

	buf.WriteString("\n")
	fmt.Fprint(os.Stderr, buf.String())
	return nil
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &colorHandler{
		level: h.level,
		attrs: newAttrs,
	}
}

func (h *colorHandler) WithGroup(string) slog.Handler {
	return h
}

// runInit interactively creates a console.yaml config file.
func runInit() error {
	configPath := getConfigPath()

	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("config already exists at %s", configPath)
	}

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)
	fmt.Println()
	fmt.Printf("Creating config at %s\n\n", configPath)

	reader := bufio.NewReader(os.Stdin)

	socketURL := prompt(reader, "Realtime socket URL", "wss://api.helio.example/realtime")
	apiURL := prompt(reader, "REST API base URL", "https://api.helio.example/v1")
	tenantID := prompt(reader, "Tenant ID", "")
	dbPath := prompt(reader, "Offline database path", filepath.Join(getDataPath(), "console.db"))

	content := fmt.Sprintf(`server:
  socket_url: %q
  api_url: %q

auth:
  token: ${HELIO_TOKEN}
  tenant_id: %q

realtime:
  reconnect_cap: 5
  reconnect_base: 500ms
  reconnect_max: 10s

offline:
  database_path: %q
  retry_cap: 3

typing:
  idle_window: 3s

logging:
  level: info
  format: text
`, socketURL, apiURL, tenantID, dbPath)

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(configPath, []byte(content), 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Printf("\nWrote %s\n", configPath)
	fmt.Println("Set HELIO_TOKEN in your environment (or a local .env) and run: helio-console chat")
	return nil
}

func prompt(reader *bufio.Reader, label, def string) string {
	if def != "" {
		fmt.Printf("%s [%s]: ", label, def)
	} else {
		fmt.Printf("%s: ", label)
	}
	line, err := reader.ReadString('\n')
	if err != nil {
		return def
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return def
	}
	return line
}
