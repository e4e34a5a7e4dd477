// ABOUTME: Entry point for the espfleet orchestrator
// ABOUTME: Boots the fleet from config + inventory and runs it until signalled

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
	"time"

	"github.com/fatih/color"

	"github.com/2389/espfleet/internal/agent"
	"github.com/2389/espfleet/internal/agents"
	"github.com/2389/espfleet/internal/config"
	"github.com/2389/espfleet/internal/device"
	"github.com/2389/espfleet/internal/orchestrator"
	"github.com/2389/espfleet/internal/router"
	"github.com/2389/espfleet/internal/sched"
	"github.com/2389/espfleet/internal/store"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                  __ _           _
  ___  ___ _ __  / _| | ___  ___| |_
 / _ \/ __| '_ \| |_| |/ _ \/ _ \ __|
|  __/\__ \ |_) |  _| |  __/  __/ |_
 \___||___/ .__/|_| |_|\___|\___|\__|
          |_|
`

// getConfigPath returns the path to the espfleet config file.
// Priority: ESPFLEET_CONFIG env var > XDG_CONFIG_HOME/espfleet/espfleet.yaml > ~/.config/espfleet/espfleet.yaml
func getConfigPath() string {
	if envPath := os.Getenv("ESPFLEET_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "espfleet.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "espfleet", "espfleet.yaml")
}

// getInventoryPath returns the path to the fleet inventory file, or "" when
// no inventory is configured.
// Priority: ESPFLEET_FLEET env var > fleet.toml next to the config file
func getInventoryPath(configPath string) string {
	if envPath := os.Getenv("ESPFLEET_FLEET"); envPath != "" {
		return envPath
	}

	candidate := filepath.Join(filepath.Dir(configPath), "fleet.toml")
	if _, err := os.Stat(candidate); err == nil {
		return candidate
	}
	return ""
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: espfleet <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve    Start the fleet orchestrator")
		fmt.Println("  status   Show recent fleet events from the ledger")
		fmt.Println("  init     Create a starter config file interactively")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "status":
		err = runStatus(ctx)
	case "init":
		err = runInit()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig loads the config file, falling back to defaults when no file
// exists at the resolved path.
func loadConfig(configPath string) (*config.Config, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return config.Default(), nil
	}
	return config.Load(configPath)
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	// Version info
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	// Startup info
	green := color.New(color.FgGreen)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Database:  %s\n", databaseLabel(cfg.Database.Path))

	inventoryPath := getInventoryPath(configPath)
	var inv *config.Inventory
	if inventoryPath != "" {
		inv, err = config.LoadInventory(inventoryPath)
		if err != nil {
			return fmt.Errorf("loading inventory: %w", err)
		}
		green.Print("    ▶ ")
		fmt.Printf("Fleet:     %s (%d devices, %d agent entries)\n", inventoryPath, len(inv.Devices), len(inv.Agents))
	}

	fmt.Println()

	logger.Info("starting espfleet",
		"config", configPath,
		"health_interval", cfg.Orchestrator.HealthCheckInterval,
		"max_concurrent", cfg.Orchestrator.SchedulerMaxConcurrent,
	)

	var ledger store.Ledger
	if cfg.Database.Path != "" {
		sqlLedger, err := store.NewSQLiteLedger(cfg.Database.Path)
		if err != nil {
			return fmt.Errorf("opening ledger: %w", err)
		}
		defer sqlLedger.Close()
		ledger = sqlLedger
	}

	orch := orchestrator.New(orchestrator.Params{
		Router: router.New(router.Weights{
			Availability: cfg.Router.AvailabilityWeight,
			SuccessRate:  cfg.Router.SuccessRateWeight,
			Recency:      cfg.Router.RecencyWeight,
		}, logger),
		Scheduler:           sched.New(cfg.Orchestrator.SchedulerMaxConcurrent, logger),
		Ledger:              ledger,
		HealthCheckInterval: cfg.Orchestrator.HealthCheckInterval,
		ResultCacheSize:     cfg.Orchestrator.ResultCacheSize,
		Logger:              logger,
	})

	if inv != nil {
		if err := populateFleet(orch, inv, cfg, logger); err != nil {
			return fmt.Errorf("populating fleet: %w", err)
		}
	}

	if err := orch.Start(ctx); err != nil {
		return fmt.Errorf("starting orchestrator: %w", err)
	}

	<-ctx.Done()
	logger.Info("shutting down")

	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return orch.Stop(stopCtx)
}

// populateFleet registers the inventory's devices and agents with the
// orchestrator.
func populateFleet(orch *orchestrator.Orchestrator, inv *config.Inventory, cfg *config.Config, logger *slog.Logger) error {
	for _, entry := range inv.Devices {
		caps := make([]device.Capability, 0, len(entry.Capabilities))
		for _, c := range entry.Capabilities {
			caps = append(caps, device.Capability(c))
		}

		orch.RegisterDevice(device.New(device.Params{
			ID:              entry.ID,
			Name:            entry.Name,
			Address:         entry.Address,
			MAC:             entry.MAC,
			Capabilities:    caps,
			FirmwareVersion: entry.Firmware,
			PingTimeout:     cfg.Device.PingTimeout,
			CommandTimeout:  cfg.Device.CommandTimeout,
			Logger:          logger,
		}))
	}

	for _, entry := range inv.Agents {
		for i := 0; i < entry.Count; i++ {
			a, err := newAgent(entry.Type, logger)
			if err != nil {
				return err
			}
			orch.RegisterAgent(a)
		}
	}

	return nil
}

func newAgent(agentType string, logger *slog.Logger) (agent.Agent, error) {
	switch agentType {
	case agents.TypeFrequency:
		return agents.NewFrequency(logger)
	case agents.TypeFirmware:
		return agents.NewFirmware(logger)
	case agents.TypeDiscovery:
		return agents.NewDiscovery(logger)
	default:
		return nil, fmt.Errorf("unknown agent type %q", agentType)
	}
}

func databaseLabel(path string) string {
	if path == "" {
		return "(in-memory only)"
	}
	return path
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
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = &colorHandler{
			level: level,
		}
	}

	return slog.New(handler)
}

// colorHandler provides colorized log output with thread-safe writes.
type colorHandler struct {
	mu     sync.Mutex
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var buf strings.Builder

	// Format timestamp
	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	// Colorize level
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

	// Print message
	buf.WriteString(r.Message)

	// Print handler-level attrs first (from WithAttrs)
	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}

	// Print record attrs
	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})

	buf.WriteString("\n")
	fmt.Print(buf.String())
	return nil
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &colorHandler{
		level:  h.level,
		attrs:  newAttrs,
		groups: h.groups,
	}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	newGroups := make([]string, len(h.groups), len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups = append(newGroups, name)
	return &colorHandler{
		level:  h.level,
		attrs:  h.attrs,
		groups: newGroups,
	}
}

func runStatus(ctx context.Context) error {
	configPath := getConfigPath()

	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Database.Path == "" {
		return fmt.Errorf("no ledger configured (database.path is empty in %s)", configPath)
	}

	ledger, err := store.NewSQLiteLedger(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening ledger: %w", err)
	}
	defer ledger.Close()

	events, err := ledger.RecentEvents(ctx, 20)
	if err != nil {
		return fmt.Errorf("reading events: %w", err)
	}

	if len(events) == 0 {
		fmt.Println("no events recorded")
		return nil
	}

	cyan := color.New(color.FgCyan)
	gray := color.New(color.FgHiBlack)
	for _, ev := range events {
		gray.Printf("%s  ", ev.Timestamp.Local().Format("2006-01-02 15:04:05"))
		cyan.Printf("%-24s", ev.Event)
		if id, ok := ev.Payload["task_id"].(string); ok {
			fmt.Printf(" task=%s", id)
		}
		if id, ok := ev.Payload["device_id"].(string); ok {
			fmt.Printf(" device=%s", id)
		}
		if id, ok := ev.Payload["agent_id"].(string); ok {
			fmt.Printf(" agent=%s", id)
		}
		fmt.Println()
	}
	return nil
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("espfleet configuration setup")
	fmt.Println("============================")
	fmt.Println()

	defaultConfigPath := getConfigPath()

	outputFile := prompt(reader, "Config file path", defaultConfigPath)

	// Check if file exists
	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, "File exists. Overwrite?", "no")
		if strings.ToLower(overwrite) != "yes" && strings.ToLower(overwrite) != "y" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	fmt.Println("\n--- Orchestrator Configuration ---")
	healthInterval := prompt(reader, "Health check interval", "10s")
	maxConcurrent := prompt(reader, "Max concurrent tasks", "10")

	fmt.Println("\n--- Database Configuration ---")
	dbPath := prompt(reader, "SQLite ledger path (empty to disable)", "")

	fmt.Println("\n--- Logging Configuration ---")
	logLevel := prompt(reader, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, "Log format (text/json)", "text")

	var cfg strings.Builder
	cfg.WriteString("# espfleet configuration\n")
	cfg.WriteString("# Generated by espfleet init\n\n")

	cfg.WriteString("orchestrator:\n")
	cfg.WriteString(fmt.Sprintf("  health_check_interval: \"%s\"\n", healthInterval))
	cfg.WriteString(fmt.Sprintf("  scheduler_max_concurrent: %s\n", maxConcurrent))
	cfg.WriteString("\n")

	cfg.WriteString("device:\n")
	cfg.WriteString("  ping_timeout: \"5s\"\n")
	cfg.WriteString("  command_timeout: \"10s\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("database:\n")
	cfg.WriteString(fmt.Sprintf("  path: \"%s\"\n", dbPath))
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: \"%s\"\n", logLevel))
	cfg.WriteString(fmt.Sprintf("  format: \"%s\"\n", logFormat))

	// Ensure config directory exists
	configDir := filepath.Dir(outputFile)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Printf("Declare your fleet in %s\n", filepath.Join(configDir, "fleet.toml"))
	fmt.Println("\nTo start the orchestrator:")
	fmt.Printf("  espfleet serve\n")

	return nil
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// On EOF or error, return default
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
