package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/OTZro/flh-desk/internal/ble"
	"github.com/OTZro/flh-desk/internal/config"
	"github.com/OTZro/flh-desk/internal/desk"
	"github.com/OTZro/flh-desk/internal/flh"
	"github.com/OTZro/flh-desk/internal/schedule"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default: ~/.config/flh-desk/config.yaml)")
	timeout := flag.Duration("timeout", 2*time.Minute, "how long to wait for a command to finish")
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config validation: %v", err)
	}
	setupLogging(cfg.LogLevel)

	verb := args[0]
	if err := run(cfg, verb, args[1:], *timeout); err != nil {
		log.Fatalf("%s: %v", verb, err)
	}
}

func run(cfg *config.Config, verb string, args []string, timeout time.Duration) error {
	switch verb {
	case "init":
		return runInit()
	case "scan":
		return runScan(cfg)
	case "status":
		return runStatus(cfg, timeout)
	case "monitor":
		return runMonitor(cfg, timeout)
	case "up":
		return runMove(cfg, timeout, func(d *desk.Desk) error { return d.Open() })
	case "down":
		return runMove(cfg, timeout, func(d *desk.Desk) error { return d.Close() })
	case "stop":
		return runStop(cfg, timeout)
	case "goto":
		return runGoTo(cfg, timeout, args)
	case "position":
		return runPosition(cfg, timeout, args)
	case "sensitivity":
		return runSensitivity(cfg, timeout, args)
	case "preset":
		return runPreset(cfg, timeout, args)
	case "serve":
		return runServe(cfg, timeout)
	default:
		usage()
		return fmt.Errorf("unknown command %q", verb)
	}
}

func runInit() error {
	path, err := config.WriteDefault()
	if err != nil {
		return err
	}
	fmt.Printf("Config written to %s\n", path)
	return nil
}

func runScan(cfg *config.Config) error {
	adapter := ble.NewBluetoothAdapter()
	devices, err := ble.ScanForDesks(adapter, serviceUUID(cfg), 10*time.Second)
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		fmt.Println("No desks found. Wake the desk with its handset and try again.")
		return nil
	}
	fmt.Printf("Found %d desk(s):\n", len(devices))
	for _, dev := range devices {
		name := dev.Name
		if name == "" {
			name = "(unnamed)"
		}
		fmt.Printf("  %-20s %s  RSSI %d\n", name, dev.Address, dev.RSSI)
	}
	return nil
}

func runStatus(cfg *config.Config, timeout time.Duration) error {
	d, err := connectDesk(cfg, timeout)
	if err != nil {
		return err
	}
	defer d.Disconnect()

	// The first height lands within a second or two of the wake handshake.
	if err := waitHeight(d, timeout); err != nil {
		return err
	}
	printSnapshot(cfg.Desk.Address, d.Snapshot())
	return nil
}

func runMonitor(cfg *config.Config, timeout time.Duration) error {
	d, err := connectDesk(cfg, timeout)
	if err != nil {
		return err
	}
	defer d.Disconnect()

	updates, cancel := d.Subscribe()
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	fmt.Println("Monitoring. Ctrl+C to quit.")
	var last desk.Snapshot
	for {
		select {
		case snap := <-updates:
			if snap.Height != last.Height && snap.Height != 0 {
				fmt.Printf("%s  height %s (%d%%)\n", time.Now().Format("15:04:05"), snap.Height, flh.PositionForHeight(snap.Height))
			}
			if snap.Connection != last.Connection {
				fmt.Printf("%s  connection %s\n", time.Now().Format("15:04:05"), snap.Connection)
			}
			if snap.Goal.Status != last.Goal.Status && snap.Goal.Status != desk.GoalNone {
				fmt.Printf("%s  goal %s %s\n", time.Now().Format("15:04:05"), snap.Goal.Kind, snap.Goal.Status)
			}
			last = snap
		case sig := <-sigCh:
			fmt.Printf("Received %s, disconnecting\n", sig)
			return nil
		}
	}
}

func runMove(cfg *config.Config, timeout time.Duration, move func(*desk.Desk) error) error {
	d, err := connectDesk(cfg, timeout)
	if err != nil {
		return err
	}
	defer d.Disconnect()

	if err := move(d); err != nil {
		return err
	}
	return watchGoal(d, d.Snapshot().Goal.ID, timeout)
}

func runStop(cfg *config.Config, timeout time.Duration) error {
	d, err := connectDesk(cfg, timeout)
	if err != nil {
		return err
	}
	defer d.Disconnect()

	if err := d.Stop(); err != nil {
		return err
	}
	fmt.Println("Stopped.")
	return nil
}

func runGoTo(cfg *config.Config, timeout time.Duration, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: flhctl goto <cm>")
	}
	cm, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return fmt.Errorf("invalid height %q", args[0])
	}
	target := flh.HeightFromCm(cm)

	d, err := connectDesk(cfg, timeout)
	if err != nil {
		return err
	}
	defer d.Disconnect()

	if err := waitHeight(d, timeout); err != nil {
		return err
	}
	if err := d.GoTo(target); err != nil {
		return err
	}
	return watchGoal(d, d.Snapshot().Goal.ID, timeout)
}

func runPosition(cfg *config.Config, timeout time.Duration, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: flhctl position <percent>")
	}
	percent, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid position %q", args[0])
	}

	d, err := connectDesk(cfg, timeout)
	if err != nil {
		return err
	}
	defer d.Disconnect()

	if err := waitHeight(d, timeout); err != nil {
		return err
	}
	if err := d.SetPosition(percent); err != nil {
		return err
	}
	return watchGoal(d, d.Snapshot().Goal.ID, timeout)
}

func runSensitivity(cfg *config.Config, timeout time.Duration, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: flhctl sensitivity <0-8>")
	}
	level, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid sensitivity %q", args[0])
	}

	d, err := connectDesk(cfg, timeout)
	if err != nil {
		return err
	}
	defer d.Disconnect()

	if err := d.SetSensitivity(flh.Sensitivity(level)); err != nil {
		return err
	}

	// The desk confirms by echoing the level on the telemetry channel.
	updates, cancel := d.Subscribe()
	defer cancel()
	deadline := time.After(10 * time.Second)
	for {
		if d.Snapshot().Sensitivity == flh.Sensitivity(level) {
			fmt.Printf("Sensitivity set to %d.\n", level)
			return nil
		}
		select {
		case <-updates:
		case <-deadline:
			return fmt.Errorf("desk did not confirm sensitivity %d", level)
		}
	}
}

func runPreset(cfg *config.Config, timeout time.Duration, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: flhctl preset recall|save <1-4>")
	}
	slot, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("invalid slot %q", args[1])
	}

	d, err := connectDesk(cfg, timeout)
	if err != nil {
		return err
	}
	defer d.Disconnect()

	switch args[0] {
	case "recall":
		if err := d.RecallMemory(flh.MemorySlot(slot)); err != nil {
			return err
		}
		// The firmware drives the move; report heights until they settle.
		return watchSettle(d, timeout)
	case "save":
		if err := d.SaveMemory(flh.MemorySlot(slot)); err != nil {
			return err
		}
		fmt.Printf("Current height saved to preset %d.\n", slot)
		return nil
	default:
		return fmt.Errorf("usage: flhctl preset recall|save <1-4>")
	}
}

func runServe(cfg *config.Config, timeout time.Duration) error {
	printBanner(cfg)

	d, err := connectDesk(cfg, timeout)
	if err != nil {
		return err
	}
	defer d.Disconnect()

	if cfg.Sensitivity > 0 {
		if err := d.SetSensitivity(flh.Sensitivity(cfg.Sensitivity)); err != nil {
			log.Printf("WARNING: applying sensitivity: %v", err)
		}
	}

	entries := make([]schedule.Entry, len(cfg.Schedule))
	for i, e := range cfg.Schedule {
		entries[i] = schedule.Entry{Spec: e.Cron, Position: e.Position}
	}
	runner, err := schedule.NewRunner(d, entries)
	if err != nil {
		return err
	}
	runner.Start()
	defer runner.Stop()

	log.Printf("Serving %d schedule entr%s. Ctrl+C to quit.", len(entries), plural(len(entries), "y", "ies"))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("Received %s, shutting down...", sig)
	return nil
}

// connectDesk builds the engine from config and blocks until the session is
// connected, the reconnect budget runs out, or the timeout passes.
func connectDesk(cfg *config.Config, timeout time.Duration) (*desk.Desk, error) {
	if cfg.Desk.Address == "" {
		return nil, fmt.Errorf("desk.address not set; run 'flhctl scan' and add it to the config")
	}

	d := desk.New(ble.NewBluetoothAdapter(), desk.Address{
		MAC:         cfg.Desk.Address,
		ServiceUUID: cfg.Desk.ServiceUUID,
	}, deskOptions(cfg))

	if err := d.Connect(context.Background()); err != nil {
		return nil, err
	}

	updates, cancel := d.Subscribe()
	defer cancel()
	deadline := time.After(timeout)
	for {
		switch d.State() {
		case desk.StateConnected:
			return d, nil
		case desk.StateUnavailable:
			d.Disconnect()
			return nil, fmt.Errorf("desk unavailable after %d attempts", cfg.Connection.ReconnectMaxAttempts)
		}
		select {
		case <-updates:
		case <-deadline:
			d.Disconnect()
			return nil, fmt.Errorf("not connected after %s", timeout)
		}
	}
}

// deskOptions maps the file config onto engine options.
func deskOptions(cfg *config.Config) desk.Options {
	opts := desk.DefaultOptions()
	opts.Session.MaxReconnectAttempts = cfg.Connection.ReconnectMaxAttempts
	opts.Session.ReconnectMax = cfg.Connection.ReconnectMaxBackoff
	opts.Session.NotificationTimeout = time.Duration(cfg.Connection.NotificationTimeout) * time.Second
	opts.Session.CommandsPerSecond = float64(cfg.Connection.CommandRate)
	opts.Controller.Tolerance = flh.Height(cfg.Movement.ToleranceMM * 10)
	opts.Controller.Watchdog = time.Duration(cfg.Movement.WatchdogSeconds) * time.Second
	opts.Controller.NativeTargeting = cfg.Movement.NativeTargeting
	return opts
}

// serviceUUID returns the UUID to scan for, honoring the config override.
func serviceUUID(cfg *config.Config) string {
	if cfg.Desk.ServiceUUID != "" {
		return cfg.Desk.ServiceUUID
	}
	return flh.ServiceUUID
}

// waitHeight blocks until the desk has reported at least one height.
func waitHeight(d *desk.Desk, timeout time.Duration) error {
	updates, cancel := d.Subscribe()
	defer cancel()
	deadline := time.After(timeout)
	for {
		if d.Snapshot().Height != 0 {
			return nil
		}
		select {
		case <-updates:
		case <-deadline:
			return fmt.Errorf("no height telemetry after %s", timeout)
		}
	}
}

// watchGoal streams heights until the goal with the given ID finishes.
func watchGoal(d *desk.Desk, id string, timeout time.Duration) error {
	updates, cancel := d.Subscribe()
	defer cancel()
	deadline := time.After(timeout)
	var lastHeight flh.Height
	for {
		snap := d.Snapshot()
		if snap.Height != lastHeight && snap.Height != 0 {
			fmt.Printf("  height %s\n", snap.Height)
			lastHeight = snap.Height
		}
		if snap.Goal.ID == id {
			switch snap.Goal.Status {
			case desk.GoalCompleted:
				fmt.Printf("Done at %s.\n", snap.Height)
				return nil
			case desk.GoalFailed:
				return fmt.Errorf("movement failed: %s", snap.Goal.Reason)
			case desk.GoalCanceled:
				return fmt.Errorf("movement canceled: %s", snap.Goal.Reason)
			}
		}
		select {
		case <-updates:
		case <-time.After(200 * time.Millisecond):
		case <-deadline:
			return fmt.Errorf("timed out after %s", timeout)
		}
	}
}

// watchSettle streams heights until they stop changing, for moves the
// firmware drives on its own.
func watchSettle(d *desk.Desk, timeout time.Duration) error {
	updates, cancel := d.Subscribe()
	defer cancel()
	deadline := time.After(timeout)
	var lastHeight flh.Height
	lastChange := time.Now()
	for {
		snap := d.Snapshot()
		if snap.Height != lastHeight && snap.Height != 0 {
			fmt.Printf("  height %s\n", snap.Height)
			lastHeight = snap.Height
			lastChange = time.Now()
		}
		if lastHeight != 0 && time.Since(lastChange) > 3*time.Second {
			fmt.Printf("Done at %s.\n", lastHeight)
			return nil
		}
		select {
		case <-updates:
		case <-time.After(200 * time.Millisecond):
		case <-deadline:
			return fmt.Errorf("timed out after %s", timeout)
		}
	}
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		return cfg, nil
	}

	return config.Default(), nil
}

// setupLogging routes library logging to stderr at the configured level.
// Command output stays on stdout.
func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}

func printSnapshot(address string, snap desk.Snapshot) {
	fmt.Printf("Desk %s\n", address)
	fmt.Printf("  connection:  %s\n", snap.Connection)
	fmt.Printf("  height:      %s (%d%%)\n", snap.Height, flh.PositionForHeight(snap.Height))
	fmt.Printf("  sensitivity: %d\n", snap.Sensitivity)
	if snap.MinLimit != 0 || snap.MaxLimit != 0 {
		fmt.Printf("  limits:      %s - %s\n", snap.MinLimit, snap.MaxLimit)
	}
}

// printBanner displays the startup configuration summary.
func printBanner(cfg *config.Config) {
	fmt.Println("=== flh-desk ===")
	fmt.Printf("  Desk:      %s\n", cfg.Desk.Address)
	fmt.Printf("  Schedule:  %d entr%s\n", len(cfg.Schedule), plural(len(cfg.Schedule), "y", "ies"))
	fmt.Printf("  Log:       %s\n", cfg.LogLevel)
	fmt.Println("================")
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

func usage() {
	fmt.Fprintf(os.Stderr, `flhctl controls FLH-series BLE standing desks.

Usage:
  flhctl [flags] <command> [args]

Commands:
  init                   write a default config file
  scan                   discover nearby desks
  status                 connect and print the desk's state
  monitor                stream desk state until interrupted
  up                     raise to the upper travel limit
  down                   lower to the bottom travel limit
  stop                   halt movement
  goto <cm>              move to an absolute height, e.g. goto 95.5
  position <percent>     move to a travel percentage, 0 is the bottom
  sensitivity <0-8>      set movement speed
  preset recall <1-4>    move to a handset preset
  preset save <1-4>      store the current height in a preset
  serve                  apply the configured schedule until interrupted

Flags:
`)
	flag.PrintDefaults()
}
