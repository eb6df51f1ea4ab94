package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/nearfind/nearfind/internal/ble"
	"github.com/nearfind/nearfind/internal/config"
	"github.com/nearfind/nearfind/internal/device"
	"github.com/nearfind/nearfind/internal/distance"
	"github.com/nearfind/nearfind/internal/pairing"
	"github.com/nearfind/nearfind/internal/registry"
	"github.com/nearfind/nearfind/internal/scan"
	"github.com/nearfind/nearfind/internal/store"
)

func main() {
	// CLI flags
	configPath := flag.String("config", "", "path to config file (default: ~/.config/nearfind/config.yaml)")
	registerName := flag.String("register", "", "register the local user profile, e.g. -register \"Ada Lovelace\"")
	professional := flag.Bool("professional", false, "mark the registered user as a professional (with -register)")
	pairAddr := flag.String("pair", "", "send a pairing request to the device at this address and exit")
	respond := flag.Bool("respond", false, "advertise the pairing service and accept inbound requests")
	flag.Parse()

	// Load configuration
	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config validation: %v", err)
	}

	setupLogging(cfg.LogLevel)

	db, err := store.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("opening store at %s: %v", cfg.DBPath, err)
	}
	defer db.Close()

	if *registerName != "" {
		if err := registerUser(db, *registerName, *professional); err != nil {
			log.Fatalf("register: %v", err)
		}
		return
	}

	printBanner(cfg)

	est := distance.New(cfg.BLE.RSSIAtOneMeter, cfg.BLE.EnvironmentalFactor,
		cfg.BLE.CloseThresholdM, cfg.BLE.MediumThresholdM)
	reg := registry.New(est)
	adapter := ble.NewHardwareAdapter()

	// Permissions are the OS's concern on desktop platforms; both gates
	// stay open and the radio itself reports unavailability.
	auth := store.StaticAuthorizer{Scan: true, Connect: true}

	// Signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch {
	case *pairAddr != "":
		runPair(ctx, cfg, db, adapter, auth, reg, *pairAddr)
	case *respond:
		runResponder(ctx, cfg, db, adapter, auth)
	default:
		runScan(ctx, cfg, db, adapter, auth, reg, est)
	}
}

// runScan runs the discovery loop, printing the nearby-device list as it
// changes until the context is cancelled.
func runScan(ctx context.Context, cfg *config.Config, db *store.SQLiteStore, adapter *ble.HardwareAdapter, auth store.StaticAuthorizer, reg *registry.Registry, est *distance.Estimator) {
	engine := scan.New(adapter, reg, db, auth, scan.Options{
		ScanOn:     cfg.BLE.ScanOn(),
		ScanOff:    cfg.BLE.ScanOff(),
		StaleAfter: cfg.BLE.StaleAfter(),
		MaxSession: cfg.BLE.MaxSession(),
	})

	sub := reg.Subscribe()
	defer reg.Unsubscribe(sub)

	go func() {
		for devices := range sub.Updates() {
			printDevices(devices, est)
		}
	}()

	log.Println("Scanning for nearby devices. Ctrl+C to quit.")
	engine.Run(ctx)
	log.Println("Goodbye!")
}

// runPair sends one pairing request to the given address and reports the
// outcome.
func runPair(ctx context.Context, cfg *config.Config, db *store.SQLiteStore, adapter *ble.HardwareAdapter, auth store.StaticAuthorizer, reg *registry.Registry, addr string) {
	conn := ble.NewConnectionManager(adapter, auth)
	conn.SetStateListener(reg.SetConnected)
	coord := pairing.NewCoordinator(conn, db, db, auth)

	target, _ := resolveTarget(db, addr)
	log.Printf("Sending pairing request to %s...", addr)
	coord.SendPairingRequest(ctx, target)

	switch st := coord.State(); st.Phase {
	case pairing.PhaseSuccess:
		if err := db.AddPairedDevice(addr); err != nil {
			log.Fatalf("recording paired device: %v", err)
		}
		fmt.Printf("Pairing request sent to %s\n", addr)
	case pairing.PhaseError:
		log.Fatalf("pairing failed: %s", st.Err)
	default:
		log.Fatalf("pairing ended in unexpected state %s", st.Phase)
	}
}

// runResponder advertises the pairing service until the context is
// cancelled, persisting every inbound request.
func runResponder(ctx context.Context, cfg *config.Config, db *store.SQLiteStore, adapter *ble.HardwareAdapter, auth store.StaticAuthorizer) {
	conn := ble.NewConnectionManager(adapter, auth)
	coord := pairing.NewCoordinator(conn, db, db, auth)
	responder := pairing.NewResponder(adapter, coord, auth)

	if !responder.Start(cfg.DeviceName) {
		log.Fatal("could not start the pairing responder; is the adapter available?")
	}
	defer responder.Stop()

	log.Printf("Advertising as %q and accepting pairing requests. Ctrl+C to quit.", cfg.DeviceName)

	changes := db.Changes()
	for {
		select {
		case <-ctx.Done():
			log.Println("Goodbye!")
			return
		case <-changes:
			reqs, err := db.PairingRequests()
			if err != nil {
				slog.Warn("[MAIN] listing pairing requests", "error", err)
				continue
			}
			for _, r := range reqs {
				fmt.Printf("  request %s from %s (%s): %s\n", r.ID, r.RequesterName, r.RequesterID, r.Status)
			}
		}
	}
}

// registerUser creates the local user profile from a "First Last" name.
func registerUser(db *store.SQLiteStore, fullName string, professional bool) error {
	parts := strings.Fields(fullName)
	if len(parts) < 2 {
		return fmt.Errorf("expected a first and last name, got %q", fullName)
	}
	first := parts[0]
	last := strings.Join(parts[1:], " ")

	u, err := db.RegisterUser(first, last, professional)
	if err != nil {
		return err
	}
	fmt.Printf("Registered %s (id %s, professional: %t)\n", u.FullName(), u.ID, u.IsProfessional)
	return nil
}

// resolveTarget builds a NearbyDevice for a raw address, attaching a stored
// identity when the peer is already known.
func resolveTarget(db *store.SQLiteStore, addr string) (device.NearbyDevice, bool) {
	target := device.NearbyDevice{ID: addr, Name: addr}
	if identity, ok := db.IdentityFor(addr); ok {
		target.Name = identity.Name
		target.Identity = &identity
		return target, true
	}
	return target, false
}

func printDevices(devices []device.NearbyDevice, est *distance.Estimator) {
	fmt.Printf("--- %d nearby ---\n", len(devices))
	for _, d := range devices {
		marker := " "
		if d.Paired {
			marker = "*"
		}
		fmt.Printf("%s %-20s %-18s %s (%s)\n", marker, d.Name, d.ID,
			distance.Format(d.Distance), est.Classify(d.Distance))
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
		log.Printf("Config loaded from %s", defaultPath)
		return cfg, nil
	}

	log.Println("No config file found, using defaults")
	return config.Default(), nil
}

// setupLogging configures the process-wide slog level.
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

// printBanner displays the startup configuration summary.
func printBanner(cfg *config.Config) {
	fmt.Println("=== nearfind ===")
	fmt.Printf("  Device:  %s\n", cfg.DeviceName)
	fmt.Printf("  DB:      %s\n", cfg.DBPath)
	fmt.Printf("  Radio:   %d dBm @ 1m, n=%.1f\n", cfg.BLE.RSSIAtOneMeter, cfg.BLE.EnvironmentalFactor)
	fmt.Printf("  Scan:    %s on / %s off\n", cfg.BLE.ScanOn(), cfg.BLE.ScanOff())
	fmt.Printf("  Log:     %s\n", cfg.LogLevel)
	fmt.Println("================")
}
