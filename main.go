package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/kardianos/service"

	"visitmaster/kiosk/client"
	"visitmaster/kiosk/config"
	"visitmaster/kiosk/logger"
	"visitmaster/kiosk/session"
	"visitmaster/kiosk/storage"
)

// Build information, set via -ldflags at release time.
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	configPath := flag.String("config", "kiosk.toml", "Configuration file path")
	generateConfig := flag.Bool("generate-config", false, "Generate default config file and exit")
	serviceCmd := flag.String("service", "", "Service control: install, uninstall, start, stop, run")
	probe := flag.Bool("probe", false, "Probe candidate endpoints and exit")
	showVersion := flag.Bool("version", false, "Show version information and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("VisitMaster Kiosk %s\n", Version)
		fmt.Printf("Build Time: %s\n", BuildTime)
		fmt.Printf("Git Commit: %s\n", GitCommit)
		fmt.Printf("Go Version: %s\n", runtime.Version())
		fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		return
	}

	if *generateConfig {
		if err := WriteDefaultKioskConfig(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to generate config: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Generated default configuration at %s\n", *configPath)
		return
	}

	if *probe {
		runProbe(*configPath)
		return
	}

	if *serviceCmd != "" {
		handleServiceCommand(*serviceCmd, *configPath)
		return
	}

	if !service.Interactive() {
		runAsService(*configPath)
		return
	}

	// Running interactively: shut down cleanly on Ctrl-C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	runInteractive(ctx, *configPath)
}

// handleServiceCommand processes service install/uninstall/start/stop/run commands
func handleServiceCommand(cmd, configPath string) {
	svcConfig := getServiceConfig()
	prg := &program{configPath: configPath}
	s, err := service.New(prg, svcConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create service: %v\n", err)
		os.Exit(1)
	}

	switch cmd {
	case "install":
		if err := setupServiceDirectories(); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to setup service directories: %v\n", err)
			os.Exit(1)
		}
		if err := s.Install(); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to install service: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("VisitMaster Kiosk service installed")
		fmt.Println("Use '--service start' to start the service")

	case "uninstall":
		if err := s.Uninstall(); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to uninstall service: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("VisitMaster Kiosk service uninstalled")

	case "start":
		if err := s.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to start service: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("VisitMaster Kiosk service started")

	case "stop":
		if err := s.Stop(); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to stop service: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("VisitMaster Kiosk service stopped")

	case "run":
		if err := s.Run(); err != nil {
			fmt.Fprintf(os.Stderr, "Service run failed: %v\n", err)
			os.Exit(1)
		}

	default:
		fmt.Fprintf(os.Stderr, "Unknown service command: %s\n", cmd)
		os.Exit(1)
	}
}

func runAsService(configPath string) {
	svcConfig := getServiceConfig()
	prg := &program{configPath: configPath}
	s, err := service.New(prg, svcConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create service: %v\n", err)
		os.Exit(1)
	}
	if err := s.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Service run failed: %v\n", err)
		os.Exit(1)
	}
}

// runProbe tests each candidate endpoint once and reports the results.
func runProbe(configPath string) {
	cfg := loadConfigOrDefault(configPath)
	candidates := cfg.CandidateEndpoints()

	fmt.Printf("Probing %d candidate endpoints (%s mode):\n", len(candidates), cfg.Mode)

	resolver := client.NewEndpointResolver(candidates, cfg.API.ProbePath, nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	base, err := resolver.Resolve(ctx)
	for _, candidate := range resolver.Candidates() {
		marker := " "
		if err == nil && candidate == base {
			marker = "*"
		}
		fmt.Printf("  %s %s\n", marker, candidate)
	}

	if err != nil {
		fmt.Println("No candidate endpoint reachable")
		os.Exit(1)
	}
	fmt.Printf("Resolved endpoint: %s\n", base)
}

// loadConfigOrDefault loads the config file, falling back to the search
// paths and finally to built-in defaults so the kiosk can always start.
func loadConfigOrDefault(configPath string) *KioskConfig {
	if cfg, err := LoadKioskConfig(configPath); err == nil {
		return cfg
	}

	for _, path := range config.GetConfigSearchPaths(filepath.Base(configPath)) {
		if cfg, err := LoadKioskConfig(path); err == nil {
			return cfg
		}
	}

	cfg := DefaultKioskConfig()
	applyEnvOverrides(cfg)
	return cfg
}

// openStores opens the encrypted sqlite store, falling back to an in-memory
// secret store (and no offline queue) so a broken disk never takes the kiosk
// down.
func openStores(cfg *KioskConfig, log Logger) (storage.SecretStore, storage.QueueStore) {
	dbPath := cfg.Database.Path
	var keyPath string
	if dbPath == "" {
		var dbErr, keyErr error
		dbPath, dbErr = storage.GetDefaultDBPath()
		keyPath, keyErr = storage.GetDefaultKeyPath()
		if dbErr != nil || keyErr != nil {
			log.Error("No usable data directory, continuing without persistence",
				"db_error", dbErr, "key_error", keyErr)
			return storage.NewMemorySecretStore(), nil
		}
	} else {
		// A custom database path keeps its key file alongside it.
		keyPath = dbPath + ".key"
	}

	sqliteStore, err := storage.NewSQLiteStore(dbPath, keyPath)
	if err != nil {
		log.Error("Failed to open local database, continuing without persistence", "path", dbPath, "error", err)
		return storage.NewMemorySecretStore(), nil
	}

	log.Info("Local database opened", "path", dbPath)
	return sqliteStore, sqliteStore
}

// runInteractive is the kiosk's main run loop, used by both interactive and
// service modes. It returns when ctx is cancelled.
func runInteractive(ctx context.Context, configPath string) {
	cfg := loadConfigOrDefault(configPath)

	logDir := "logs"
	if !service.Interactive() {
		if dir, err := config.GetLogDirectory(true); err == nil {
			logDir = dir
		}
	}
	log := logger.New(logger.LevelFromString(cfg.Logging.Level), logDir, 1000)
	defer log.Close()
	client.SetLogger(log)

	log.Info("VisitMaster Kiosk starting",
		"version", Version,
		"kiosk_id", cfg.KioskID,
		"mode", cfg.Mode)

	secretStore, queueStore := openStores(cfg, log)
	defer secretStore.Close()

	// Endpoint resolution and API client.
	resolver := client.NewEndpointResolver(cfg.CandidateEndpoints(), cfg.API.ProbePath, secretStore)
	apiClient := client.NewClient(resolver, Version)
	if cfg.API.TimeoutSeconds > 0 {
		apiClient.Timeout = time.Duration(cfg.API.TimeoutSeconds) * time.Second
	}
	if cfg.API.MaxAttempts > 0 {
		apiClient.MaxAttempts = cfg.API.MaxAttempts
	}
	if cfg.API.InitialBackoffMs > 0 {
		apiClient.InitialBackoff = time.Duration(cfg.API.InitialBackoffMs) * time.Millisecond
	}

	// Admin session. A persisted session survives restarts; the API client
	// carries its token while it lasts.
	sessions := session.NewManager(
		session.Credentials{Username: cfg.Auth.Username, Password: cfg.Auth.Password},
		session.Config{
			TokenValidity: time.Duration(cfg.Auth.TokenValidityHours) * time.Hour,
			IdleTimeout:   time.Duration(cfg.Auth.IdleTimeoutMinutes) * time.Minute,
		},
		secretStore,
	)
	sessions.OnLogout(func(reason string) {
		log.Info("Admin session ended", "reason", reason)
		apiClient.SetToken("")
	})
	if sessions.CheckAuthState() {
		apiClient.SetToken(sessions.Token())
		log.Info("Restored admin session", "username", sessions.Username())
	}

	// Optional LAN discovery feeds additional candidates to the resolver.
	if cfg.Discovery.MDNSEnabled {
		client.StartMDNSBrowser(ctx, func(url string) {
			log.Info("Discovered backend via mDNS", "url", url)
			resolver.AddCandidates(url)
		})
	}

	// Report backend reachability and version compatibility at startup.
	if info, err := apiClient.Health(ctx); err != nil {
		log.Warn("Backend not reachable at startup", "error", err)
	} else if info.ServerVersion != "" {
		log.Info("Backend reachable", "server_version", info.ServerVersion)
	}

	worker := NewSyncWorker(
		apiClient,
		queueStore,
		log,
		time.Duration(cfg.Sync.IntervalSeconds)*time.Second,
		cfg.Sync.QueueMaxAttempts,
		cfg.Events.Enabled,
	)
	if err := worker.Start(ctx); err != nil {
		log.Error("Failed to start sync worker", "error", err)
	}

	<-ctx.Done()

	// The session is deliberately left in the store so a restart can
	// restore it; only the idle timer and token expiry end it.
	log.Info("VisitMaster Kiosk shutting down")
	worker.Stop()
}
