package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/kardianos/service"
)

// program implements service.Interface
type program struct {
	configPath string
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
	svcLogger  service.Logger
}

func (p *program) Start(s service.Service) error {
	p.svcLogger, _ = s.Logger(nil)
	if p.svcLogger != nil {
		p.svcLogger.Info("VisitMaster Kiosk service starting")
	}

	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.done = make(chan struct{})

	go p.run()
	return nil
}

func (p *program) run() {
	defer close(p.done)

	if p.svcLogger != nil {
		p.svcLogger.Info("VisitMaster Kiosk service running")
	}

	runInteractive(p.ctx, p.configPath)

	if p.svcLogger != nil {
		p.svcLogger.Info("VisitMaster Kiosk service stopping")
	}
}

func (p *program) Stop(s service.Service) error {
	if p.svcLogger != nil {
		p.svcLogger.Info("VisitMaster Kiosk service stop requested")
	}

	if p.cancel != nil {
		p.cancel()
	}

	// Wait for run() to finish with timeout
	timeout := time.After(30 * time.Second)
	select {
	case <-p.done:
		if p.svcLogger != nil {
			p.svcLogger.Info("VisitMaster Kiosk service stopped gracefully")
		}
	case <-timeout:
		if p.svcLogger != nil {
			p.svcLogger.Warning("VisitMaster Kiosk service stopped with timeout")
		}
	}

	return nil
}

// getServiceConfig returns the service configuration for the current platform
func getServiceConfig() *service.Config {
	var workingDir string
	switch runtime.GOOS {
	case "windows":
		workingDir = filepath.Join(os.Getenv("ProgramData"), "VisitMaster")
	case "darwin":
		workingDir = "/Library/Application Support/VisitMaster"
	default:
		workingDir = "/var/lib/visitmaster"
	}

	return &service.Config{
		Name:             "VisitMasterKiosk",
		DisplayName:      "VisitMaster Kiosk",
		Description:      "VisitMaster visitor check-in kiosk agent. Finds the backend on the local network, records visitor arrivals and departures, and syncs check-ins captured while offline.",
		WorkingDirectory: workingDir,
		Arguments:        []string{"--service", "run"},
		Option: service.KeyValue{
			// Windows service options
			"StartType":              "automatic",
			"DelayedAutoStart":       true,
			"OnFailure":              "restart",
			"OnFailureDelayDuration": "5s",
			"OnFailureResetPeriod":   30,

			// Linux systemd options
			"Restart":           "on-failure",
			"RestartSec":        5,
			"SuccessExitStatus": "0 SIGTERM",
			"KillMode":          "mixed",
			"KillSignal":        "SIGTERM",
			"SendSIGKILL":       true,

			// macOS launchd options
			"RunAtLoad":     true,
			"KeepAlive":     true,
			"SessionCreate": false,
		},
	}
}

// setupServiceDirectories creates necessary directories for service operation
func setupServiceDirectories() error {
	var dirs []string

	switch runtime.GOOS {
	case "windows":
		baseDir := filepath.Join(os.Getenv("ProgramData"), "VisitMaster")
		kioskDir := filepath.Join(baseDir, "kiosk")
		dirs = []string{
			baseDir,
			kioskDir,
			filepath.Join(kioskDir, "logs"),
		}
	case "darwin":
		baseDir := "/Library/Application Support/VisitMaster"
		dirs = []string{
			baseDir,
			filepath.Join(baseDir, "logs"),
			"/var/log/visitmaster",
		}
	default: // Linux
		dirs = []string{
			"/var/lib/visitmaster",
			"/var/log/visitmaster",
			"/etc/visitmaster",
		}
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}
