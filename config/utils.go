package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
)

var (
	workspaceDir     string
	workspaceDirOnce sync.Once

	conf Config
)

const (
	configFileName   = "config.yaml"
	deviceIDFileName = "device_id"
	logFileName      = "activity.jsonl"
)

// Init loads the workspace configuration. A missing config file is not
// fatal: the daemon runs with defaults and every dependent action skips
// itself until configured.
func Init() {
	GetWorkspaceDir()

	var err error
	conf, err = LoadConfig()
	if err != nil {
		slog.Warn("running with default configuration", "reason", err)
		conf = BootstrapConfig()
	}
}

func GetConfig() Config {
	return conf
}

func GetWorkspaceDir() string {
	workspaceDirOnce.Do(func() {
		home, err := os.UserHomeDir()
		if err != nil {
			panic(err)
		}
		workspaceDir = filepath.Join(home, ".smsrelay")
	})

	return workspaceDir
}

func GetWorkspaceConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	return filepath.Join(home, ".smsrelay", configFileName), nil
}

// GetLogPath returns the activity log location in the workspace.
func GetLogPath() string {
	return filepath.Join(GetWorkspaceDir(), logFileName)
}

// GetDeviceID returns the stable device identifier, generating and
// persisting one on first use. Falls back to an ephemeral identifier if
// the workspace is not writable.
func GetDeviceID() string {
	path := filepath.Join(GetWorkspaceDir(), deviceIDFileName)

	if content, err := os.ReadFile(path); err == nil {
		id := strings.TrimSpace(string(content))
		if id != "" {
			return id
		}
	}

	id := uuid.NewString()
	if err := os.MkdirAll(GetWorkspaceDir(), 0755); err == nil {
		if err := os.WriteFile(path, []byte(id+"\n"), 0644); err != nil {
			slog.Warn("failed to persist device id", "error", err)
		}
	}
	return id
}
