package config

import (
	"os"
	"path/filepath"
)

const (
	appNameVar       = "APP_NAME"
	apiBaseURLVar    = "API_BASE_URL"
	storageDirVar    = "STORAGE_DIR"
	storageSecretVar = "STORAGE_SECRET"
)

type EnvVars struct{}

var _ EnvConfig = EnvVars{}

func (EnvVars) GetAppName() string {
	return GetEnv(appNameVar, "ScanDocs Client")
}

// GetAPIBaseURL returns the base URL of the ScanDocs backend (e.g.
// "https://api.scandocs.example.com"). The refresh endpoint and all data
// requests hang off it.
func (EnvVars) GetAPIBaseURL() string {
	return GetEnv(apiBaseURLVar, "http://localhost:8080")
}

// GetStorageDir returns the directory credentials persist under. An empty
// value disables persistence entirely (the store degrades to no-ops).
func (EnvVars) GetStorageDir() string {
	dir := os.Getenv(storageDirVar)
	if dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".scandocs")
}

// GetStorageSecret returns the passphrase the credential file is sealed
// with.
func (EnvVars) GetStorageSecret() string {
	return GetEnv(storageSecretVar, "")
}

func (EnvVars) GetEnv() string {
	env := os.Getenv("ENV")
	if env == "" {
		return "DEV"
	}
	return env
}

func GetEnv(envVar, defaultValue string) string {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	return value
}
