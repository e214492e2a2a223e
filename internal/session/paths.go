package session

import (
	"os"
	"path/filepath"
)

// BaseDir returns ~/.wpphub.
func BaseDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".wpphub")
}

// SocketPath returns the UDS socket path for the control API.
func SocketPath(dataDir string) string {
	return filepath.Join(dataDir, "wpphubd.sock")
}

// CredentialsDBPath returns the whatsmeow credential store path shared by all sessions.
func CredentialsDBPath(dataDir string) string {
	return filepath.Join(dataDir, "credentials.db")
}

// AppDBPath returns the app-owned wpphub.db path.
func AppDBPath(dataDir string) string {
	return filepath.Join(dataDir, "wpphub.db")
}

// LogDir returns the log directory.
func LogDir(dataDir string) string {
	return filepath.Join(dataDir, "logs")
}

// LogPath returns the daemon log file path.
func LogPath(dataDir string) string {
	return filepath.Join(LogDir(dataDir), "wpphubd.log")
}

// ConfigPath returns the config file path.
func ConfigPath(dataDir string) string {
	return filepath.Join(dataDir, "config.toml")
}

// EnsureDir creates the data directory tree with proper permissions.
func EnsureDir(dataDir string) error {
	dirs := []string{
		dataDir,
		LogDir(dataDir),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
