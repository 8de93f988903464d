package session

import (
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
)

const appName = "meshphone"

// BaseDir returns the per-user data directory.
func BaseDir() string {
	return filepath.Join(xdg.DataHome, appName)
}

// Dir returns the session-specific directory.
func Dir(name string) string {
	return filepath.Join(BaseDir(), "sessions", name)
}

// SocketPath returns the control socket path for a session.
func SocketPath(name string) string {
	return filepath.Join(Dir(name), "daemon.sock")
}

// LockPath returns the lock file path for a session.
func LockPath(name string) string {
	return filepath.Join(Dir(name), "LOCK")
}

// LocalDBPath returns the client's sqlite store.
func LocalDBPath(name string) string {
	return filepath.Join(Dir(name), "meshphone.db")
}

// WorldDir returns the badger directory used when this session coordinates.
func WorldDir(name string) string {
	return filepath.Join(Dir(name), "world")
}

// LogDir returns the log directory for a session.
func LogDir(name string) string {
	return filepath.Join(Dir(name), "logs")
}

// LogPath returns the log file path of a binary.
func LogPath(name, binary string) string {
	return filepath.Join(LogDir(name), binary+".log")
}

// ConfigPath returns the global config file path.
func ConfigPath() string {
	return filepath.Join(xdg.ConfigHome, appName, "config.toml")
}

// EnsureDir creates the session directory tree with proper permissions.
func EnsureDir(name string) error {
	dirs := []string{
		Dir(name),
		LogDir(name),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
