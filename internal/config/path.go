package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// ResolvedDataDir returns DataDir when set, else a per-database directory
// under the user's data home.
func (c Config) ResolvedDataDir() string {
	if c.DataDir != "" {
		return c.DataDir
	}
	return filepath.Join(dataHome(runtime.GOOS, os.Getenv, os.UserHomeDir), "brook", c.Database)
}

// dataHome picks the per-user data root for goos. Without a home directory
// it falls back to the working directory.
func dataHome(goos string, getenv func(string) string, home func() (string, error)) string {
	// XDG requires the override to be absolute; relative values are ignored.
	if xdg := getenv("XDG_DATA_HOME"); filepath.IsAbs(xdg) {
		return xdg
	}
	if goos == "windows" {
		if local := getenv("LOCALAPPDATA"); local != "" {
			return local
		}
	}
	h, err := home()
	if err != nil || h == "" {
		return "data"
	}
	switch goos {
	case "darwin":
		return filepath.Join(h, "Library", "Application Support")
	case "windows":
		return filepath.Join(h, "AppData", "Local")
	default:
		return filepath.Join(h, ".local", "share")
	}
}
