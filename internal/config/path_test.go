package config

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDataHome(t *testing.T) {
	home := func() (string, error) { return "/home/u", nil }
	noHome := func() (string, error) { return "", errors.New("no home") }
	env := func(kv map[string]string) func(string) string {
		return func(k string) string { return kv[k] }
	}
	tests := []struct {
		name string
		goos string
		env  map[string]string
		home func() (string, error)
		want string
	}{
		{"linux default", "linux", nil, home, filepath.Join("/home/u", ".local", "share")},
		{"xdg override", "linux", map[string]string{"XDG_DATA_HOME": "/custom/data"}, home, "/custom/data"},
		{"relative xdg ignored", "linux", map[string]string{"XDG_DATA_HOME": "rel/data"}, home, filepath.Join("/home/u", ".local", "share")},
		{"darwin", "darwin", nil, home, filepath.Join("/home/u", "Library", "Application Support")},
		{"windows local app data", "windows", map[string]string{"LOCALAPPDATA": `C:\Users\u\AppData\Local`}, home, `C:\Users\u\AppData\Local`},
		{"windows without env", "windows", nil, home, filepath.Join("/home/u", "AppData", "Local")},
		{"no home", "linux", nil, noHome, "data"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, dataHome(tt.goos, env(tt.env), tt.home))
		})
	}
}

func TestResolvedDataDir(t *testing.T) {
	cfg := Default()
	cfg.DataDir = "/srv/brook"
	require.Equal(t, "/srv/brook", cfg.ResolvedDataDir())

	t.Setenv("XDG_DATA_HOME", "/custom/data")
	cfg.DataDir = ""
	require.Equal(t, filepath.Join("/custom/data", "brook", "brooks"), cfg.ResolvedDataDir())

	cfg.Database = "orders"
	require.Equal(t, filepath.Join("/custom/data", "brook", "orders"), cfg.ResolvedDataDir())
}
