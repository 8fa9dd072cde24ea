// Package config resolves candiag's base directories and brand selection,
// grounded on original_source/autosvc/config.py's precedence chain:
// explicit parameters > environment variables (optionally loaded from a
//.env file via godotenv) > an optional candiag.ini override > XDG-style
// defaults. This package only resolves paths for the core to consume; it
// does not parse CLI flags or own interactive directory prompting (those
// are frontend concerns).
package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/ini.v1"
)

// Dirs is the resolved set of base directories a Service needs.
type Dirs struct {
	ConfigDir string
	CacheDir string
	DataDir string
}

// BackupsDir returns the backup store's root, nested under CacheDir per
// the Python original's AutosvcDirs.backups_dir.
func (d Dirs) BackupsDir() string { return filepath.Join(d.CacheDir, "backups") }

// Params are the explicit, highest-precedence overrides a caller (a CLI
// flag, a test) may supply. Empty fields fall through to the next
// precedence tier.
type Params struct {
	ConfigDir string
	CacheDir string
	DataDir string
	Brand string
}

// LoadEnvFile loads a.env file at path into the process environment via
// godotenv, if present. A missing file is not an error.
func LoadEnvFile(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	return godotenv.Load(path)
}

func xdgConfigHome() string {
	if v := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME")); v != "" {
		return v
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config")
}

func xdgCacheHome() string {
	if v := strings.TrimSpace(os.Getenv("XDG_CACHE_HOME")); v != "" {
		return v
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".cache")
}

// Resolve builds Dirs following the precedence chain: params > env vars
// (CANDIAG_CONFIG_DIR/CACHE_DIR/DATA_DIR) > candiag.ini under the resolved
// config dir > XDG defaults.
func Resolve(params Params) Dirs {
	configDir := firstNonEmpty(params.ConfigDir, os.Getenv("CANDIAG_CONFIG_DIR"), filepath.Join(xdgConfigHome(), "candiag"))
	cacheDir := firstNonEmpty(params.CacheDir, os.Getenv("CANDIAG_CACHE_DIR"), filepath.Join(xdgCacheHome(), "candiag"))
	dataDir := firstNonEmpty(params.DataDir, os.Getenv("CANDIAG_DATA_DIR"), filepath.Join(".", "datasets"))

	iniPath := filepath.Join(configDir, "candiag.ini")
	if cfg, err := ini.Load(iniPath); err == nil {
		section := cfg.Section("")
		if params.CacheDir == "" && os.Getenv("CANDIAG_CACHE_DIR") == "" {
			if v := section.Key("cache_dir").String(); v != "" {
				cacheDir = v
			}
		}
		if params.DataDir == "" && os.Getenv("CANDIAG_DATA_DIR") == "" {
			if v := section.Key("data_dir").String(); v != "" {
				dataDir = v
			}
		}
	}

	return Dirs{ConfigDir: configDir, CacheDir: cacheDir, DataDir: dataDir}
}

// ResolveBrand returns the active brand per the same precedence chain,
// reading the CANDIAG_BRAND env var and the ini file's brand key.
func ResolveBrand(params Params) string {
	if params.Brand != "" {
		return params.Brand
	}
	if v := strings.TrimSpace(os.Getenv("CANDIAG_BRAND")); v != "" {
		return v
	}
	configDir := firstNonEmpty(params.ConfigDir, os.Getenv("CANDIAG_CONFIG_DIR"), filepath.Join(xdgConfigHome(), "candiag"))
	if cfg, err := ini.Load(filepath.Join(configDir, "candiag.ini")); err == nil {
		if v := cfg.Section("").Key("brand").String(); v != "" {
			return v
		}
	}
	return "generic"
}

// EnsureDirs creates ConfigDir and CacheDir if they do not already exist.
func EnsureDirs(d Dirs) error {
	if err := os.MkdirAll(d.ConfigDir, 0o755); err != nil {
		return err
	}
	return os.MkdirAll(d.CacheDir, 0o755)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
