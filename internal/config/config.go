// Package config loads printfleet settings from config.yaml and the
// environment.
//
// Lookup order, highest first: explicit Set calls (flags), PF_* environment
// variables, the project's .printfleet/config.yaml (found by walking up from
// the working directory), $XDG_CONFIG_HOME/printfleet/config.yaml, defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// DirName is the per-project directory holding config.yaml and the database.
const DirName = ".printfleet"

// EnvPrefix is prepended to every environment override (PF_STATUS_INTERVAL).
const EnvPrefix = "PF"

var (
	v *viper.Viper

	mu        sync.Mutex
	callbacks []func()
	watching  bool
)

// Initialize sets up the viper singleton. It is safe to call again; each call
// starts from a fresh instance.
func Initialize() error {
	nv := viper.New()
	nv.SetConfigType("yaml")
	setDefaults(nv)

	nv.SetEnvPrefix(EnvPrefix)
	nv.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	nv.AutomaticEnv()

	if path := findConfigFile(); path != "" {
		nv.SetConfigFile(path)
		if err := nv.ReadInConfig(); err != nil {
			return fmt.Errorf("error reading config file %s: %w", path, err)
		}
	}

	mu.Lock()
	v = nv
	watching = false
	mu.Unlock()
	return nil
}

func setDefaults(nv *viper.Viper) {
	nv.SetDefault("json", false)
	nv.SetDefault("backend", "sqlite")
	nv.SetDefault("db", "")

	nv.SetDefault("mysql.host", "127.0.0.1")
	nv.SetDefault("mysql.port", 3306)
	nv.SetDefault("mysql.user", "root")
	nv.SetDefault("mysql.password", "")
	nv.SetDefault("mysql.database", "printfleet")
	nv.SetDefault("mysql.tls", false)

	nv.SetDefault("schedule.step", 5*time.Minute)
	nv.SetDefault("schedule.horizon", 14*24*time.Hour)
	nv.SetDefault("schedule.timeout", 30*time.Second)
	nv.SetDefault("schedule.max-nodes", 0)
	nv.SetDefault("schedule.timezone", "Local")

	nv.SetDefault("status.mode", "poll")
	nv.SetDefault("status.interval", 10*time.Second)
	nv.SetDefault("status.request-timeout", 5*time.Second)
	nv.SetDefault("status.max-age", time.Duration(0))
	nv.SetDefault("status.api-key", "")

	nv.SetDefault("serve.addr", "127.0.0.1:7800")
	nv.SetDefault("serve.token", "")
}

// findConfigFile returns the project config.yaml or, failing that, the user
// one. Empty when neither exists.
func findConfigFile() string {
	if path, err := FindProjectConfig(); err == nil {
		return path
	}
	if dir := userConfigDir(); dir != "" {
		path := filepath.Join(dir, "printfleet", "config.yaml")
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

func userConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return xdg
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return dir
}

// FindProjectConfig walks up from the working directory looking for
// .printfleet/config.yaml.
func FindProjectConfig() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get working directory: %w", err)
	}
	for dir := cwd; ; dir = filepath.Dir(dir) {
		path := filepath.Join(dir, DirName, "config.yaml")
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
		if dir == filepath.Dir(dir) {
			break
		}
	}
	return "", fmt.Errorf("no %s/config.yaml found (run 'pf init' first)", DirName)
}

// ProjectDir returns the .printfleet directory config.yaml was loaded from,
// or empty when no project config exists.
func ProjectDir() string {
	path, err := FindProjectConfig()
	if err != nil {
		return ""
	}
	return filepath.Dir(path)
}

func get() *viper.Viper {
	mu.Lock()
	defer mu.Unlock()
	return v
}

// GetString retrieves a string configuration value
func GetString(key string) string {
	if vv := get(); vv != nil {
		return vv.GetString(key)
	}
	return ""
}

// GetBool retrieves a boolean configuration value
func GetBool(key string) bool {
	if vv := get(); vv != nil {
		return vv.GetBool(key)
	}
	return false
}

// GetInt retrieves an integer configuration value
func GetInt(key string) int {
	if vv := get(); vv != nil {
		return vv.GetInt(key)
	}
	return 0
}

// GetDuration retrieves a duration configuration value
func GetDuration(key string) time.Duration {
	if vv := get(); vv != nil {
		return vv.GetDuration(key)
	}
	return 0
}

// Set sets a configuration value for this process only.
func Set(key string, value interface{}) {
	if vv := get(); vv != nil {
		vv.Set(key, value)
	}
}

// IsSet reports whether key comes from config.yaml or the environment
// rather than a default.
func IsSet(key string) bool {
	if vv := get(); vv != nil {
		return vv.InConfig(key) || os.Getenv(envName(key)) != ""
	}
	return false
}

func envName(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.NewReplacer(".", "_", "-", "_").Replace(key))
}

// AllSettings returns every resolved key.
func AllSettings() map[string]interface{} {
	if vv := get(); vv != nil {
		return vv.AllSettings()
	}
	return map[string]interface{}{}
}

// ConfigFileUsed returns the path of the loaded config file, if any.
func ConfigFileUsed() string {
	if vv := get(); vv != nil {
		return vv.ConfigFileUsed()
	}
	return ""
}

// Location resolves schedule.timezone. Unknown zones fall back to Local.
func Location() (*time.Location, error) {
	name := GetString("schedule.timezone")
	if name == "" || name == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.Local, fmt.Errorf("schedule.timezone %q: %w", name, err)
	}
	return loc, nil
}

// OnChange registers fn to run after config.yaml changes on disk and has been
// re-read. The first registration starts the file watch; without a config
// file nothing is watched and fn never fires.
func OnChange(fn func()) {
	mu.Lock()
	callbacks = append(callbacks, fn)
	vv := v
	start := !watching && vv != nil && vv.ConfigFileUsed() != ""
	if start {
		watching = true
	}
	mu.Unlock()
	if !start {
		return
	}
	vv.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		mu.Lock()
		fns := append([]func(){}, callbacks...)
		mu.Unlock()
		for _, fn := range fns {
			fn()
		}
	})
	vv.WatchConfig()
}

// ResetForTesting drops the singleton and every OnChange callback.
func ResetForTesting() {
	mu.Lock()
	defer mu.Unlock()
	v = nil
	callbacks = nil
	watching = false
}
