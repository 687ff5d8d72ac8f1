package config

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Keys lists every setting printfleet reads. `pf config set` refuses
// anything else so typos surface immediately.
var Keys = []string{
	"backend",
	"db",
	"json",
	"mysql.database",
	"mysql.host",
	"mysql.password",
	"mysql.port",
	"mysql.tls",
	"mysql.user",
	"schedule.horizon",
	"schedule.max-nodes",
	"schedule.step",
	"schedule.timeout",
	"schedule.timezone",
	"serve.addr",
	"serve.token",
	"status.api-key",
	"status.interval",
	"status.max-age",
	"status.mode",
	"status.request-timeout",
}

// IsKnownKey reports whether key is one of Keys.
func IsKnownKey(key string) bool {
	for _, k := range Keys {
		if k == key {
			return true
		}
	}
	return false
}

// SetYamlConfig sets a configuration value in the project's config.yaml file.
// It handles both adding new keys and updating existing (possibly commented) keys.
func SetYamlConfig(key, value string) error {
	if !IsKnownKey(key) {
		return fmt.Errorf("unknown config key %q", key)
	}
	configPath, err := FindProjectConfig()
	if err != nil {
		return err
	}

	content, err := os.ReadFile(configPath) //nolint:gosec // configPath is from FindProjectConfig
	if err != nil {
		return fmt.Errorf("failed to read config.yaml: %w", err)
	}

	newContent, err := updateYamlKey(string(content), key, value)
	if err != nil {
		return err
	}

	if err := os.WriteFile(configPath, []byte(newContent), 0600); err != nil { //nolint:gosec // configPath is validated
		return fmt.Errorf("failed to write config.yaml: %w", err)
	}
	return nil
}

// DefaultConfigYAML is written by `pf init`. Every key is present but
// commented so SetYamlConfig can uncomment it in place.
const DefaultConfigYAML = `# printfleet configuration
#
# Storage backend: sqlite (default), mysql or memory.
# backend: sqlite
# db: .printfleet/printfleet.db

# MySQL-protocol server (MySQL, MariaDB, Dolt sql-server).
# mysql.host: 127.0.0.1
# mysql.port: 3306
# mysql.user: root
# mysql.database: printfleet

# Scheduling.
# schedule.step: 5m
# schedule.horizon: 336h
# schedule.timeout: 30s
# schedule.timezone: Local

# Printer status feed (pf watch): poll or websocket.
# status.mode: poll
# status.interval: 10s
# status.request-timeout: 5s
# status.max-age: 0s

# HTTP API (pf serve).
# serve.addr: 127.0.0.1:7800
`

// updateYamlKey rewrites the first line defining key, commented or not, and
// drops later duplicates. Missing keys are appended. The result always ends
// with a newline.
func updateYamlKey(content, key, value string) (string, error) {
	if strings.ContainsAny(value, "\r\n") {
		return "", fmt.Errorf("value for %s must be a single line", key)
	}
	line := key + ": " + formatYamlValue(value)
	pattern := regexp.MustCompile(`^(\s*)(#\s*)?` + regexp.QuoteMeta(key) + `\s*:`)

	var out []string
	replaced := false
	sc := bufio.NewScanner(strings.NewReader(content))
	for sc.Scan() {
		text := sc.Text()
		m := pattern.FindStringSubmatch(text)
		switch {
		case m == nil:
			out = append(out, text)
		case !replaced:
			out = append(out, m[1]+line)
			replaced = true
		case m[2] != "":
			// A second commented copy is documentation; keep it.
			out = append(out, text)
		}
	}
	if !replaced {
		if n := len(out); n > 0 && out[n-1] != "" {
			out = append(out, "")
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n") + "\n", nil
}

// formatYamlValue leaves booleans, numbers and durations bare and quotes
// strings YAML would misread.
func formatYamlValue(value string) string {
	if b, err := strconv.ParseBool(value); err == nil && strings.EqualFold(value, strconv.FormatBool(b)) {
		return strconv.FormatBool(b)
	}
	if _, err := strconv.ParseFloat(value, 64); err == nil {
		return value
	}
	if _, err := time.ParseDuration(value); err == nil {
		return value
	}
	if value == "" || strings.TrimSpace(value) != value || strings.ContainsAny(value, ":#[]{},&*!|>'\"%@`") {
		return strconv.Quote(value)
	}
	return value
}
