package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestUpdateYamlKey(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		key      string
		value    string
		expected string
	}{
		{
			name:     "uncomment default",
			content:  "# printfleet\n# status.interval: 10s\n",
			key:      "status.interval",
			value:    "5s",
			expected: "# printfleet\nstatus.interval: 5s\n",
		},
		{
			name:     "replace existing",
			content:  "backend: sqlite\ndb: fleet.db\n",
			key:      "backend",
			value:    "mysql",
			expected: "backend: mysql\ndb: fleet.db\n",
		},
		{
			name:     "append missing",
			content:  "backend: sqlite",
			key:      "serve.addr",
			value:    "0.0.0.0:7800",
			expected: "backend: sqlite\n\nserve.addr: \"0.0.0.0:7800\"\n",
		},
		{
			name:     "keep indentation",
			content:  "  status.mode: poll\n",
			key:      "status.mode",
			value:    "websocket",
			expected: "  status.mode: websocket\n",
		},
		{
			name:     "duplicate live key dropped",
			content:  "json: false\n# json: true\njson: false\n",
			key:      "json",
			value:    "TRUE",
			expected: "json: true\n# json: true\n",
		},
		{
			name:     "prefix is not a match",
			content:  "status.mode-old: x\n",
			key:      "status.mode",
			value:    "poll",
			expected: "status.mode-old: x\n\nstatus.mode: poll\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := updateYamlKey(tt.content, tt.key, tt.value)
			if err != nil {
				t.Fatalf("updateYamlKey: %v", err)
			}
			if got != tt.expected {
				t.Errorf("got:\n%q\nwant:\n%q", got, tt.expected)
			}
		})
	}

	if _, err := updateYamlKey("", "db", "a\nb"); err == nil {
		t.Error("multi-line values should be rejected")
	}
}

func TestFormatYamlValue(t *testing.T) {
	tests := map[string]string{
		"true":          "true",
		"False":         "false",
		"3306":          "3306",
		"1.5":           "1.5",
		"1h30m":         "1h30m",
		"sqlite":        "sqlite",
		"Europe/Berlin": "Europe/Berlin",
		"10:00-22:00":   `"10:00-22:00"`,
		" padded":       `" padded"`,
		"":              `""`,
		"a#b":           `"a#b"`,
	}
	for in, want := range tests {
		if got := formatYamlValue(in); got != want {
			t.Errorf("formatYamlValue(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestSetYamlConfig(t *testing.T) {
	root := t.TempDir()
	path := writeProject(t, root, DefaultConfigYAML)
	t.Chdir(root)

	if err := SetYamlConfig("status.mode", "websocket"); err != nil {
		t.Fatalf("SetYamlConfig: %v", err)
	}
	if err := SetYamlConfig("schedule.timezone", "Europe/Berlin"); err != nil {
		t.Fatalf("SetYamlConfig: %v", err)
	}
	if err := SetYamlConfig("status.moed", "poll"); err == nil || !strings.Contains(err.Error(), "unknown config key") {
		t.Errorf("typo key err = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	content := string(data)
	if !strings.Contains(content, "\nstatus.mode: websocket\n") || strings.Contains(content, "# status.mode:") {
		t.Errorf("status.mode not uncommented in place:\n%s", content)
	}
	if !strings.HasPrefix(content, "# printfleet configuration") {
		t.Error("header comment should survive")
	}

	if err := Initialize(); err != nil {
		t.Fatal(err)
	}
	defer ResetForTesting()
	if GetString("status.mode") != "websocket" || GetString("schedule.timezone") != "Europe/Berlin" {
		t.Errorf("viper sees mode=%q tz=%q", GetString("status.mode"), GetString("schedule.timezone"))
	}
}

func TestSetYamlConfigWithoutProject(t *testing.T) {
	t.Chdir(t.TempDir())
	err := SetYamlConfig("backend", "memory")
	if err == nil || !strings.Contains(err.Error(), "pf init") {
		t.Errorf("err = %v, want hint to run pf init", err)
	}
}

func TestKeysAreDefaults(t *testing.T) {
	if err := Initialize(); err != nil {
		t.Fatal(err)
	}
	defer ResetForTesting()
	settings := AllSettings()
	for _, k := range Keys {
		top, rest, nested := strings.Cut(k, ".")
		if !nested {
			if _, ok := settings[k]; !ok {
				t.Errorf("key %s has no default", k)
			}
			continue
		}
		section, ok := settings[top].(map[string]interface{})
		if !ok {
			t.Errorf("section %s missing", top)
			continue
		}
		if _, ok := section[rest]; !ok {
			t.Errorf("key %s has no default", k)
		}
	}
}

func TestLoadLocalConfig(t *testing.T) {
	dir := filepath.Join(t.TempDir(), DirName)
	if got := LoadLocalConfig(dir); got == nil || got.Backend != "" {
		t.Fatalf("missing file should give an empty config, got %+v", got)
	}

	if err := os.MkdirAll(dir, 0o750); err != nil {
		t.Fatal(err)
	}
	write := func(s string) {
		if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(s), 0o600); err != nil {
			t.Fatal(err)
		}
	}

	write("backend: mysql\ndb: ignored\nstatus.mode: websocket\n# status.interval: 1s\n")
	cfg := LoadLocalConfig(dir)
	if cfg.Backend != "mysql" || cfg.Status.Mode != "websocket" || cfg.Status.Interval != "" {
		t.Errorf("flat keys: %+v", cfg)
	}

	write("status:\n  mode: poll\n  interval: 7s\n")
	cfg = LoadLocalConfig(dir)
	if cfg.Status.Mode != "poll" || cfg.Status.Interval != "7s" {
		t.Errorf("nested keys: %+v", cfg)
	}

	write(":::not yaml")
	if cfg := LoadLocalConfig(dir); cfg.Backend != "" {
		t.Errorf("garbage should give an empty config, got %+v", cfg)
	}
}
