package debug

import (
	"bytes"
	"io"
	"os"
	"testing"
)

// captureStderr runs fn with os.Stderr redirected and returns what it wrote.
func captureStderr(t *testing.T, fn func()) string {
	t.Helper()
	old := os.Stderr
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	os.Stderr = w
	fn()
	w.Close()
	os.Stderr = old
	var buf bytes.Buffer
	_, _ = io.Copy(&buf, r)
	return buf.String()
}

func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	old := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	os.Stdout = w
	fn()
	w.Close()
	os.Stdout = old
	var buf bytes.Buffer
	_, _ = io.Copy(&buf, r)
	return buf.String()
}

func TestLogfAndTagf(t *testing.T) {
	tests := []struct {
		name    string
		enabled bool
		verbose bool
		log     func()
		want    string
	}{
		{"disabled", false, false, func() { Logf("solve %d\n", 3) }, ""},
		{"env enabled", true, false, func() { Logf("solve %d\n", 3) }, "solve 3\n"},
		{"verbose flag", false, true, func() { Logf("solve %d\n", 3) }, "solve 3\n"},
		{"tagged", true, false, func() { Tagf("poller", "printer %s offline\n", "p1") }, "[poller] printer p1 offline\n"},
		{"tagged disabled", false, false, func() { Tagf("poller", "x\n") }, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			oldEnabled, oldVerbose := enabled, verboseMode
			defer func() { enabled, verboseMode = oldEnabled, oldVerbose }()
			enabled, verboseMode = tt.enabled, tt.verbose

			if got := captureStderr(t, tt.log); got != tt.want {
				t.Errorf("output = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSetVerbose(t *testing.T) {
	oldVerbose, oldEnabled := verboseMode, enabled
	defer func() { verboseMode, enabled = oldVerbose, oldEnabled }()

	enabled = false
	SetVerbose(false)
	if Enabled() {
		t.Fatal("Enabled() should be false initially")
	}
	SetVerbose(true)
	if !Enabled() {
		t.Error("Enabled() should be true after SetVerbose(true)")
	}
}

func TestQuietSuppressesNormalOutput(t *testing.T) {
	oldQuiet := quietMode
	defer func() { quietMode = oldQuiet }()

	SetQuiet(false)
	if got := captureStdout(t, func() { PrintNormal("scheduled %d\n", 2) }); got != "scheduled 2\n" {
		t.Errorf("PrintNormal = %q", got)
	}
	if got := captureStdout(t, func() { PrintlnNormal("a", "b") }); got != "a b\n" {
		t.Errorf("PrintlnNormal = %q", got)
	}

	SetQuiet(true)
	if !IsQuiet() {
		t.Fatal("IsQuiet() should be true")
	}
	if got := captureStdout(t, func() { PrintNormal("scheduled\n") }); got != "" {
		t.Errorf("PrintNormal in quiet mode = %q", got)
	}
}
