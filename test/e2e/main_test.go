package e2e

import (
	"os"
	"os/exec"
	"testing"
)

var vitalsyncBin string

func TestMain(m *testing.M) {
	vitalsyncBin = envOrLookPath("VITALSYNC_BIN", "vitalsync")
	os.Exit(m.Run())
}

func envOrLookPath(envVar, name string) string {
	if v := os.Getenv(envVar); v != "" {
		return v
	}
	if path, err := exec.LookPath(name); err == nil {
		return path
	}
	return ""
}

func requireVitalsync(t *testing.T) {
	t.Helper()
	if vitalsyncBin == "" {
		t.Skip("vitalsync binary not available (set VITALSYNC_BIN or add to PATH)")
	}
}
