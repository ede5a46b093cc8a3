package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
)

func TestRun_NoArgsPrintsUsage(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := Run([]string{"helm-pm"}, &stdout, &stderr)
	if code != 2 {
		t.Fatalf("code = %d, want 2", code)
	}
	if !strings.Contains(stdout.String(), "USAGE") {
		t.Errorf("expected usage text, got %q", stdout.String())
	}
}

func TestRun_UnknownCommand(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := Run([]string{"helm-pm", "bogus"}, &stdout, &stderr)
	if code != 2 {
		t.Fatalf("code = %d, want 2", code)
	}
	if !strings.Contains(stderr.String(), "Unknown command") {
		t.Errorf("expected unknown-command message, got %q", stderr.String())
	}
}

func TestRun_DoctorAgainstFreshState(t *testing.T) {
	stateFile := filepath.Join(t.TempDir(), "state.json")
	t.Setenv("HELM_PM_STATE_FILE", stateFile)

	var stdout, stderr bytes.Buffer
	code := Run([]string{"helm-pm", "doctor"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("code = %d, stderr = %s", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), "eventCount") {
		t.Errorf("expected doctor output to contain eventCount, got %q", stdout.String())
	}
}

func TestRun_ExportAgainstFreshState(t *testing.T) {
	stateFile := filepath.Join(t.TempDir(), "state.json")
	t.Setenv("HELM_PM_STATE_FILE", stateFile)

	var stdout, stderr bytes.Buffer
	code := Run([]string{"helm-pm", "export"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("code = %d, stderr = %s", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), "Personalization Memory Export") {
		t.Errorf("expected markdown export heading, got %q", stdout.String())
	}
}
