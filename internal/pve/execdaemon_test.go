package pve

import (
	"strings"
	"testing"

	"github.com/cmux/cmuxd/internal/errs"
)

func TestParseExecStreamAccumulatesOutput(t *testing.T) {
	stream := strings.Join([]string{
		`{"type":"stdout","data":"hello "}`,
		`{"type":"stdout","data":"world\n"}`,
		`{"type":"stderr","data":"warn\n"}`,
		`{"type":"exit","code":3}`,
	}, "\n")

	resp, err := parseExecStream(strings.NewReader(stream))
	if err != nil {
		t.Fatalf("parseExecStream: %v", err)
	}
	if resp.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", resp.ExitCode)
	}
	if resp.Stdout != "hello world\n" {
		t.Errorf("Stdout = %q", resp.Stdout)
	}
	if resp.Stderr != "warn\n" {
		t.Errorf("Stderr = %q", resp.Stderr)
	}
}

func TestParseExecStreamMissingExit(t *testing.T) {
	stream := `{"type":"stdout","data":"partial"}`
	if _, err := parseExecStream(strings.NewReader(stream)); errs.KindOf(err) != errs.KindCommandFailed {
		t.Fatalf("expected CommandFailed for stream with no exit event, got %v", err)
	}
}

func TestParseExecStreamErrorEvent(t *testing.T) {
	stream := `{"type":"error","reason":"container not running"}`
	_, err := parseExecStream(strings.NewReader(stream))
	if errs.KindOf(err) != errs.KindCommandFailed {
		t.Fatalf("expected CommandFailed, got %v", err)
	}
	if !strings.Contains(err.Error(), "exec daemon reported an error") {
		t.Fatalf("unexpected error message: %v", err)
	}
}

func TestParseExecStreamIgnoresBlankLines(t *testing.T) {
	stream := "\n\n" + `{"type":"exit","code":0}` + "\n\n"
	resp, err := parseExecStream(strings.NewReader(stream))
	if err != nil {
		t.Fatalf("parseExecStream: %v", err)
	}
	if resp.ExitCode != 0 {
		t.Errorf("ExitCode = %d, want 0", resp.ExitCode)
	}
}
