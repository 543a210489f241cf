package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/acolita/satprobe/internal/script"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestRun_Version(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := run([]string{"--version"}, nil, &stdout, &stderr); code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	if !strings.Contains(stdout.String(), "satprobe version "+Version) {
		t.Errorf("stdout = %q", stdout.String())
	}
}

func TestRun_NoScripts(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	writeFile(t, cfgPath, "socket:\n  port: 5000\n")

	var stdout, stderr bytes.Buffer
	if code := run([]string{"--config", cfgPath}, nil, &stdout, &stderr); code != 2 {
		t.Errorf("exit code = %d, want 2", code)
	}
	if !strings.Contains(stderr.String(), "Usage: satprobe") {
		t.Errorf("stderr = %q", stderr.String())
	}
}

func TestRun_InvalidConfig(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, cfgPath, "target:\n  channel: serial\n")

	var stdout, stderr bytes.Buffer
	if code := run([]string{"--config", cfgPath, "x.yaml"}, nil, &stdout, &stderr); code != 1 {
		t.Errorf("exit code = %d, want 1", code)
	}
	if !strings.Contains(stderr.String(), "Invalid configuration") {
		t.Errorf("stderr = %q", stderr.String())
	}
}

const localConfig = `
target:
  channel: console
  launch: local
program:
  path: cat
  wait_time: 0s
timing:
  unit: 50ms
storage:
  dir: %s
logging:
  format: text
`

func TestRun_LocalScripts(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	writeFile(t, cfgPath, strings.Replace(localConfig, "%s", filepath.Join(dir, "stored"), 1))

	writeFile(t, filepath.Join(dir, "scripts", "echo.yaml"), `
name: echo
steps:
  - keyword: send_command
    message: hello
  - keyword: verify_reply_contained
    message: hello
`)
	writeFile(t, filepath.Join(dir, "scripts", "nested", "silent.yaml"), `
name: silent
steps:
  - keyword: verify_reply_contains
    message: never
    timeout: 1
    read_timeout: 1
`)

	var stdout, stderr bytes.Buffer
	code := run([]string{"--config", cfgPath, filepath.Join(dir, "scripts", "**", "*.yaml")}, nil, &stdout, &stderr)
	if code != 1 {
		t.Fatalf("exit code = %d, want 1 (one failing script)\nstdout: %s\nstderr: %s", code, stdout.String(), stderr.String())
	}
	out := stdout.String()
	if !strings.Contains(out, "PASS echo") || !strings.Contains(out, "FAIL silent") {
		t.Errorf("stdout = %q", out)
	}
	if !strings.Contains(out, "2 script(s), 1 passed, 1 failed") {
		t.Errorf("summary missing from %q", out)
	}
}

func TestExpandScripts(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.yaml"), "")
	writeFile(t, filepath.Join(dir, "sub", "b.yaml"), "")
	writeFile(t, filepath.Join(dir, "sub", "notes.txt"), "")

	got, err := expandScripts([]string{
		filepath.Join(dir, "**", "*.yaml"),
		filepath.Join(dir, "a.yaml"),
		"literal.yaml",
	})
	if err != nil {
		t.Fatalf("expandScripts() error: %v", err)
	}
	want := []string{filepath.Join(dir, "a.yaml"), filepath.Join(dir, "sub", "b.yaml"), "literal.yaml"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expandScripts() = %q, want %q", got, want)
	}

	if _, err := expandScripts([]string{filepath.Join(dir, "*.json")}); err == nil {
		t.Error("a pattern without matches should fail")
	}
}

func TestPrintReport(t *testing.T) {
	var buf bytes.Buffer
	printReport(&buf, &script.Report{
		Script:   "beacon",
		Duration: 3 * time.Second,
		Steps: []script.StepResult{
			{Index: 1, Name: "arm", Duration: time.Second},
			{Index: 2, Name: "check log", StoredPath: "stored/beacon.log_1700000000"},
			{Index: 3, Name: "wait", Err: errors.New("reply never arrived")},
		},
	})

	out := buf.String()
	for _, want := range []string{"FAIL beacon (3s)", "arm", "FAILED", "reply never arrived", "saved replies: stored/beacon.log_1700000000"} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q:\n%s", want, out)
		}
	}
}

func TestReadPassword_FromPipe(t *testing.T) {
	got, err := readPassword(strings.NewReader("s3cret\n"), &bytes.Buffer{}, "Password: ")
	if err != nil || got != "s3cret" {
		t.Errorf("readPassword() = %q, %v", got, err)
	}
	if _, err := readPassword(strings.NewReader("\n"), &bytes.Buffer{}, "Password: "); err == nil {
		t.Error("an empty password should be rejected")
	}
}
