package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
)

func setEnv(t *testing.T, dsn string) {
	t.Helper()
	for _, k := range []string{"REDIS_ADDR", "PROVIDERS_FILE", "MASTER_KEYS_JSON", "MASTER_KEY_B64", "MASTER_KEY_CURRENT_ID", "REDACTION_LEVEL", "AUTO_CREDENTIAL_POLICY"} {
		t.Setenv(k, "")
	}
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("DB_DSN", dsn)
}

func TestSendWithMockTool(t *testing.T) {
	setEnv(t, "")
	var stdout, stderr bytes.Buffer
	code := run([]string{"send", "-u", "u1", "-t", "FreeTool", "what", "is", "go"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("exit %d, stderr=%s", code, stderr.String())
	}
	if !strings.HasPrefix(stdout.String(), "FreeTool: ") || !strings.Contains(stdout.String(), `"what is go"`) {
		t.Fatalf("unexpected output %q", stdout.String())
	}
}

func TestSendFailureExitsNonZero(t *testing.T) {
	setEnv(t, "")
	var stdout, stderr bytes.Buffer
	code := run([]string{"send", "-u", "u1", "-t", "UnknownTool", "hi"}, &stdout, &stderr)
	if code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
	if !strings.Contains(stderr.String(), "Unsupported tool: UnknownTool") {
		t.Fatalf("unexpected stderr %q", stderr.String())
	}
}

func TestHistoryAndClear(t *testing.T) {
	setEnv(t, filepath.Join(t.TempDir(), "chat.db"))

	var stdout, stderr bytes.Buffer
	if code := run([]string{"send", "-u", "u1", "-t", "FreeTool", "hello"}, &stdout, &stderr); code != 0 {
		t.Fatalf("send exit %d: %s", code, stderr.String())
	}

	stdout.Reset()
	if code := run([]string{"history", "-u", "u1"}, &stdout, &stderr); code != 0 {
		t.Fatalf("history exit %d: %s", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), "you (FreeTool): hello") {
		t.Fatalf("unexpected history %q", stdout.String())
	}

	stdout.Reset()
	if code := run([]string{"clear", "-u", "u1"}, &stdout, &stderr); code != 0 {
		t.Fatalf("clear exit %d: %s", code, stderr.String())
	}
	if strings.TrimSpace(stdout.String()) != "deleted 2 records" {
		t.Fatalf("unexpected clear output %q", stdout.String())
	}
}

func TestToolsListsReservedIDsFirst(t *testing.T) {
	setEnv(t, "")
	var stdout, stderr bytes.Buffer
	if code := run([]string{"tools"}, &stdout, &stderr); code != 0 {
		t.Fatalf("exit %d: %s", code, stderr.String())
	}
	lines := strings.Split(strings.TrimSpace(stdout.String()), "\n")
	if len(lines) < 3 || lines[0] != "Auto" || lines[1] != "FreeTool" {
		t.Fatalf("unexpected tools %v", lines)
	}
}
