package commands

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/conduitmesh/conduit/pkg/log"
)

func TestExportToJSONL(t *testing.T) {
	ts := time.Date(2026, 1, 28, 10, 15, 32, 123456000, time.UTC)
	events := []log.Event{
		{
			Timestamp:    ts,
			ConnectionID: "abc12345",
			Kind:         log.KindBound,
			Category:     log.CategoryState,
			StateChange:  &log.StateChangeEvent{NewState: "ACTIVE"},
		},
	}
	path := createTestLogFile(t, events)

	var out bytes.Buffer
	if err := exportJSONL(mustReader(t, path), &out); err != nil {
		t.Fatalf("exportJSONL failed: %v", err)
	}

	var decoded map[string]any
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(lines))
	}
	if err := json.Unmarshal([]byte(lines[0]), &decoded); err != nil {
		t.Fatalf("failed to decode JSONL line: %v", err)
	}
	if decoded["ConnectionID"] != "abc12345" {
		t.Errorf("ConnectionID: got %v, want abc12345", decoded["ConnectionID"])
	}
}

func TestExportToCSV(t *testing.T) {
	ts := time.Date(2026, 1, 28, 10, 0, 0, 0, time.UTC)
	events := []log.Event{
		{Timestamp: ts, ConnectionID: "conn-1", Kind: log.KindConnected, Category: log.CategoryError,
			Error: &log.ErrorEventData{Message: "boom"}},
	}
	path := createTestLogFile(t, events)

	var out bytes.Buffer
	if err := exportCSV(mustReader(t, path), &out); err != nil {
		t.Fatalf("exportCSV failed: %v", err)
	}

	output := out.String()
	if !strings.Contains(output, "timestamp,connection_id,kind,direction,layer,category,remote_addr,type") {
		t.Errorf("expected CSV header, got:\n%s", output)
	}
	if !strings.Contains(output, "conn-1") || !strings.Contains(output, "error") {
		t.Errorf("expected conn-1 error row, got:\n%s", output)
	}
}

func TestExportRejectsUnknownFormat(t *testing.T) {
	path := createTestLogFile(t, []log.Event{{ConnectionID: "x"}})
	if err := RunExport(path, "xml", ""); err == nil {
		t.Error("expected error for unknown format")
	}
}

func mustReader(t *testing.T, path string) *log.Reader {
	t.Helper()
	r, err := log.NewReader(path)
	if err != nil {
		t.Fatalf("failed to open reader: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}
