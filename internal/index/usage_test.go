package index

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestUsageWriter_RecordUsage_AppendsJSONLines(t *testing.T) {
	dir := t.TempDir()
	w, err := NewUsageWriter(dir)
	if err != nil {
		t.Fatalf("NewUsageWriter: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := w.RecordUsage(UsageEvent{
			Timestamp: time.Now(),
			Backend:   "local",
			Model:     "nomic-embed-text",
			Operation: "embedBatch",
			Items:     i + 1,
		}); err != nil {
			t.Fatalf("RecordUsage: %v", err)
		}
	}

	lines := readLines(t, filepath.Join(dir, usageFileName))
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d", len(lines))
	}
	var ev UsageEvent
	if err := json.Unmarshal([]byte(lines[2]), &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ev.Items != 3 {
		t.Fatalf("expected Items=3 on last line, got %d", ev.Items)
	}
}

func TestUsageWriter_RecordTokenSavings_AppendsJSONLines(t *testing.T) {
	dir := t.TempDir()
	w, err := NewUsageWriter(dir)
	if err != nil {
		t.Fatalf("NewUsageWriter: %v", err)
	}

	if err := w.RecordTokenSavings(TokenSavingsEvent{
		Timestamp:   time.Now(),
		FilePath:    "main.go",
		FileTokens:  400,
		ChunkTokens: 50,
	}); err != nil {
		t.Fatalf("RecordTokenSavings: %v", err)
	}

	lines := readLines(t, filepath.Join(dir, tokenSavingsFileName))
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(lines))
	}
	var ev TokenSavingsEvent
	if err := json.Unmarshal([]byte(lines[0]), &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ev.FilePath != "main.go" || ev.ChunkTokens != 50 {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	return lines
}
