package writer

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
}

func TestLedgerHeaderAndRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "frame_timestamps.csv")

	l, err := OpenLedger(path)
	if err != nil {
		t.Fatalf("OpenLedger() error = %v", err)
	}
	if err := l.Append(Row{Counter: 1, Recording: 2, Experiment: 3, SourceTimestamp: 100, SoftwareTimestamp: -5}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	lines := readLines(t, path)
	want := []string{
		"# Frame index, Recording number, Experiment number, Source timestamp, Software timestamp",
		"1,2,3,100,-5",
	}
	if len(lines) != len(want) {
		t.Fatalf("got %d lines, want %d: %q", len(lines), len(want), lines)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, lines[i], want[i])
		}
	}
}

func TestLedgerReopenAppendsWithoutHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.csv")

	for i := range int64(2) {
		l, err := OpenLedger(path)
		if err != nil {
			t.Fatalf("OpenLedger() error = %v", err)
		}
		_ = l.Append(Row{Counter: i + 1})
		_ = l.Close()
	}

	lines := readLines(t, path)
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want header plus 2 rows: %q", len(lines), lines)
	}
	if strings.Count(strings.Join(lines, "\n"), "# Frame index") != 1 {
		t.Error("header written more than once")
	}
}

func TestLedgerEmptyFileGetsHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.csv")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	l, err := OpenLedger(path)
	if err != nil {
		t.Fatalf("OpenLedger() error = %v", err)
	}
	_ = l.Close()

	if lines := readLines(t, path); !strings.HasPrefix(lines[0], "# Frame index") {
		t.Errorf("first line = %q, want header", lines[0])
	}
}

func TestLedgerAppendAfterClose(t *testing.T) {
	l, err := OpenLedger(filepath.Join(t.TempDir(), "ledger.csv"))
	if err != nil {
		t.Fatal(err)
	}
	_ = l.Close()
	_ = l.Close()

	if err := l.Append(Row{Counter: 1}); !errors.Is(err, os.ErrClosed) {
		t.Errorf("Append() after Close = %v, want os.ErrClosed", err)
	}
}

func TestOpenLedgerMissingDirectory(t *testing.T) {
	if _, err := OpenLedger(filepath.Join(t.TempDir(), "missing", "ledger.csv")); err == nil {
		t.Error("expected error for missing directory")
	}
}
