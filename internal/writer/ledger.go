package writer

import (
	"fmt"
	"os"
	"sync"
)

// LedgerName is the default ledger file name, without extension.
const LedgerName = "frame_timestamps"

const ledgerHeader = "# Frame index, Recording number, Experiment number, Source timestamp, Software timestamp\n"

// Row is one ledger line.
type Row struct {
	Counter           int64
	Recording         int
	Experiment        int
	SourceTimestamp   int64
	SoftwareTimestamp int64
}

// Ledger is an append-only CSV file with one row per attempted frame write.
type Ledger struct {
	mu   sync.Mutex
	path string
	f    *os.File
}

// OpenLedger opens path for appending, creating it with a header line when
// it does not exist or is empty.
func OpenLedger(path string) (*Ledger, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat ledger: %w", err)
	}
	if info.Size() == 0 {
		if _, err := f.WriteString(ledgerHeader); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("write ledger header: %w", err)
		}
	}

	return &Ledger{path: path, f: f}, nil
}

// Path returns the ledger file path.
func (l *Ledger) Path() string {
	return l.path
}

// Append writes r as a single line.
func (l *Ledger) Append(r Row) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.f == nil {
		return os.ErrClosed
	}
	line := fmt.Sprintf("%d,%d,%d,%d,%d\n", r.Counter, r.Recording, r.Experiment, r.SourceTimestamp, r.SoftwareTimestamp)
	if _, err := l.f.WriteString(line); err != nil {
		return fmt.Errorf("append ledger row %d: %w", r.Counter, err)
	}
	return nil
}

// Close closes the file. Further appends fail with os.ErrClosed.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return err
}
