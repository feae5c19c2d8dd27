package event

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const (
	ModeDisable = "DISABLE"
	ModeLog     = "LOG"
	ModeReplay  = "REPLAY"
)

const (
	DirectionIn  = "in"
	DirectionOut = "out"
)

// JournalEntry is one line of the change journal.
type JournalEntry struct {
	Direction string `json:"direction"`
	Change
}

// Journal appends every published and consumed change to a JSON-lines file
// so a broker outage can be replayed afterwards.
type Journal struct {
	mu   sync.Mutex
	path string
	file *os.File
}

func OpenJournal(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	return &Journal{path: path, file: f}, nil
}

// Record is a no-op on a nil journal.
func (j *Journal) Record(direction string, c Change) error {
	if j == nil {
		return nil
	}
	line, err := json.Marshal(JournalEntry{Direction: direction, Change: c})
	if err != nil {
		return err
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	_, err = j.file.Write(append(line, '\n'))
	return err
}

// Replay feeds every outgoing entry in the journal to publish, in file order.
func (j *Journal) Replay(ctx context.Context, publish func(context.Context, Change) error) (int, error) {
	f, err := os.Open(j.path)
	if err != nil {
		return 0, fmt.Errorf("open journal: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	count, line := 0, 0
	for scanner.Scan() {
		line++
		if err := ctx.Err(); err != nil {
			return count, err
		}
		var entry JournalEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			return count, fmt.Errorf("journal line %d: %w", line, err)
		}
		if entry.Direction != DirectionOut {
			continue
		}
		if err := publish(ctx, entry.Change); err != nil {
			return count, err
		}
		count++
	}
	return count, scanner.Err()
}

func (j *Journal) Close() error {
	if j == nil {
		return nil
	}
	return j.file.Close()
}
