package history

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rangekeeper/rangekeeper/internal/engine"
)

// JsonlLog appends rebalance history events as JSON lines, used when
// no Postgres DSN is configured. Loss on crash mid-write is tolerated
// per engine.HistoryLog's contract.
type JsonlLog struct {
	path string
	mu   sync.Mutex
}

// NewJsonlLog returns a JsonlLog writing to path.
func NewJsonlLog(path string) *JsonlLog {
	return &JsonlLog{path: path}
}

// Append implements engine.HistoryLog.
func (l *JsonlLog) Append(ctx context.Context, event engine.HistoryEvent) error {
	dir := filepath.Dir(l.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("history: create output dir: %w", err)
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("history: open output file: %w", err)
	}
	defer file.Close()

	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("history: marshal event: %w", err)
	}
	writer := bufio.NewWriter(file)
	if _, err := writer.Write(line); err != nil {
		return fmt.Errorf("history: write event: %w", err)
	}
	if err := writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("history: write newline: %w", err)
	}
	return writer.Flush()
}
