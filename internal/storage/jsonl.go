package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/enliven17/somnia-predict/internal/model"
)

// JSONLStorage writes market events to a JSONL file.
type JSONLStorage struct {
	path string
	mu   sync.Mutex
}

func NewJSONLStorage(path string) *JSONLStorage {
	return &JSONLStorage{path: path}
}

// PutEventBatch appends a batch of events as JSON lines.
func (s *JSONLStorage) PutEventBatch(_ context.Context, events []model.MarketEvent) error {
	if len(events) == 0 {
		return nil
	}

	dir := filepath.Dir(s.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open output file: %w", err)
	}
	defer file.Close()

	return WriteJSONL(file, events)
}

// WriteJSONL encodes one event per line.
func WriteJSONL(w io.Writer, events []model.MarketEvent) error {
	writer := bufio.NewWriter(w)
	for _, event := range events {
		line, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("marshal market event: %w", err)
		}
		if _, err := writer.Write(line); err != nil {
			return fmt.Errorf("write market event: %w", err)
		}
		if err := writer.WriteByte('\n'); err != nil {
			return fmt.Errorf("write newline: %w", err)
		}
	}

	if err := writer.Flush(); err != nil {
		return fmt.Errorf("flush output: %w", err)
	}
	return nil
}
