package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"rangeKeeper/internal/model"
)

// JsonlStorage appends reposition and position events to a JSONL file.
type JsonlStorage struct {
	path string
	mu   sync.Mutex
}

func NewJsonlStorage(path string) *JsonlStorage {
	return &JsonlStorage{path: path}
}

func (s *JsonlStorage) Path() string { return s.path }

// PutRepositionEvent appends event as one JSON line.
func (s *JsonlStorage) PutRepositionEvent(_ context.Context, event model.RepositionEvent) error {
	return s.appendLines([]any{event})
}

// PutPositionEvents appends one JSON line per event.
func (s *JsonlStorage) PutPositionEvents(_ context.Context, events []model.PositionEvent) error {
	if len(events) == 0 {
		return nil
	}
	records := make([]any, 0, len(events))
	for _, event := range events {
		records = append(records, event)
	}
	return s.appendLines(records)
}

func (s *JsonlStorage) appendLines(records []any) error {
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

	writer := bufio.NewWriter(file)
	for _, record := range records {
		line, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("marshal record: %w", err)
		}
		if _, err := writer.Write(line); err != nil {
			return fmt.Errorf("write record: %w", err)
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

// ReadRepositionEvents reads every reposition event in the file. A missing
// file yields no events.
func (s *JsonlStorage) ReadRepositionEvents() ([]model.RepositionEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return readLines[model.RepositionEvent](s.path)
}

// ReadPositionEvents reads every position event in the file.
func (s *JsonlStorage) ReadPositionEvents() ([]model.PositionEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return readLines[model.PositionEvent](s.path)
}

func readLines[T any](path string) ([]T, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open events: %w", err)
	}
	defer file.Close()

	var records []T
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var record T
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			return nil, fmt.Errorf("parse event line %d: %w", line, err)
		}
		records = append(records, record)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan events: %w", err)
	}
	return records, nil
}
