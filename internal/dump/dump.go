// Package dump writes every packet crossing a hub boundary to a JSON-lines
// file for offline debugging.
package dump

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/moeru-ai/airi-sub003/internal/protocol"
)

// FilePrefix and FileExt bracket every dump file name.
const (
	FilePrefix = "hub-"
	FileExt    = ".log"
)

// Sink is a packet dump file. Record is safe for concurrent use.
type Sink struct {
	mu     sync.Mutex
	file   *os.File
	logger zerolog.Logger
	closed bool
}

// FileName returns the dump file name for a start time, with the
// characters of the ISO timestamp that are awkward in file names replaced.
func FileName(start time.Time) string {
	ts := start.UTC().Format("2006-01-02T15:04:05.000Z07:00")
	ts = strings.NewReplacer(":", "-", ".", "-").Replace(ts)
	return FilePrefix + ts + FileExt
}

// Open creates dir if needed and a new dump file inside it.
func Open(dir string, start time.Time) (*Sink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create dump directory: %w", err)
	}
	path := filepath.Join(dir, FileName(start))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open dump file: %w", err)
	}

	logger := zerolog.New(f).With().Logger()
	return &Sink{file: f, logger: logger}, nil
}

// Path returns the dump file path.
func (s *Sink) Path() string {
	return s.file.Name()
}

// Record appends one packet line. Records after Close are dropped.
func (s *Sink) Record(direction string, phase protocol.Phase, name string, raw []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.logger.Log().
		Str("ts", time.Now().UTC().Format(time.RFC3339Nano)).
		Str("direction", direction).
		Str("state", string(phase)).
		Str("name", name).
		Int("size", len(raw)).
		Str("hex", hex.EncodeToString(raw)).
		Send()
}

// Close flushes and closes the file once.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.file.Sync(); err != nil {
		s.file.Close()
		return fmt.Errorf("failed to flush dump file: %w", err)
	}
	return s.file.Close()
}
