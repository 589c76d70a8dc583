// Package audit appends sanitized request/transaction events to a JSONL
// file with a size-based rotation ring and age-based purge. Writes are
// queued through a single writer goroutine so handlers never block on disk.
package audit

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Event is one audit line.
type Event struct {
	Timestamp string            `json:"ts"`
	Event     string            `json:"event"`
	RequestID string            `json:"request_id,omitempty"`
	Method    string            `json:"method,omitempty"`
	Path      string            `json:"path,omitempty"`
	Status    int               `json:"status,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
	Body      string            `json:"body,omitempty"`
	Meta      map[string]any    `json:"meta,omitempty"`
}

// Config controls the audit logger.
type Config struct {
	Enabled    bool
	Path       string
	MaxBytes   int64
	MaxFiles   int
	MaxAgeDays int
	Mode       Mode
	QueueSize  int
}

// Logger is the async JSONL audit writer. The zero-value disabled logger is
// safe to use.
type Logger struct {
	cfg  Config
	ch   chan Event
	done chan struct{}
	wg   sync.WaitGroup

	file *os.File
	size int64
}

// New opens the audit file and starts the writer and purge goroutines. A
// disabled config returns a no-op logger.
func New(cfg Config) (*Logger, error) {
	l := &Logger{cfg: cfg}
	if !cfg.Enabled {
		return l, nil
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
		l.cfg.QueueSize = 1000
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("create audit directory: %w", err)
	}
	if err := l.open(); err != nil {
		return nil, err
	}

	l.ch = make(chan Event, cfg.QueueSize)
	l.done = make(chan struct{})
	l.wg.Add(1)
	go l.writeLoop()
	go l.purgeLoop()
	return l, nil
}

// Log queues an event. Events are dropped, never blocked on, when the queue
// is full.
func (l *Logger) Log(e Event) {
	if l.ch == nil {
		return
	}
	if e.Timestamp == "" {
		e.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	select {
	case l.ch <- e:
	default:
		slog.Warn("audit queue full, dropping event", "event", e.Event)
	}
}

// Close flushes queued events and closes the file.
func (l *Logger) Close() error {
	if l.ch == nil {
		return nil
	}
	close(l.done)
	l.wg.Wait()
	return l.file.Close()
}

func (l *Logger) open() error {
	f, err := os.OpenFile(l.cfg.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("stat audit log: %w", err)
	}
	l.file = f
	l.size = info.Size()
	return nil
}

func (l *Logger) writeLoop() {
	defer l.wg.Done()
	for {
		select {
		case e := <-l.ch:
			l.write(e)
		case <-l.done:
			// Drain what is already queued before exiting.
			for {
				select {
				case e := <-l.ch:
					l.write(e)
				default:
					return
				}
			}
		}
	}
}

func (l *Logger) write(e Event) {
	line, err := json.Marshal(sanitize(e, l.cfg.Mode))
	if err != nil {
		slog.Error("failed to marshal audit event", "error", err, "event", e.Event)
		return
	}
	line = append(line, '\n')

	if l.cfg.MaxBytes > 0 && l.size+int64(len(line)) > l.cfg.MaxBytes {
		if err := l.rotate(); err != nil {
			slog.Error("audit rotation failed", "error", err)
		}
	}

	n, err := l.file.Write(line)
	if err != nil {
		slog.Error("failed to write audit event", "error", err)
		return
	}
	l.size += int64(n)
}

// rotate shifts the ring raw.jsonl -> raw.jsonl.1 -> ... -> raw.jsonl.N and
// reopens a fresh file.
func (l *Logger) rotate() error {
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("close audit log for rotation: %w", err)
	}

	maxFiles := l.cfg.MaxFiles
	if maxFiles <= 0 {
		maxFiles = 5
	}
	_ = os.Remove(fmt.Sprintf("%s.%d", l.cfg.Path, maxFiles))
	for i := maxFiles - 1; i >= 1; i-- {
		from := fmt.Sprintf("%s.%d", l.cfg.Path, i)
		if _, err := os.Stat(from); err == nil {
			_ = os.Rename(from, fmt.Sprintf("%s.%d", l.cfg.Path, i+1))
		}
	}
	if err := os.Rename(l.cfg.Path, l.cfg.Path+".1"); err != nil {
		return fmt.Errorf("rotate audit log: %w", err)
	}
	return l.open()
}

// purgeLoop removes ring files older than MaxAgeDays by mtime.
func (l *Logger) purgeLoop() {
	if l.cfg.MaxAgeDays <= 0 {
		return
	}
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.purgeOld()
		case <-l.done:
			return
		}
	}
}

func (l *Logger) purgeOld() {
	cutoff := time.Now().AddDate(0, 0, -l.cfg.MaxAgeDays)
	maxFiles := l.cfg.MaxFiles
	if maxFiles <= 0 {
		maxFiles = 5
	}
	for i := 1; i <= maxFiles; i++ {
		path := fmt.Sprintf("%s.%d", l.cfg.Path, i)
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(path); err != nil {
				slog.Warn("failed to purge old audit file", "path", path, "error", err)
			} else {
				slog.Info("purged old audit file", "path", path)
			}
		}
	}
}
