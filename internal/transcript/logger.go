// Package transcript writes per-session NDJSON transcripts of chat turns.
package transcript

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Config controls where transcripts are written.
type Config struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
}

// Event is one transcript line.
type Event struct {
	Timestamp  string         `json:"timestamp"`
	UserID     string         `json:"user_id"`
	SessionID  string         `json:"session_id"`
	Channel    string         `json:"channel"`
	Direction  string         `json:"direction"`
	EventType  string         `json:"event_type"`
	ContentRaw string         `json:"content_raw"`
	Content    string         `json:"content"`
	Meta       map[string]any `json:"meta,omitempty"`
}

// Logger records transcript events. Log never blocks the caller.
type Logger interface {
	Log(ev Event)
	Close() error
}

// Noop discards every event.
type Noop struct{}

func (Noop) Log(Event)    {}
func (Noop) Close() error { return nil }

// FileLogger appends events to dir/<user>/<session>.ndjson from a single
// writer goroutine. Events are dropped when the queue is full.
type FileLogger struct {
	cfg    Config
	logger *slog.Logger
	queue  chan Event
	wg     sync.WaitGroup

	mu      sync.RWMutex
	closed  bool
	dropped atomic.Int64
}

// New returns a FileLogger, or Noop when cfg.Enabled is false.
func New(cfg Config, logger *slog.Logger) (Logger, error) {
	if !cfg.Enabled {
		return Noop{}, nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("create transcript dir: %w", err)
	}
	if cfg.GlobalEnabled {
		if err := os.MkdirAll(filepath.Dir(cfg.GlobalPath), 0o750); err != nil {
			return nil, fmt.Errorf("create global transcript dir: %w", err)
		}
	}

	l := &FileLogger{
		cfg:    cfg,
		logger: logger,
		queue:  make(chan Event, cfg.QueueSize),
	}
	l.wg.Add(1)
	go l.run()
	return l, nil
}

// Log enqueues ev. Missing timestamp and cleaned content are filled in.
func (l *FileLogger) Log(ev Event) {
	if ev.Timestamp == "" {
		ev.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	if ev.Content == "" {
		ev.Content = CleanForReadability(ev.ContentRaw)
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return
	}
	select {
	case l.queue <- ev:
	default:
		l.dropped.Add(1)
		l.logger.Warn("Transcript queue full, dropping event",
			"user_id", ev.UserID, "session_id", ev.SessionID, "event_type", ev.EventType)
	}
}

// Close drains the queue and stops the writer.
func (l *FileLogger) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	close(l.queue)
	l.mu.Unlock()

	l.wg.Wait()
	if n := l.dropped.Load(); n > 0 {
		l.logger.Warn("Transcript events dropped", "count", n)
	}
	return nil
}

func (l *FileLogger) run() {
	defer l.wg.Done()
	for ev := range l.queue {
		line, err := json.Marshal(ev)
		if err != nil {
			l.logger.Warn("Failed to encode transcript event", "error", err)
			continue
		}
		line = append(line, '\n')

		path := filepath.Join(l.cfg.Dir, pathSegment(ev.UserID, "anonymous"), pathSegment(ev.SessionID, "no-session")+".ndjson")
		if err := appendLine(path, line); err != nil {
			l.logger.Warn("Failed to write transcript", "path", path, "error", err)
		}
		if l.cfg.GlobalEnabled {
			if err := appendLine(l.cfg.GlobalPath, line); err != nil {
				l.logger.Warn("Failed to write global transcript", "path", l.cfg.GlobalPath, "error", err)
			}
		}
	}
}

func appendLine(path string, line []byte) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, f.Close())
	}()
	_, err = f.Write(line)
	return err
}

var unsafeSegment = regexp.MustCompile(`[^a-zA-Z0-9_.-]`)

// pathSegment keeps ids from escaping the transcript directory.
func pathSegment(id, fallback string) string {
	id = unsafeSegment.ReplaceAllString(strings.TrimSpace(id), "_")
	id = strings.Trim(id, ".")
	if id == "" {
		return fallback
	}
	return id
}

var (
	ansiSequence = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]|\x1b\][^\x07]*\x07`)
	blankRuns    = regexp.MustCompile(`[ \t]+`)
)

// CleanForReadability strips terminal escape sequences and control
// characters and collapses runs of blanks.
func CleanForReadability(raw string) string {
	s := ansiSequence.ReplaceAllString(raw, "")
	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(blankRuns.ReplaceAllString(s, " "))
}
