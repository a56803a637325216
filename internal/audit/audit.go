package audit

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Category string

const (
	CategorySTKPush  Category = "stkpush"
	CategoryCallback Category = "callback"
	CategoryMock     Category = "mock"
)

var ErrClosed = errors.New("audit log closed")

const bufferSize = 256

// Recorder accepts audit entries. Implementations never block the caller.
type Recorder interface {
	Record(category Category, payload any)
}

// Entry is one line of an audit file.
type Entry struct {
	ID        uuid.UUID `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Category  Category  `json:"category"`
	Payload   any       `json:"payload"`
}

// Logger appends entries as JSON lines to <dir>/<category>.log from a single
// writer goroutine.
type Logger struct {
	dir     string
	logger  *slog.Logger
	entries chan Entry
	done    chan struct{}
	now     func() time.Time

	mu     sync.RWMutex
	closed bool
	files  map[Category]*os.File
}

func New(dir string, logger *slog.Logger) (*Logger, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating audit directory: %w", err)
	}

	l := &Logger{
		dir:     dir,
		logger:  logger.With("component", "audit"),
		entries: make(chan Entry, bufferSize),
		done:    make(chan struct{}),
		now:     time.Now,
		files:   make(map[Category]*os.File),
	}

	go l.write()

	return l, nil
}

// Record queues an entry. When the buffer is full the entry is dropped.
// A []byte payload holding valid JSON is embedded as is.
func (l *Logger) Record(category Category, payload any) {
	if raw, ok := payload.([]byte); ok {
		payload = rawPayload(raw)
	}

	entry := Entry{
		ID:        uuid.New(),
		Timestamp: l.now().UTC(),
		Category:  category,
		Payload:   payload,
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.closed {
		return
	}

	select {
	case l.entries <- entry:
	default:
		l.logger.Warn("audit entry dropped", "category", category)
	}
}

func rawPayload(raw []byte) any {
	if json.Valid(raw) {
		return json.RawMessage(raw)
	}

	return string(raw)
}

func (l *Logger) write() {
	defer close(l.done)

	for entry := range l.entries {
		if err := l.append(entry); err != nil {
			l.logger.Error("failed to write audit entry", "category", entry.Category, "error", err)
		}
	}

	for category, f := range l.files {
		if err := f.Close(); err != nil {
			l.logger.Error("failed to close audit file", "category", category, "error", err)
		}
	}
}

func (l *Logger) append(entry Entry) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encoding entry: %w", err)
	}

	f, ok := l.files[entry.Category]
	if !ok {
		path := filepath.Join(l.dir, string(entry.Category)+".log")

		f, err = os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("opening %s: %w", path, err)
		}

		l.files[entry.Category] = f
	}

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("writing entry: %w", err)
	}

	return nil
}

// Close flushes queued entries and closes the files.
func (l *Logger) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}

	l.closed = true
	close(l.entries)
	l.mu.Unlock()

	<-l.done

	return nil
}

// Nop discards every entry.
type Nop struct{}

func (Nop) Record(Category, any) {}
